// Package synth injects the recovered camera intrinsics into the downstream
// reconstruction algorithm's configuration. Only the camera_params block is
// touched; every other field passes through byte-for-byte.
package synth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/splatprep/splatprep/splatprep"
)

// Every intrinsic field must already exist in the downstream camera block; a
// config without them is rejected rather than silently extended.
var requiredFields = []string{"fx", "fy", "cx", "cy", "image_width", "image_height", "png_depth_scale"}

// Synthesize overwrites the intrinsic fields of the base configuration with
// the calibrated values. The overwrite is all-or-nothing: validation happens
// before any field changes, so callers never observe a partially updated
// config.
func Synthesize(base []byte, intr splatprep.CameraIntrinsics, maxDepth float64) ([]byte, error) {
	if err := intr.Validate(); err != nil {
		return nil, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(base, &top); err != nil {
		return nil, fmt.Errorf("config parse: %v", err)
	}
	raw, ok := top["camera_params"]
	if !ok {
		return nil, splatprep.SchemaMismatchError{Field: "camera_params"}
	}
	var cam map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cam); err != nil {
		return nil, splatprep.SchemaMismatchError{Field: "camera_params"}
	}
	for _, field := range requiredFields {
		if _, ok := cam[field]; !ok {
			return nil, splatprep.SchemaMismatchError{Field: "camera_params." + field}
		}
	}

	cam["fx"] = splatprep.JsonMarshal(intr.Fx)
	cam["fy"] = splatprep.JsonMarshal(intr.Fy)
	cam["cx"] = splatprep.JsonMarshal(intr.Cx)
	cam["cy"] = splatprep.JsonMarshal(intr.Cy)
	cam["image_width"] = splatprep.JsonMarshal(intr.Width)
	cam["image_height"] = splatprep.JsonMarshal(intr.Height)
	// downstream divides stored integers by this to get depth values
	cam["png_depth_scale"] = splatprep.JsonMarshal(65535.0 / maxDepth)

	top["camera_params"] = splatprep.JsonMarshal(cam)
	return json.MarshalIndent(top, "", "    ")
}

// SynthesizeFile reads the base config, synthesizes, and writes the result
// atomically (temp file + rename) so a crash never leaves a half-written
// config.
func SynthesizeFile(basePath string, outPath string, intr splatprep.CameraIntrinsics, maxDepth float64) error {
	base, err := os.ReadFile(basePath)
	if err != nil {
		return fmt.Errorf("read base config: %v", err)
	}
	out, err := Synthesize(base, intr, maxDepth)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".config-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), outPath)
}

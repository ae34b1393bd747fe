package splatprep

import (
	"errors"
	"testing"
)

func TestIntrinsicsValidate(t *testing.T) {
	good := CameraIntrinsics{Fx: 600, Fy: 600, Cx: 320, Cy: 240, Width: 640, Height: 480}
	if err := good.Validate(); err != nil {
		t.Errorf("valid intrinsics rejected: %v", err)
	}

	checkBad := func(name string, intr CameraIntrinsics) {
		err := intr.Validate()
		if err == nil {
			t.Errorf("%s: expected error", name)
			return
		}
		var degen DegenerateCalibrationError
		if !errors.As(err, &degen) {
			t.Errorf("%s: got %T; want DegenerateCalibrationError", name, err)
		}
	}

	bad := good
	bad.Fx = 0
	checkBad("zero fx", bad)

	bad = good
	bad.Fy = -100
	checkBad("negative fy", bad)

	bad = good
	bad.Cx = -1
	checkBad("cx below image", bad)

	bad = good
	bad.Cx = 641
	checkBad("cx past image", bad)

	bad = good
	bad.Cy = 480.5
	checkBad("cy past image", bad)

	bad = good
	bad.Width = 0
	checkBad("zero width", bad)
}

func TestIntrinsicsValidateEdges(t *testing.T) {
	// principal point exactly on the image border is still usable
	intr := CameraIntrinsics{Fx: 1, Fy: 1, Cx: 0, Cy: 480, Width: 640, Height: 480}
	if err := intr.Validate(); err != nil {
		t.Errorf("border principal point rejected: %v", err)
	}
}

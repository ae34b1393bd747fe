package depth

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/splatprep/splatprep/splatprep"
)

// Stream protocol with the model subprocess: each packet is a 4-byte
// big-endian length, a JSON header, then a raw payload. Requests carry rgb24
// pixels; responses carry a float32 little-endian depth raster, which may be
// at a lower resolution than the input.

type requestHeader struct {
	Index  int
	Width  int
	Height int
}

type responseHeader struct {
	Index  int
	Width  int
	Height int
	// Non-empty if the model could not produce depth for this frame.
	Error string
}

type modelProc struct {
	cmd    *splatprep.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func startModelProc(modelCmd []string) (*modelProc, error) {
	cmd, err := splatprep.Command("depth-model", splatprep.CommandOptions{OnlyDebug: true}, modelCmd[0], modelCmd[1:]...)
	if err != nil {
		return nil, err
	}
	return &modelProc{
		cmd:    cmd,
		stdin:  cmd.Stdin(),
		stdout: cmd.Stdout(),
	}, nil
}

func (p *modelProc) Infer(frame splatprep.FrameRecord, im splatprep.Image) (splatprep.DepthMap, error) {
	req := requestHeader{Index: frame.Index, Width: im.Width, Height: im.Height}
	if err := splatprep.WriteJSONData(req, p.stdin); err != nil {
		return splatprep.DepthMap{}, err
	}
	if _, err := p.stdin.Write(im.Bytes); err != nil {
		return splatprep.DepthMap{}, err
	}

	var resp responseHeader
	if err := splatprep.ReadJSONData(p.stdout, &resp); err != nil {
		return splatprep.DepthMap{}, err
	}
	if resp.Error != "" {
		return splatprep.DepthMap{}, fmt.Errorf("model: %s", resp.Error)
	}
	if resp.Index != frame.Index {
		return splatprep.DepthMap{}, fmt.Errorf("model answered frame %d, want %d", resp.Index, frame.Index)
	}
	if resp.Width <= 0 || resp.Height <= 0 {
		return splatprep.DepthMap{}, fmt.Errorf("model returned bad dimensions %dx%d", resp.Width, resp.Height)
	}
	buf := make([]byte, resp.Width*resp.Height*4)
	if _, err := io.ReadFull(p.stdout, buf); err != nil {
		return splatprep.DepthMap{}, err
	}
	values := make([]float32, resp.Width*resp.Height)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return splatprep.NewDepthMap(frame.Index, resp.Width, resp.Height, values)
}

func (p *modelProc) Close() {
	p.cmd.Wait()
}

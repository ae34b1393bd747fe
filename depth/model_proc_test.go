package depth

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/splatprep/splatprep/splatprep"
)

// fakeModel speaks the model side of the stream protocol over pipes.
func fakeModel(t *testing.T, in io.Reader, out io.Writer, respond func(requestHeader, []byte) (responseHeader, []float32)) {
	for {
		var req requestHeader
		if err := splatprep.ReadJSONData(in, &req); err != nil {
			return
		}
		pixels := make([]byte, req.Width*req.Height*3)
		if _, err := io.ReadFull(in, pixels); err != nil {
			t.Errorf("model read pixels: %v", err)
			return
		}
		resp, values := respond(req, pixels)
		if err := splatprep.WriteJSONData(resp, out); err != nil {
			t.Errorf("model write header: %v", err)
			return
		}
		buf := make([]byte, len(values)*4)
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if _, err := out.Write(buf); err != nil {
			t.Errorf("model write values: %v", err)
			return
		}
	}
}

func pipedModelProc(t *testing.T, respond func(requestHeader, []byte) (responseHeader, []float32)) *modelProc {
	reqRd, reqWr := io.Pipe()
	respRd, respWr := io.Pipe()
	go fakeModel(t, reqRd, respWr, respond)
	return &modelProc{stdin: reqWr, stdout: respRd}
}

func TestModelProcInfer(t *testing.T) {
	proc := pipedModelProc(t, func(req requestHeader, pixels []byte) (responseHeader, []float32) {
		values := make([]float32, req.Width*req.Height)
		for i := range values {
			// depth derived from the red channel so the test can verify the
			// pixels actually crossed the pipe
			values[i] = float32(pixels[i*3]) / 10
		}
		return responseHeader{Index: req.Index, Width: req.Width, Height: req.Height}, values
	})

	im := splatprep.NewImage(4, 2)
	im.SetRGB(1, 0, [3]uint8{50, 0, 0})
	frame := splatprep.FrameRecord{Index: 7, Width: 4, Height: 2}
	dm, err := proc.Infer(frame, im)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if dm.FrameIndex != 7 || dm.Width != 4 || dm.Height != 2 {
		t.Fatalf("depth map = %dx%d frame %d", dm.Width, dm.Height, dm.FrameIndex)
	}
	if dm.Values[1] != 5 {
		t.Errorf("value at pixel 1 = %v; want 5", dm.Values[1])
	}
	if dm.Values[0] != 0 {
		t.Errorf("value at pixel 0 = %v; want 0", dm.Values[0])
	}
}

func TestModelProcModelError(t *testing.T) {
	proc := pipedModelProc(t, func(req requestHeader, pixels []byte) (responseHeader, []float32) {
		return responseHeader{Index: req.Index, Error: "out of memory"}, nil
	})
	frame := splatprep.FrameRecord{Index: 0, Width: 2, Height: 2}
	if _, err := proc.Infer(frame, splatprep.NewImage(2, 2)); err == nil {
		t.Errorf("expected error from model failure response")
	}
}

func TestModelProcIndexMismatch(t *testing.T) {
	proc := pipedModelProc(t, func(req requestHeader, pixels []byte) (responseHeader, []float32) {
		return responseHeader{Index: req.Index + 1, Width: req.Width, Height: req.Height},
			make([]float32, req.Width*req.Height)
	})
	frame := splatprep.FrameRecord{Index: 3, Width: 2, Height: 2}
	if _, err := proc.Infer(frame, splatprep.NewImage(2, 2)); err == nil {
		t.Errorf("expected error on frame index mismatch")
	}
}

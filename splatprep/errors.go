package splatprep

import (
	"errors"
	"fmt"
)

// Per-frame failures drop the frame and the run continues. Run-level failures
// abort the run before any later stage is invoked.

// SourceUnavailableError means the input video could not be opened or probed.
type SourceUnavailableError struct {
	Path string
	Err  error
}

func (e SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.Path, e.Err)
}

func (e SourceUnavailableError) Unwrap() error { return e.Err }

// DecodeError means a single frame could not be decoded from the video.
type DecodeError struct {
	Frame int
	Err   error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decode error on frame %d: %v", e.Frame, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// InferenceError means depth inference failed for a single frame.
type InferenceError struct {
	Frame int
	Err   error
}

func (e InferenceError) Error() string {
	return fmt.Sprintf("inference error on frame %d: %v", e.Frame, e.Err)
}

func (e InferenceError) Unwrap() error { return e.Err }

// InsufficientRegistrationError means too few frames registered during
// calibration to form any reconstruction.
type InsufficientRegistrationError struct {
	Registered int
	Needed     int
}

func (e InsufficientRegistrationError) Error() string {
	return fmt.Sprintf("insufficient registration: %d frames registered, need at least %d", e.Registered, e.Needed)
}

// DegenerateCalibrationError means the recovered intrinsics fail sanity
// bounds and must not be propagated downstream.
type DegenerateCalibrationError struct {
	Intrinsics CameraIntrinsics
	Reason     string
}

func (e DegenerateCalibrationError) Error() string {
	return fmt.Sprintf("degenerate calibration (%s): fx=%v fy=%v cx=%v cy=%v %dx%d",
		e.Reason, e.Intrinsics.Fx, e.Intrinsics.Fy, e.Intrinsics.Cx, e.Intrinsics.Cy,
		e.Intrinsics.Width, e.Intrinsics.Height)
}

// SchemaMismatchError means the downstream configuration lacks a field that
// the synthesizer needs to overwrite.
type SchemaMismatchError struct {
	Field string
}

func (e SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: config missing field %q", e.Field)
}

// ErrEmptyDataset means no frame ended up with a complete RGB+depth+pose
// triple. This is the only assembler condition that aborts the run.
var ErrEmptyDataset = errors.New("empty dataset: no frame has a complete rgb+depth+pose triple")

// Exit codes per run-level failure kind, so callers can distinguish them
// without parsing output.
const (
	ExitOK                       = 0
	ExitFailure                  = 1
	ExitSourceUnavailable        = 10
	ExitInsufficientRegistration = 11
	ExitDegenerateCalibration    = 12
	ExitSchemaMismatch           = 13
	ExitEmptyDataset             = 14
)

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var src SourceUnavailableError
	var insuf InsufficientRegistrationError
	var degen DegenerateCalibrationError
	var schema SchemaMismatchError
	switch {
	case errors.As(err, &src):
		return ExitSourceUnavailable
	case errors.As(err, &insuf):
		return ExitInsufficientRegistration
	case errors.As(err, &degen):
		return ExitDegenerateCalibration
	case errors.As(err, &schema):
		return ExitSchemaMismatch
	case errors.Is(err, ErrEmptyDataset):
		return ExitEmptyDataset
	}
	return ExitFailure
}

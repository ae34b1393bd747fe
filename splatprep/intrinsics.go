package splatprep

// CameraIntrinsics is the pinhole model for the whole run. The input video
// comes from one camera at fixed zoom, so exactly one value is valid per run.
type CameraIntrinsics struct {
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// Validate rejects intrinsics that a downstream tracker would silently
// diverge on: non-positive focal lengths or a principal point outside the
// image bounds.
func (intr CameraIntrinsics) Validate() error {
	if intr.Width <= 0 || intr.Height <= 0 {
		return DegenerateCalibrationError{Intrinsics: intr, Reason: "non-positive image dimensions"}
	}
	if intr.Fx <= 0 || intr.Fy <= 0 {
		return DegenerateCalibrationError{Intrinsics: intr, Reason: "non-positive focal length"}
	}
	if intr.Cx < 0 || intr.Cx > float64(intr.Width) {
		return DegenerateCalibrationError{Intrinsics: intr, Reason: "principal point x outside image"}
	}
	if intr.Cy < 0 || intr.Cy > float64(intr.Height) {
		return DegenerateCalibrationError{Intrinsics: intr, Reason: "principal point y outside image"}
	}
	return nil
}

package splatprep

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	xdraw "golang.org/x/image/draw"
)

// DepthMap holds relative (unscaled) depth values for one frame. Values are
// meaningful only up to a per-run scale; nothing here guarantees metric
// accuracy.
type DepthMap struct {
	FrameIndex int
	Width      int
	Height     int
	Values     []float32
}

func NewDepthMap(frameIndex int, width int, height int, values []float32) (DepthMap, error) {
	if len(values) != width*height {
		return DepthMap{}, fmt.Errorf("depth map has %d values, want %d", len(values), width*height)
	}
	return DepthMap{
		FrameIndex: frameIndex,
		Width:      width,
		Height:     height,
		Values:     values,
	}, nil
}

// Quantize produces the 16-bit raster that gets persisted. Values are clamped
// to [0, maxDepth] and mapped linearly onto the full uint16 range, so the
// stored integer scale is maxDepth/65535. Out-of-range values clamp, never
// wrap.
func (d DepthMap) Quantize(maxDepth float64) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
	scale := 65535.0 / maxDepth
	for j := 0; j < d.Height; j++ {
		for i := 0; i < d.Width; i++ {
			v := float64(d.Values[j*d.Width+i])
			if v < 0 {
				v = 0
			} else if v > maxDepth {
				v = maxDepth
			}
			q := uint16(v * scale)
			off := j*out.Stride + i*2
			out.Pix[off] = uint8(q >> 8)
			out.Pix[off+1] = uint8(q)
		}
	}
	return out
}

// Upsample resizes the depth map to width x height with bilinear
// interpolation. Depth goes through a 16-bit raster, which costs nothing
// beyond the quantization the output encoding applies anyway.
func (d DepthMap) Upsample(width int, height int, maxDepth float64) DepthMap {
	if width == d.Width && height == d.Height {
		return d
	}
	src := d.Quantize(maxDepth)
	dst := image.NewGray16(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	values := make([]float32, width*height)
	scale := maxDepth / 65535.0
	for j := 0; j < height; j++ {
		for i := 0; i < width; i++ {
			off := j*dst.Stride + i*2
			q := uint16(dst.Pix[off])<<8 | uint16(dst.Pix[off+1])
			values[j*width+i] = float32(float64(q) * scale)
		}
	}
	return DepthMap{
		FrameIndex: d.FrameIndex,
		Width:      width,
		Height:     height,
		Values:     values,
	}
}

func (d DepthMap) WritePNG16(w io.Writer, maxDepth float64) error {
	return png.Encode(w, d.Quantize(maxDepth))
}

func (d DepthMap) SaveAsPNG16(fname string, maxDepth float64) error {
	file, err := os.Create(fname)
	if err != nil {
		return err
	}
	if err := d.WritePNG16(file, maxDepth); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadDepthPNG16 reads back a quantized depth image.
func LoadDepthPNG16(fname string, frameIndex int, maxDepth float64) (DepthMap, error) {
	file, err := os.Open(fname)
	if err != nil {
		return DepthMap{}, err
	}
	defer file.Close()
	im, err := png.Decode(file)
	if err != nil {
		return DepthMap{}, err
	}
	gray, ok := im.(*image.Gray16)
	if !ok {
		return DepthMap{}, fmt.Errorf("%s: not a 16-bit grayscale png", fname)
	}
	rect := gray.Bounds()
	width, height := rect.Dx(), rect.Dy()
	values := make([]float32, width*height)
	scale := maxDepth / 65535.0
	for j := 0; j < height; j++ {
		for i := 0; i < width; i++ {
			off := (j+rect.Min.Y)*gray.Stride + (i+rect.Min.X)*2
			q := uint16(gray.Pix[off])<<8 | uint16(gray.Pix[off+1])
			values[j*width+i] = float32(float64(q) * scale)
		}
	}
	return DepthMap{
		FrameIndex: frameIndex,
		Width:      width,
		Height:     height,
		Values:     values,
	}, nil
}

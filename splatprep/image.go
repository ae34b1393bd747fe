package splatprep

import (
	"image"
	"image/png"
	"io"
	"os"

	xdraw "golang.org/x/image/draw"
)

// Image is a packed 24-bit RGB raster.
type Image struct {
	Width  int
	Height int
	Bytes  []byte
}

func NewImage(width int, height int) Image {
	return Image{
		Width:  width,
		Height: height,
		Bytes:  make([]byte, 3*width*height),
	}
}

func ImageFromBytes(width int, height int, bytes []byte) Image {
	return Image{
		Width:  width,
		Height: height,
		Bytes:  bytes,
	}
}

func ImageFromGoImage(im image.Image) Image {
	rect := im.Bounds()
	width := rect.Dx()
	height := rect.Dy()
	bytes := make([]byte, width*height*3)
	for i := 0; i < width; i++ {
		for j := 0; j < height; j++ {
			r, g, b, _ := im.At(i+rect.Min.X, j+rect.Min.Y).RGBA()
			bytes[(j*width+i)*3+0] = uint8(r >> 8)
			bytes[(j*width+i)*3+1] = uint8(g >> 8)
			bytes[(j*width+i)*3+2] = uint8(b >> 8)
		}
	}
	return Image{
		Width:  width,
		Height: height,
		Bytes:  bytes,
	}
}

func ImageFromPNGReader(rd io.Reader) (Image, error) {
	im, err := png.Decode(rd)
	if err != nil {
		return Image{}, err
	}
	return ImageFromGoImage(im), nil
}

func ImageFromFile(fname string) (Image, error) {
	file, err := os.Open(fname)
	if err != nil {
		return Image{}, err
	}
	defer file.Close()
	return ImageFromPNGReader(file)
}

func (im Image) AsImage() *image.RGBA {
	pixbuf := make([]byte, im.Width*im.Height*4)
	j := 0
	channels := 0
	for i := range im.Bytes {
		pixbuf[j] = im.Bytes[i]
		j++
		channels++
		if channels == 3 {
			pixbuf[j] = 255
			j++
			channels = 0
		}
	}
	return &image.RGBA{
		Pix:    pixbuf,
		Stride: im.Width * 4,
		Rect:   image.Rect(0, 0, im.Width, im.Height),
	}
}

func (im Image) WritePNG(w io.Writer) error {
	return png.Encode(w, im.AsImage())
}

func (im Image) SaveAsPNG(fname string) error {
	file, err := os.Create(fname)
	if err != nil {
		return err
	}
	if err := im.WritePNG(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (im Image) SetRGB(i int, j int, color [3]uint8) {
	for channel := 0; channel < 3; channel++ {
		im.Bytes[(j*im.Width+i)*3+channel] = color[channel]
	}
}

func (im Image) GetRGB(i int, j int) [3]uint8 {
	var color [3]uint8
	for channel := 0; channel < 3; channel++ {
		color[channel] = im.Bytes[(j*im.Width+i)*3+channel]
	}
	return color
}

func (im Image) Copy() Image {
	bytes := make([]byte, len(im.Bytes))
	copy(bytes, im.Bytes)
	return ImageFromBytes(im.Width, im.Height, bytes)
}

// ToGray converts to a grayscale image using the BT.601 luma weights.
func (im Image) ToGray() *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	for j := 0; j < im.Height; j++ {
		for i := 0; i < im.Width; i++ {
			off := (j*im.Width + i) * 3
			r := int(im.Bytes[off+0])
			g := int(im.Bytes[off+1])
			b := int(im.Bytes[off+2])
			gray.Pix[j*gray.Stride+i] = uint8((299*r + 587*g + 114*b) / 1000)
		}
	}
	return gray
}

// Resize scales to width x height with Catmull-Rom interpolation.
func (im Image) Resize(width int, height int) Image {
	if width == im.Width && height == im.Height {
		return im
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Rect, im.AsImage(), image.Rect(0, 0, im.Width, im.Height), xdraw.Src, nil)
	return ImageFromGoImage(dst)
}

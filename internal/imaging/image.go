// Package imaging decodes uploaded images and turns them into normalized
// pixel vectors for the classifier.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/samcharles93/medaiml/internal/errs"
)

// InputSize is the square edge every image is resized to before
// classification.
const InputSize = 224

// Channels is the number of color channels kept (alpha is dropped).
const Channels = 3

// MaxPixels caps width*height of an accepted image. Decoding allocates the
// whole pixel buffer up front, so the header is checked against this before
// any pixel data is read. 1<<25 admits an 8K frame.
const MaxPixels = 1 << 25

// Dataset is one validated image submission. Image holds the original
// encoded bytes.
type Dataset struct {
	Image  []byte `json:"image"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Decode parses b as any registered image format. Images whose header
// declares more than MaxPixels pixels are rejected before decoding.
func Decode(b []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, "", &errs.ImageDecodeError{Err: err}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", &errs.ImageDecodeError{
			Err: fmt.Errorf("image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, MaxPixels),
		}
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", &errs.ImageDecodeError{Err: err}
	}
	return img, format, nil
}

// Inspect decodes b and reports its format and size.
func Inspect(b []byte) (Dataset, error) {
	img, format, err := Decode(b)
	if err != nil {
		return Dataset{}, err
	}
	bounds := img.Bounds()
	return Dataset{
		Image:  b,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// Resize scales img to exactly width x height with a bilinear filter,
// ignoring the aspect ratio.
func Resize(img image.Image, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d: %w", width, height, errs.ErrInvalidInput)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// PixelsHWC returns the RGB values of img scaled to [0, 1], interleaved per
// pixel in row-major order.
func PixelsHWC(img *image.NRGBA) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy()*Channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+Channels]
			out = append(out, float32(p[0])/255, float32(p[1])/255, float32(p[2])/255)
		}
	}
	return out
}

// PixelsCHW returns the same values as PixelsHWC laid out as one plane per
// channel.
func PixelsCHW(img *image.NRGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, plane*Channels)
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			for c := range Channels {
				out[c*plane+y*w+x] = float32(row[x*4+c]) / 255
			}
		}
	}
	return out
}

// Prepare decodes b and resizes it to InputSize x InputSize.
func Prepare(b []byte) (*image.NRGBA, error) {
	img, _, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return Resize(img, InputSize, InputSize)
}

package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/nfnt/resize"
)

// ModelInputSize is the square edge length the segmentation model expects.
const ModelInputSize = 1024

// ErrMaskMismatch indicates a mask that cannot be matched to the input image.
var ErrMaskMismatch = errors.New("mask dimensions do not match image")

// PrepareModelInput scales the image to the model's square input resolution
// and encodes it as PNG for upload to the model server.
func PrepareModelInput(img image.Image) ([]byte, error) {
	scaled := resize.Resize(ModelInputSize, ModelInputSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("encode model input: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMask decodes the model's PNG response into a grayscale mask.
func DecodeMask(data []byte) (*image.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	return toGray(img), nil
}

// NormalizeMask stretches mask values to cover the full 0-255 range so weak
// model confidences still produce usable transparency. A flat mask (a single
// value everywhere) is returned unchanged.
func NormalizeMask(mask *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, v := range mask.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo >= hi {
		return mask
	}

	out := image.NewGray(mask.Bounds())
	span := int(hi) - int(lo)
	for i, v := range mask.Pix {
		out.Pix[i] = uint8((int(v) - int(lo)) * 255 / span)
	}
	return out
}

// ResizeMask scales a mask to the target dimensions with bilinear filtering.
func ResizeMask(mask *image.Gray, width, height int) *image.Gray {
	if mask.Bounds().Dx() == width && mask.Bounds().Dy() == height {
		return mask
	}
	scaled := resize.Resize(uint(width), uint(height), mask, resize.Bilinear)
	return toGray(scaled)
}

// ApplyMask sets the mask as the alpha channel of the image, producing the
// final foreground cutout. The mask must already match the image dimensions.
func ApplyMask(img image.Image, mask *image.Gray) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if mask.Bounds().Dx() != bounds.Dx() || mask.Bounds().Dy() != bounds.Dy() {
		return nil, ErrMaskMismatch
	}

	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			a := mask.GrayAt(mask.Bounds().Min.X+x, mask.Bounds().Min.Y+y).Y
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8(r >> 8),
				G: uint8(g >> 8),
				B: uint8(b >> 8),
				A: a,
			})
		}
	}
	return out, nil
}

// EncodePNG serializes the image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

package segmenter

import (
	"context"
	"errors"
)

// ErrInference indicates the model server failed to produce a mask. The HTTP
// boundary maps it to a bad gateway response.
var ErrInference = errors.New("model inference failed")

// Client exposes the single operation the removal flow needs from the
// segmentation model: image in, foreground mask out. Both sides of the call
// carry PNG bytes; the mask is grayscale with foreground confidence per pixel.
type Client interface {
	Segment(ctx context.Context, imageData []byte) ([]byte, error)
}

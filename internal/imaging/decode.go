package imaging

import (
	"bytes"
	"errors"
	"image"
	"net/http"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat indicates the payload is not one of the accepted
	// raster formats. Maps to 415 at the HTTP boundary.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrNotAnImage indicates the payload claimed a supported type but could
	// not be decoded. Maps to 400 at the HTTP boundary.
	ErrNotAnImage = errors.New("image data could not be decoded")
)

// acceptedTypes lists the sniffed content types the service will decode.
var acceptedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// tiffLittleEndian and tiffBigEndian are the two TIFF header signatures.
// http.DetectContentType follows the WHATWG sniff table, which has no TIFF
// entry, so TIFF has to be recognized by hand.
var (
	tiffLittleEndian = []byte{'I', 'I', 0x2A, 0x00}
	tiffBigEndian    = []byte{'M', 'M', 0x00, 0x2A}
)

// SniffContentType reports the detected content type of the payload.
func SniffContentType(data []byte) string {
	if len(data) >= 4 {
		if bytes.Equal(data[:4], tiffLittleEndian) || bytes.Equal(data[:4], tiffBigEndian) {
			return "image/tiff"
		}
	}
	return http.DetectContentType(data)
}

// IsAcceptedType reports whether the sniffed content type is decodable here.
func IsAcceptedType(contentType string) bool {
	return acceptedTypes[contentType]
}

// Decode validates and decodes an uploaded payload into an image.
// It returns ErrUnsupportedFormat for payloads outside the accepted formats
// and ErrNotAnImage when a supported format fails to decode.
func Decode(data []byte) (image.Image, string, error) {
	contentType := SniffContentType(data)
	if !IsAcceptedType(contentType) {
		return nil, contentType, ErrUnsupportedFormat
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, contentType, ErrNotAnImage
	}
	return img, format, nil
}

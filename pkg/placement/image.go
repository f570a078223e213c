package placement

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var (
	ErrNotImage      = errors.New("payload is not a decodable image")
	ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")
)

// DefaultMaxPixels bounds width*height of accepted images (40 megapixels).
const DefaultMaxPixels = 40_000_000

// Info describes a decoded image payload.
type Info struct {
	Width       int
	Height      int
	Format      string
	ContentType string
}

// Inspect decodes data to verify it is an image and records its dimensions.
// The header is checked against maxPixels before the pixels are decoded;
// maxPixels <= 0 means DefaultMaxPixels.
func Inspect(data []byte, maxPixels int64) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty payload", ErrNotImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrNotImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return Info{}, fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	b := img.Bounds()
	return Info{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Format:      format,
		ContentType: "image/" + format,
	}, nil
}

// Package photo normalizes camera and gallery images into the
// transmittable encoding: bounded decode, EXIF rotation correction,
// uniform downscale, JPEG re-encode, base64.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/disintegration/imaging"

	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
)

// ErrUnreadable indicates the source could not be decoded. Unreadable
// sources, zero-byte input, and stream I/O failures all collapse into
// this one failure; partial output is never returned.
var ErrUnreadable = errors.New("photo: unreadable image")

// Config holds the pipeline output bounds.
type Config struct {
	// MaxWidth and MaxHeight bound the output dimensions. Default 800.
	MaxWidth  int
	MaxHeight int

	// Quality is the JPEG re-encode quality, 0-100. Default 80.
	Quality int
}

func (c *Config) defaults() {
	if c.MaxWidth == 0 {
		c.MaxWidth = 800
	}
	if c.MaxHeight == 0 {
		c.MaxHeight = 800
	}
	if c.Quality == 0 {
		c.Quality = 80
	}
}

func (c *Config) validate() error {
	if c.MaxWidth < 1 || c.MaxHeight < 1 {
		return fmt.Errorf("photo: max dimensions must be positive, got %dx%d", c.MaxWidth, c.MaxHeight)
	}
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("photo: quality must be 0-100, got %d", c.Quality)
	}
	return nil
}

// Pipeline encodes image sources. It holds no state across calls; each
// invocation is independent.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// NewPipeline creates a pipeline with the given bounds.
func NewPipeline(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// EncodeFile encodes the image at path.
func (p *Pipeline) EncodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	return p.EncodeBytes(data)
}

// Encode reads the whole source and encodes it.
func (p *Pipeline) Encode(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return p.EncodeBytes(data)
}

// EncodeBytes runs the full normalization pipeline over a compressed
// image source and returns the base64 text of the re-encoded JPEG, with
// no line wrapping and no content-type prefix.
//
// Each intermediate assigns over its predecessor so superseded pixel
// buffers become collectable before the next stage allocates.
func (p *Pipeline) EncodeBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty input", ErrUnreadable)
	}

	// Bounds only; no pixel buffer is allocated yet.
	bounds, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	factor := sampleFactor(bounds.Width, bounds.Height, p.cfg.MaxWidth, p.cfg.MaxHeight)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return "", fmt.Errorf("%w: zero-size decode", ErrUnreadable)
	}

	// Coarse power-of-two reduction first, nearest-neighbor: the cheap
	// stand-in for decode-time subsampling that keeps peak memory small
	// for very large sources before the quality stages run.
	if factor > 1 {
		img = imaging.Resize(img, bounds.Width/factor, bounds.Height/factor, imaging.NearestNeighbor)
	}

	img = correctOrientation(img, readOrientation(data))
	img = p.fitWithin(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.cfg.Quality)); err != nil {
		return "", fmt.Errorf("%w: re-encode: %v", ErrUnreadable, err)
	}

	p.logger.Debug("image encoded",
		"source", fmt.Sprintf("%dx%d", bounds.Width, bounds.Height),
		"sample_factor", factor,
		"output", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
		"bytes", buf.Len())

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// sampleFactor computes the largest power-of-two reduction that keeps
// half the native size at or above the targets. Starting at 1 and
// doubling bounds peak decode memory for large sources.
func sampleFactor(width, height, maxWidth, maxHeight int) int {
	factor := 1
	if height > maxHeight || width > maxWidth {
		halfHeight := height / 2
		halfWidth := width / 2
		for halfHeight/factor >= maxHeight && halfWidth/factor >= maxWidth {
			factor *= 2
		}
	}
	return factor
}

// fitWithin scales the image down with a single uniform factor so
// neither dimension exceeds the configured maxima. Images already
// within bounds pass through untouched.
func (p *Pipeline) fitWithin(img image.Image) image.Image {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width <= p.cfg.MaxWidth && height <= p.cfg.MaxHeight {
		return img
	}

	scale := math.Min(
		float64(p.cfg.MaxWidth)/float64(width),
		float64(p.cfg.MaxHeight)/float64(height))
	newWidth := int(math.Round(float64(width) * scale))
	newHeight := int(math.Round(float64(height) * scale))

	return imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
}

// Package ocr extracts caption text from downloaded assets, either with a
// local tesseract binary or from imported batch files.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// SourceLocal is the recognizedText key of the local engine.
const SourceLocal = "local"

// Recognizer returns the text found in an image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Region is the rectangle, relative to the image origin, that holds the caption.
type Region struct {
	X      int `mapstructure:"x"`
	Y      int `mapstructure:"y"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// Config configures the tesseract recognizer.
type Config struct {
	Binary   string `mapstructure:"binary"`
	Language string `mapstructure:"language"`
	Region   Region `mapstructure:"region"`
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Tesseract runs the tesseract CLI over a cropped copy of each image.
type Tesseract struct {
	cfg    Config
	run    runFunc
	logger *zap.Logger
}

// NewTesseract returns a recognizer backed by the tesseract binary.
func NewTesseract(cfg Config, logger *zap.Logger) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tesseract{cfg: cfg, run: runCommand, logger: logger.Named("ocr")}
}

// Recognize crops imagePath to the configured region and returns the text
// tesseract reads from it, trimmed. An empty result is not an error.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	cropped, err := cropFile(imagePath, t.cfg.Region)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "harvester-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("create crop file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := png.Encode(tmp, cropped); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("encode crop: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close crop file: %w", err)
	}

	out, err := t.run(ctx, t.cfg.Binary, tmp.Name(), "stdout", "-l", t.cfg.Language)
	if err != nil {
		return "", fmt.Errorf("tesseract %s: %w", imagePath, err)
	}
	text := strings.TrimSpace(string(out))
	t.logger.Debug("recognized", zap.String("path", imagePath), zap.Int("chars", len(text)))
	return text, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return out, nil
}

func cropFile(path string, region Region) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return Crop(img, region), nil
}

// Crop copies the part of img covered by region. A zero-sized region keeps
// the whole image; a region past the edges is clipped.
func Crop(img image.Image, region Region) image.Image {
	bounds := img.Bounds()
	rect := bounds
	if region.Width > 0 && region.Height > 0 {
		origin := bounds.Min.Add(image.Pt(region.X, region.Y))
		rect = image.Rectangle{Min: origin, Max: origin.Add(image.Pt(region.Width, region.Height))}.Intersect(bounds)
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// Disabled never reads text; every item is recorded as consulted without a result.
type Disabled struct{}

// Recognize implements Recognizer.
func (Disabled) Recognize(context.Context, string) (string, error) {
	return "", nil
}

package compressor

import (
	"context"
	"fmt"
	"time"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/search"
)

// QualityEncoder re-encodes an already decoded image at a JPEG quality.
type QualityEncoder interface {
	Encode(ctx context.Context, output string, quality int) error
}

// ImageOpener decodes an input image once per request.
type ImageOpener func(path string) (QualityEncoder, error)

// OpenJPEG is the default ImageOpener.
func OpenJPEG(path string) (QualityEncoder, error) {
	return encoder.OpenImage(path)
}

// ImageDriver searches JPEG quality.
type ImageDriver struct {
	cfg          config.DomainConfig
	shortQuality int
	open         ImageOpener
	engine       *Engine
}

// NewImageDriver returns an ImageDriver. Inputs that already fit are
// re-encoded once at shortQuality.
func NewImageDriver(cfg config.DomainConfig, shortQuality int, open ImageOpener, engine *Engine) *ImageDriver {
	if open == nil {
		open = OpenJPEG
	}
	return &ImageDriver{cfg: cfg, shortQuality: shortQuality, open: open, engine: engine}
}

func (d *ImageDriver) Domain() Domain { return DomainImage }

func (d *ImageDriver) Compress(ctx context.Context, req Request, obs search.Observer) (*Result, error) {
	img, err := d.open(req.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	encode := func(ctx context.Context, output string, quality int) error {
		ctx, cancel := withTimeout(ctx, d.cfg.Timeout)
		defer cancel()
		return img.Encode(ctx, output, quality)
	}

	if req.OriginalSize <= req.TargetSize {
		return d.engine.passthrough(ctx, req, ".jpg", qualityLabel(float64(d.shortQuality)),
			func(ctx context.Context, tmp string) error {
				return encode(ctx, tmp, d.shortQuality)
			})
	}

	return d.engine.run(ctx, req, plan{
		search: search.Config{
			Low:            d.cfg.MinParam,
			High:           d.cfg.MaxParam,
			Integer:        true,
			Convergence:    d.cfg.Convergence,
			Tolerance:      d.cfg.Tolerance,
			MaxIterations:  d.cfg.MaxIterations,
			MinAcceptRatio: d.cfg.MinAcceptRatio,
		},
		ext: ".jpg",
		encode: func(ctx context.Context, output string, _ int, param float64) error {
			return encode(ctx, output, int(param))
		},
		parameter: qualityLabel,
	}, obs)
}

func qualityLabel(q float64) string {
	return fmt.Sprintf("q%d", int(q))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

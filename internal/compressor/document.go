package compressor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/search"
)

// PDFEncoder rewrites a PDF with downsampled images.
type PDFEncoder interface {
	EncodePDF(ctx context.Context, input, output string, opts encoder.PDFOptions) error
}

// PageCounter returns the page count of a PDF.
type PageCounter func(path string) (int, error)

// DocumentDriver searches PDF image resolution. Other document formats are
// only passed through when they already fit.
type DocumentDriver struct {
	cfg    config.DomainConfig
	enc    PDFEncoder
	pages  PageCounter
	engine *Engine
	logger *logrus.Logger
}

func NewDocumentDriver(cfg config.DomainConfig, enc PDFEncoder, pages PageCounter, engine *Engine, log *logrus.Logger) *DocumentDriver {
	if pages == nil {
		pages = encoder.PageCount
	}
	if log == nil {
		log = logger.Discard()
	}
	return &DocumentDriver{cfg: cfg, enc: enc, pages: pages, engine: engine, logger: log}
}

func (d *DocumentDriver) Domain() Domain { return DomainDocument }

func (d *DocumentDriver) Compress(ctx context.Context, req Request, obs search.Observer) (*Result, error) {
	ext := req.Extension()
	if ext != ".pdf" {
		if req.OriginalSize <= req.TargetSize {
			return d.engine.passthrough(ctx, req, req.outputExt(ext), "copy", copyInput(req))
		}
		return nil, fmt.Errorf("%w: only PDF documents can be reduced to a target size, got %s", ErrUnsupportedType, ext)
	}

	// a PDF pdfcpu cannot read may still be fine for ghostscript
	pages, err := d.pages(req.InputPath)
	if err != nil {
		logger.WithRequest(d.logger, req.ID, req.InputPath, string(DomainDocument)).
			WithError(err).Debug("Could not count PDF pages")
	}

	var res *Result
	if req.OriginalSize <= req.TargetSize {
		res, err = d.engine.passthrough(ctx, req, ".pdf", "copy", copyInput(req))
	} else {
		preset := encoder.PresetForRatio(float64(req.TargetSize) / float64(req.OriginalSize))
		res, err = d.engine.run(ctx, req, plan{
			search: search.Config{
				Low:            d.cfg.MinParam,
				High:           d.cfg.MaxParam,
				Integer:        true,
				Convergence:    d.cfg.Convergence,
				Tolerance:      d.cfg.Tolerance,
				MaxIterations:  d.cfg.MaxIterations,
				MinAcceptRatio: d.cfg.MinAcceptRatio,
			},
			ext: ".pdf",
			encode: func(ctx context.Context, output string, _ int, param float64) error {
				dpi := int(param)
				return d.enc.EncodePDF(ctx, req.InputPath, output, encoder.PDFOptions{
					Resolution:  dpi,
					JPEGQuality: encoder.JPEGQualityForResolution(dpi),
					Preset:      preset,
					Timeout:     d.cfg.Timeout,
				})
			},
			parameter: func(p float64) string { return fmt.Sprintf("%ddpi", int(p)) },
		}, obs)
	}

	if res != nil {
		res.Pages = pages
	}
	return res, err
}

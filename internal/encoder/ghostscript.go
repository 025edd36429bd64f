package encoder

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Preset is a Ghostscript -dPDFSETTINGS value.
type Preset string

const (
	PresetScreen   Preset = "/screen"
	PresetEbook    Preset = "/ebook"
	PresetPrinter  Preset = "/printer"
	PresetPrepress Preset = "/prepress"
)

// PresetForRatio picks a preset from target/original size ratio.
func PresetForRatio(ratio float64) Preset {
	switch {
	case ratio < 0.25:
		return PresetScreen
	case ratio < 0.50:
		return PresetEbook
	case ratio < 0.75:
		return PresetPrinter
	default:
		return PresetPrepress
	}
}

// JPEGQualityForResolution couples image quality to the DPI being tried:
// min(95, max(15, dpi/2.8)).
func JPEGQualityForResolution(dpi int) int {
	q := int(float64(dpi) / 2.8)
	return int(math.Min(95, math.Max(15, float64(q))))
}

// PDFOptions configures one Ghostscript rewrite.
type PDFOptions struct {
	Resolution  int
	JPEGQuality int
	Preset      Preset
	Timeout     time.Duration
}

// Ghostscript drives the gs binary.
type Ghostscript struct {
	Binary string
}

// NewGhostscript returns a Ghostscript using binary, defaulting to "gs".
func NewGhostscript(binary string) *Ghostscript {
	if binary == "" {
		binary = "gs"
	}
	return &Ghostscript{Binary: binary}
}

// EncodePDF rewrites input into output with images downsampled to
// opts.Resolution and recompressed as JPEG.
func (g *Ghostscript) EncodePDF(ctx context.Context, input, output string, opts PDFOptions) error {
	if _, err := Run(ctx, opts.Timeout, g.Binary, pdfArgs(input, output, opts)...); err != nil {
		return fmt.Errorf("ghostscript at %d dpi: %w", opts.Resolution, err)
	}
	return nil
}

func pdfArgs(input, output string, opts PDFOptions) []string {
	preset := opts.Preset
	if preset == "" {
		preset = PresetEbook
	}
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = JPEGQualityForResolution(opts.Resolution)
	}
	res := opts.Resolution

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + string(preset),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dColorImageResolution=%d", res),
		fmt.Sprintf("-dGrayImageResolution=%d", res),
		fmt.Sprintf("-dMonoImageResolution=%d", res),
		"-dDownsampleColorImages=true",
		"-dDownsampleGrayImages=true",
		"-dColorImageDownsampleType=/Bicubic",
		"-dGrayImageDownsampleType=/Bicubic",
		"-dAutoFilterColorImages=false",
		"-dAutoFilterGrayImages=false",
		"-dColorImageFilter=/DCTEncode",
		"-dGrayImageFilter=/DCTEncode",
		fmt.Sprintf("-dJPEGQ=%d", quality),
		"-dDetectDuplicateImages=true",
		"-dCompressFonts=true",
		"-dEmbedAllFonts=true",
		"-dSubsetFonts=true",
		"-sOutputFile=" + output,
		input,
	}
}

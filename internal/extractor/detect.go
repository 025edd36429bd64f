package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
)

// Prober reads container information; *encoder.FFmpeg satisfies it.
type Prober interface {
	Probe(ctx context.Context, path string) (*encoder.ProbeInfo, error)
}

// Detector classifies files by extension, falling back to probing the
// container for extensions it does not know.
type Detector struct {
	byExt  map[string]FileType
	prober Prober
}

// NewDetector builds a Detector from configured extension lists. prober may
// be nil, in which case unknown extensions stay unknown.
func NewDetector(ext config.ExtensionsConfig, prober Prober) *Detector {
	d := &Detector{byExt: make(map[string]FileType), prober: prober}
	add := func(list []string, ft FileType) {
		for _, e := range list {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			d.byExt[e] = ft
		}
	}
	add(ext.Image, FileTypeImage)
	add(ext.Video, FileTypeVideo)
	add(ext.Audio, FileTypeAudio)
	add(ext.Document, FileTypeDocument)
	return d
}

// ByExtension classifies path using its extension only.
func (d *Detector) ByExtension(path string) FileType {
	return d.byExt[strings.ToLower(filepath.Ext(path))]
}

// Detect classifies path. Unknown extensions are probed: a still-image
// container is an image, audio-only media with a duration is audio, and
// anything else with a positive duration is treated as video.
func (d *Detector) Detect(ctx context.Context, path string) (FileType, error) {
	if ft := d.ByExtension(path); ft != FileTypeUnknown {
		return ft, nil
	}
	if d.prober == nil {
		return FileTypeUnknown, nil
	}

	info, err := d.prober.Probe(ctx, path)
	if err != nil {
		// not something ffprobe understands
		return FileTypeUnknown, nil
	}
	return classifyProbe(info), nil
}

func classifyProbe(info *encoder.ProbeInfo) FileType {
	format := strings.ToLower(info.FormatName)
	if format == "image2" || strings.HasSuffix(format, "_pipe") {
		return FileTypeImage
	}
	if info.Duration <= 0 {
		return FileTypeUnknown
	}
	if info.HasAudio && !info.HasVideo {
		return FileTypeAudio
	}
	return FileTypeVideo
}

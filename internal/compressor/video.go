package compressor

import (
	"context"
	"fmt"
	"path/filepath"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/search"
)

// VideoEncoder performs one two-pass encode at a bitrate.
type VideoEncoder interface {
	EncodeVideo(ctx context.Context, input, output string, opts encoder.VideoOptions) error
}

// InitialVideoBitrate estimates the video bitrate in kbps that fills 90% of
// target over duration seconds after reserving audioKbps.
func InitialVideoBitrate(target int64, duration float64, audioKbps int) float64 {
	return (float64(target)*8*0.9)/(duration*1000) - float64(audioKbps)
}

// VideoDriver searches H.264 video bitrate.
type VideoDriver struct {
	cfg       config.DomainConfig
	audioKbps int
	tempDir   string
	enc       VideoEncoder
	engine    *Engine
}

// NewVideoDriver returns a VideoDriver writing two-pass logs under tempDir.
func NewVideoDriver(cfg config.DomainConfig, audioKbps int, tempDir string, enc VideoEncoder, engine *Engine) *VideoDriver {
	return &VideoDriver{cfg: cfg, audioKbps: audioKbps, tempDir: tempDir, enc: enc, engine: engine}
}

func (d *VideoDriver) Domain() Domain { return DomainVideo }

func (d *VideoDriver) Compress(ctx context.Context, req Request, obs search.Observer) (*Result, error) {
	ext := req.outputExt(".mp4")
	if req.OriginalSize <= req.TargetSize {
		return d.engine.passthrough(ctx, req, ext, "copy", copyInput(req))
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, req.InputPath)
	}

	initial := InitialVideoBitrate(req.TargetSize, req.Duration, d.audioKbps)
	if initial < d.cfg.MinParam {
		initial = d.cfg.MinParam
	}

	return d.engine.run(ctx, req, plan{
		search: search.Config{
			Low:            d.cfg.MinParam,
			High:           d.cfg.MaxParam,
			Convergence:    d.cfg.Convergence,
			Tolerance:      d.cfg.Tolerance,
			MaxIterations:  d.cfg.MaxIterations,
			MinAcceptRatio: d.cfg.MinAcceptRatio,
			Initial:        initial,
		},
		ext: ext,
		encode: func(ctx context.Context, output string, iteration int, param float64) error {
			return d.enc.EncodeVideo(ctx, req.InputPath, output, encoder.VideoOptions{
				BitrateKbps:      param,
				AudioBitrateKbps: d.audioKbps,
				PassLogPrefix:    filepath.Join(d.tempDir, fmt.Sprintf("ffmpeg2pass-%s-%d", req.ID, iteration)),
				Timeout:          d.cfg.Timeout,
			})
		},
		parameter: bitrateLabel,
	}, obs)
}

func bitrateLabel(kbps float64) string {
	return fmt.Sprintf("%dkbps", int(kbps))
}

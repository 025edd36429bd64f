package compressor

import (
	"context"
	"fmt"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/search"
)

// AudioEncoder performs one lossy encode at a bitrate.
type AudioEncoder interface {
	EncodeAudio(ctx context.Context, input, output string, opts encoder.AudioOptions) error
}

// InitialAudioBitrate is the constant bitrate in kbps that spends exactly
// target bytes over duration seconds.
func InitialAudioBitrate(target int64, duration float64) float64 {
	return float64(target) * 8 / (duration * 1000)
}

// AudioDriver searches audio bitrate. The codec follows the output
// extension and defaults to MP3.
type AudioDriver struct {
	cfg    config.DomainConfig
	enc    AudioEncoder
	engine *Engine
}

func NewAudioDriver(cfg config.DomainConfig, enc AudioEncoder, engine *Engine) *AudioDriver {
	return &AudioDriver{cfg: cfg, enc: enc, engine: engine}
}

func (d *AudioDriver) Domain() Domain { return DomainAudio }

func (d *AudioDriver) Compress(ctx context.Context, req Request, obs search.Observer) (*Result, error) {
	if req.OriginalSize <= req.TargetSize {
		return d.engine.passthrough(ctx, req, req.outputExt(".mp3"), "copy", copyInput(req))
	}
	codec, ok := encoder.AudioCodecFor(req.outputExt(".mp3"))
	if !ok {
		return nil, fmt.Errorf("%w: cannot target a size for %s output, use .mp3, .m4a, .aac, .ogg or .opus",
			ErrUnsupportedType, req.outputExt(".mp3"))
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, req.InputPath)
	}

	return d.engine.run(ctx, req, plan{
		search: search.Config{
			Low:            d.cfg.MinParam,
			High:           d.cfg.MaxParam,
			Convergence:    d.cfg.Convergence,
			Tolerance:      d.cfg.Tolerance,
			MaxIterations:  d.cfg.MaxIterations,
			MinAcceptRatio: d.cfg.MinAcceptRatio,
			Initial:        InitialAudioBitrate(req.TargetSize, req.Duration),
		},
		ext: codec.Ext,
		encode: func(ctx context.Context, output string, _ int, param float64) error {
			return d.enc.EncodeAudio(ctx, req.InputPath, output, encoder.AudioOptions{
				BitrateKbps: param,
				Codec:       codec.Name,
				Timeout:     d.cfg.Timeout,
			})
		},
		parameter: bitrateLabel,
	}, obs)
}

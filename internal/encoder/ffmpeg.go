package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoDuration is returned when ffprobe reports no usable duration.
var ErrNoDuration = errors.New("media has no duration")

// ProbeInfo is the subset of ffprobe output the compressor needs.
type ProbeInfo struct {
	Duration   float64
	FormatName string
	HasVideo   bool
	HasAudio   bool
	Width      int
	Height     int
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// FFmpeg drives the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	Binary       string
	ProbeBinary  string
	ProbeTimeout time.Duration
}

// NewFFmpeg returns an FFmpeg using the given binaries. Empty names fall
// back to "ffmpeg" and "ffprobe".
func NewFFmpeg(binary, probeBinary string, probeTimeout time.Duration) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if probeBinary == "" {
		probeBinary = "ffprobe"
	}
	return &FFmpeg{Binary: binary, ProbeBinary: probeBinary, ProbeTimeout: probeTimeout}
}

// Probe reads container and stream information from path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	out, err := Run(ctx, f.ProbeTimeout, f.ProbeBinary,
		"-v", "error",
		"-show_entries", "format=duration,format_name:stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	return parseProbe(out)
}

// ProbeDuration returns the duration of path in seconds.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoDuration, path)
	}
	return info.Duration, nil
}

func parseProbe(data []byte) (*ProbeInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := &ProbeInfo{FormatName: raw.Format.FormatName}
	if raw.Format.Duration != "" && raw.Format.Duration != "N/A" {
		d, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)
		}
		info.Duration = d
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if !info.HasVideo {
				info.Width, info.Height = s.Width, s.Height
			}
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

// VideoOptions configures one two-pass H.264 encode.
type VideoOptions struct {
	BitrateKbps      float64
	AudioBitrateKbps int
	// PassLogPrefix isolates the two-pass statistics files of concurrent
	// encodes. The files are removed after the second pass.
	PassLogPrefix string
	Timeout       time.Duration
}

const evenScale = "scale=trunc(iw/2)*2:trunc(ih/2)*2"

// EncodeVideo runs a two-pass libx264 encode of input into output.
// Each pass gets the full timeout.
func (f *FFmpeg) EncodeVideo(ctx context.Context, input, output string, opts VideoOptions) error {
	if opts.PassLogPrefix == "" {
		opts.PassLogPrefix = output + ".2pass"
	}
	defer removePassLogs(opts.PassLogPrefix)

	bitrate := fmt.Sprintf("%dk", int(opts.BitrateKbps))

	first := []string{
		"-y", "-i", input,
		"-c:v", "libx264", "-b:v", bitrate,
		"-vf", evenScale,
		"-pass", "1", "-passlogfile", opts.PassLogPrefix,
		"-an", "-f", "null", os.DevNull,
	}
	if _, err := Run(ctx, opts.Timeout, f.Binary, first...); err != nil {
		return fmt.Errorf("video pass 1: %w", err)
	}

	audio := opts.AudioBitrateKbps
	if audio <= 0 {
		audio = 128
	}
	second := []string{
		"-y", "-i", input,
		"-c:v", "libx264", "-b:v", bitrate,
		"-vf", evenScale,
		"-pass", "2", "-passlogfile", opts.PassLogPrefix,
		"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", audio),
		output,
	}
	if _, err := Run(ctx, opts.Timeout, f.Binary, second...); err != nil {
		return fmt.Errorf("video pass 2: %w", err)
	}
	return nil
}

// AudioCodec is a lossy ffmpeg audio encoder and the extension of the
// container it is written to.
type AudioCodec struct {
	Name string
	Ext  string
}

var audioCodecs = map[string]AudioCodec{
	".mp3":  {Name: "libmp3lame", Ext: ".mp3"},
	".m4a":  {Name: "aac", Ext: ".m4a"},
	".aac":  {Name: "aac", Ext: ".aac"},
	".ogg":  {Name: "libvorbis", Ext: ".ogg"},
	".oga":  {Name: "libvorbis", Ext: ".oga"},
	".opus": {Name: "libopus", Ext: ".opus"},
}

// AudioCodecFor returns the bitrate-controlled codec for an output
// extension. Lossless and uncompressed containers (wav, flac, aiff) have no
// codec because their size cannot be steered by bitrate.
func AudioCodecFor(ext string) (AudioCodec, bool) {
	c, ok := audioCodecs[strings.ToLower(ext)]
	return c, ok
}

// AudioOptions configures one audio encode. Codec defaults to libmp3lame.
type AudioOptions struct {
	BitrateKbps float64
	Codec       string
	Timeout     time.Duration
}

// EncodeAudio runs a single-pass constant bitrate encode of input into output.
func (f *FFmpeg) EncodeAudio(ctx context.Context, input, output string, opts AudioOptions) error {
	codec := opts.Codec
	if codec == "" {
		codec = "libmp3lame"
	}
	args := []string{
		"-y", "-i", input,
		"-vn",
		"-c:a", codec,
		"-b:a", fmt.Sprintf("%dk", int(opts.BitrateKbps)),
		output,
	}
	if _, err := Run(ctx, opts.Timeout, f.Binary, args...); err != nil {
		return fmt.Errorf("audio encode: %w", err)
	}
	return nil
}

// removePassLogs deletes the statistics files x264 leaves behind.
func removePassLogs(prefix string) {
	matches, err := filepath.Glob(prefix + "*.log*")
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

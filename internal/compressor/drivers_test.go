package compressor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
)

func TestInitialBitrates(t *testing.T) {
	assert.InDelta(t, 1130.29, InitialVideoBitrate(10*1024*1024, 60, 128), 0.01)
	assert.InDelta(t, 139.81, InitialAudioBitrate(1024*1024, 60), 0.01)
}

func TestVideoDriverUsesInitialGuess(t *testing.T) {
	dir := t.TempDir()
	target := int64(10 * 1024 * 1024)
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.mov", 50*1024*1024),
		OutputPath:   filepath.Join(dir, "out.mp4"),
		Domain:       DomainVideo,
		OriginalSize: 50 * 1024 * 1024,
		TargetSize:   target,
		Duration:     60,
	}
	// the guess reserves 10% overhead and the audio track, so undo both
	enc := &fakeVideo{size: func(kbps float64) int64 {
		return int64((kbps + 128) * 60 * 1000 / 8 / 0.9)
	}}
	tmp := t.TempDir()

	d := NewVideoDriver(config.DefaultConfig().Compression.Video, 128, tmp, enc, testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, enc.opts, 1)
	assert.InDelta(t, 1130.29, enc.opts[0].BitrateKbps, 0.01)
	assert.Equal(t, 128, enc.opts[0].AudioBitrateKbps)
	assert.Equal(t, filepath.Join(tmp, "ffmpeg2pass-req1-1"), enc.opts[0].PassLogPrefix)
	assert.Equal(t, "1130kbps", res.ParameterUsed)
	assert.Equal(t, 1, res.IterationsUsed)
	assert.FileExists(t, req.OutputPath)
}

func TestVideoDriverClampsNegativeGuess(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.mp4", 5*1024*1024),
		OutputPath:   filepath.Join(dir, "out.mp4"),
		OriginalSize: 5 * 1024 * 1024,
		TargetSize:   100 * 1024,
		Duration:     600,
	}
	enc := &fakeVideo{size: func(kbps float64) int64 { return int64(kbps) * 1000 }}

	d := NewVideoDriver(config.DefaultConfig().Compression.Video, 128, t.TempDir(), enc, testEngine())
	_, _ = d.Compress(context.Background(), req, nil)

	require.NotEmpty(t, enc.opts)
	assert.Equal(t, float64(50), enc.opts[0].BitrateKbps)
}

func TestVideoDriverRequiresDuration(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.mp4", 5000),
		OutputPath:   filepath.Join(dir, "out.mp4"),
		OriginalSize: 5000,
		TargetSize:   1000,
	}
	d := NewVideoDriver(config.DefaultConfig().Compression.Video, 128, t.TempDir(), &fakeVideo{}, testEngine())
	_, err := d.Compress(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestVideoDriverShortCircuitCopies(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(in, []byte("tiny video"), 0644))
	req := Request{
		ID:           "req1",
		InputPath:    in,
		OutputPath:   filepath.Join(dir, "out.mp4"),
		OriginalSize: 10,
		TargetSize:   1024,
	}
	enc := &fakeVideo{}

	d := NewVideoDriver(config.DefaultConfig().Compression.Video, 128, t.TempDir(), enc, testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Empty(t, enc.opts)
	assert.True(t, res.ShortCircuit)
	assert.Equal(t, "copy", res.ParameterUsed)
	data, err := os.ReadFile(req.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "tiny video", string(data))
	assert.ElementsMatch(t, []string{"in.mp4", "out.mp4"}, dirEntries(t, dir))
}

func TestAudioDriverConverges(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.wav", 10*1024*1024),
		OutputPath:   filepath.Join(dir, "out.mp3"),
		OriginalSize: 10 * 1024 * 1024,
		TargetSize:   1024 * 1024,
		Duration:     60,
	}
	enc := &fakeAudio{size: func(kbps float64) int64 { return int64(kbps * 60 * 1000 / 8) }}

	d := NewAudioDriver(config.DefaultConfig().Compression.Audio, enc, testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, enc.calls, 1)
	assert.InDelta(t, 139.81, enc.calls[0], 0.01)
	assert.Equal(t, "139kbps", res.ParameterUsed)
	assert.Equal(t, []string{"libmp3lame"}, enc.codecs)
	assert.ElementsMatch(t, []string{"in.wav", "out.mp3"}, dirEntries(t, dir))
}

func TestAudioDriverCodecFollowsOutputExtension(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.wav", 10*1024*1024),
		OutputPath:   filepath.Join(dir, "out.M4A"),
		OriginalSize: 10 * 1024 * 1024,
		TargetSize:   1024 * 1024,
		Duration:     60,
	}
	enc := &fakeAudio{size: func(kbps float64) int64 { return int64(kbps * 60 * 1000 / 8) }}

	d := NewAudioDriver(config.DefaultConfig().Compression.Audio, enc, testEngine())
	_, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"aac"}, enc.codecs)
	require.Len(t, enc.outputs, 1)
	assert.Equal(t, ".m4a", filepath.Ext(enc.outputs[0]))
	assert.ElementsMatch(t, []string{"in.wav", "out.M4A"}, dirEntries(t, dir))
}

func TestAudioDriverRejectsLosslessOutput(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.flac", 10*1024*1024),
		OutputPath:   filepath.Join(dir, "out.wav"),
		OriginalSize: 10 * 1024 * 1024,
		TargetSize:   1024 * 1024,
		Duration:     60,
	}
	enc := &fakeAudio{size: func(kbps float64) int64 { return 1 }}

	d := NewAudioDriver(config.DefaultConfig().Compression.Audio, enc, testEngine())
	_, err := d.Compress(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, enc.calls)
	assert.ElementsMatch(t, []string{"in.flac"}, dirEntries(t, dir))
}

func TestAudioDriverShortCircuit(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.mp3", 100),
		OutputPath:   filepath.Join(dir, "out.mp3"),
		OriginalSize: 100,
		TargetSize:   100,
	}
	enc := &fakeAudio{}

	d := NewAudioDriver(config.DefaultConfig().Compression.Audio, enc, testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, enc.calls)
	assert.True(t, res.ShortCircuit)
}

func TestDocumentDriverSearchesResolution(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.pdf", 4000000),
		OutputPath:   filepath.Join(dir, "out.pdf"),
		OriginalSize: 4000000,
		TargetSize:   1000000,
	}
	enc := &fakePDF{size: func(dpi int) int64 { return int64(dpi) * 10000 }}
	pages := func(string) (int, error) { return 3, nil }

	d := NewDocumentDriver(config.DefaultConfig().Compression.Document, enc, pages, testEngine(), nil)
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.IterationsUsed)
	assert.Equal(t, "97dpi", res.ParameterUsed)
	assert.Equal(t, int64(970000), res.CompressedSize)
	assert.Equal(t, 3, res.Pages)

	require.Len(t, enc.opts, 2)
	assert.Equal(t, 165, enc.opts[0].Resolution)
	assert.Equal(t, 97, enc.opts[1].Resolution)
	assert.Equal(t, 34, enc.opts[1].JPEGQuality)
	assert.Equal(t, encoder.PresetEbook, enc.opts[1].Preset)
	assert.ElementsMatch(t, []string{"in.pdf", "out.pdf"}, dirEntries(t, dir))
}

func TestDocumentDriverKeepsSearchingBelowAcceptRatio(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.pdf", 4000000),
		OutputPath:   filepath.Join(dir, "out.pdf"),
		OriginalSize: 4000000,
		TargetSize:   1000000,
	}
	// 920000 is inside a 10% tolerance but under 95% of target, so the
	// search must keep going instead of settling on the undershoot.
	enc := &fakePDF{size: func(dpi int) int64 {
		if dpi < 200 {
			return 920000
		}
		return 1010000
	}}
	cfg := config.DefaultConfig().Compression.Document
	cfg.Tolerance = 0.10

	d := NewDocumentDriver(cfg, enc, func(string) (int, error) { return 1, nil }, testEngine(), nil)
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, enc.opts, 2)
	assert.Equal(t, int64(1010000), res.CompressedSize)
}

func TestDocumentDriverNonPDF(t *testing.T) {
	dir := t.TempDir()
	big := Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.docx", 5000),
		OutputPath:   filepath.Join(dir, "out.docx"),
		OriginalSize: 5000,
		TargetSize:   1000,
	}
	enc := &fakePDF{}
	d := NewDocumentDriver(config.DefaultConfig().Compression.Document, enc, func(string) (int, error) { return 0, nil }, testEngine(), nil)

	_, err := d.Compress(context.Background(), big, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	small := big
	small.TargetSize = 10000
	res, err := d.Compress(context.Background(), small, nil)
	require.NoError(t, err)
	assert.True(t, res.ShortCircuit)
	assert.True(t, strings.HasSuffix(res.OutputPath, "out.docx"))
	assert.Empty(t, enc.opts)
}

func TestDocumentDriverLogsPageCountFailure(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		ID:           "req7",
		InputPath:    newInput(t, dir, "in.pdf", 4000),
		OutputPath:   filepath.Join(dir, "out.pdf"),
		OriginalSize: 4000,
		TargetSize:   10000,
	}
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	pages := func(string) (int, error) { return 0, errors.New("xref table broken") }

	d := NewDocumentDriver(config.DefaultConfig().Compression.Document, &fakePDF{}, pages, testEngine(), log)
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, res.ShortCircuit)
	assert.Equal(t, 0, res.Pages)

	out := buf.String()
	assert.Contains(t, out, "Could not count PDF pages")
	assert.Contains(t, out, "xref table broken")
	assert.Contains(t, out, `"request_id":"req7"`)
	assert.Contains(t, out, `"level":"debug"`)
}

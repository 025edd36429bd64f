package compressor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/search"
)

// writeSized creates path with exactly size zero bytes.
func writeSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func newInput(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, writeSized(path, size))
	return path
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func testEngine() *Engine {
	return NewEngine(FileSizeProbe{}, 0.30, search.DefaultStuckDelta, search.DefaultStuckLimit)
}

// fakeImage writes an artifact whose size is a function of quality.
type fakeImage struct {
	mu        sync.Mutex
	size      func(q int) int64
	err       error
	qualities []int
}

func (f *fakeImage) Encode(ctx context.Context, output string, quality int) error {
	f.mu.Lock()
	f.qualities = append(f.qualities, quality)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return writeSized(output, f.size(quality))
}

func (f *fakeImage) opener() ImageOpener {
	return func(string) (QualityEncoder, error) { return f, nil }
}

type fakeVideo struct {
	size func(kbps float64) int64
	opts []encoder.VideoOptions
}

func (f *fakeVideo) EncodeVideo(ctx context.Context, input, output string, opts encoder.VideoOptions) error {
	f.opts = append(f.opts, opts)
	return writeSized(output, f.size(opts.BitrateKbps))
}

type fakeAudio struct {
	size    func(kbps float64) int64
	calls   []float64
	codecs  []string
	outputs []string
}

func (f *fakeAudio) EncodeAudio(ctx context.Context, input, output string, opts encoder.AudioOptions) error {
	f.calls = append(f.calls, opts.BitrateKbps)
	f.codecs = append(f.codecs, opts.Codec)
	f.outputs = append(f.outputs, output)
	return writeSized(output, f.size(opts.BitrateKbps))
}

type fakePDF struct {
	size func(dpi int) int64
	opts []encoder.PDFOptions
}

func (f *fakePDF) EncodePDF(ctx context.Context, input, output string, opts encoder.PDFOptions) error {
	f.opts = append(f.opts, opts)
	return writeSized(output, f.size(opts.Resolution))
}

// fakeProber answers Probe and ProbeDuration without ffprobe.
type fakeProber struct {
	duration float64
	err      error
	calls    int
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*encoder.ProbeInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &encoder.ProbeInfo{Duration: f.duration, HasVideo: true}, nil
}

func (f *fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.duration, nil
}

// recordingDriver captures requests and returns a canned result.
type recordingDriver struct {
	mu       sync.Mutex
	domain   Domain
	requests []Request
	result   func(req Request) (*Result, error)
}

func (d *recordingDriver) Domain() Domain { return d.domain }

func (d *recordingDriver) Compress(ctx context.Context, req Request, obs search.Observer) (*Result, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	if d.result != nil {
		return d.result(req)
	}
	return &Result{Status: StatusSuccess, OutputPath: req.OutputPath, CompressedSize: req.TargetSize}, nil
}

func imageConfig(tolerance float64) config.DomainConfig {
	cfg := config.DefaultConfig().Compression.Image
	cfg.Tolerance = tolerance
	return cfg
}

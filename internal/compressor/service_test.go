package compressor

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math/rand"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-compressor-go/internal/config"
)

type serviceFixture struct {
	svc     *Service
	prober  *fakeProber
	drivers map[Domain]*recordingDriver
	dir     string
}

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		prober:  &fakeProber{duration: 12.5},
		drivers: map[Domain]*recordingDriver{},
		dir:     t.TempDir(),
	}
	all := []Option{WithProber(f.prober), WithIDGenerator(func() string { return "fixed" })}
	for _, d := range []Domain{DomainImage, DomainVideo, DomainAudio, DomainDocument} {
		rd := &recordingDriver{domain: d}
		f.drivers[d] = rd
		all = append(all, WithDriver(rd))
	}
	f.svc = NewService(config.DefaultConfig(), nil, append(all, opts...)...)
	return f
}

func (f *serviceFixture) totalRequests() int {
	n := 0
	for _, d := range f.drivers {
		n += len(d.requests)
	}
	return n
}

func TestServiceRejectsInvalidTargetSpec(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "in.jpg", 4096)

	res := f.svc.Compress(context.Background(), Task{
		InputPath:  in,
		OutputPath: filepath.Join(f.dir, "out.jpg"),
		TargetSpec: "500MBX",
	})

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "invalid target size")
	assert.Zero(t, f.totalRequests())
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, f.dir))
}

func TestServiceInputErrors(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "in.jpg", 4096)
	unknown := newInput(t, f.dir, "in.zip", 4096)
	f.prober.err = errors.New("invalid data found")

	tests := []struct {
		name string
		task Task
		want error
	}{
		{
			name: "missing input",
			task: Task{InputPath: filepath.Join(f.dir, "nope.jpg"), OutputPath: filepath.Join(f.dir, "o.jpg"), TargetSpec: "1KB"},
			want: ErrInputNotFound,
		},
		{
			name: "directory input",
			task: Task{InputPath: f.dir, OutputPath: filepath.Join(f.dir, "o.jpg"), TargetSpec: "1KB"},
			want: ErrInputNotFound,
		},
		{
			name: "missing output directory",
			task: Task{InputPath: in, OutputPath: filepath.Join(f.dir, "missing", "o.jpg"), TargetSpec: "1KB"},
			want: ErrOutputNotWritable,
		},
		{
			name: "unknown type",
			task: Task{InputPath: unknown, OutputPath: filepath.Join(f.dir, "o.zip"), TargetSpec: "1KB"},
			want: ErrUnsupportedType,
		},
		{
			name: "no target",
			task: Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.jpg")},
			want: ErrInvalidTargetSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.Compress(context.Background(), tt.task)
			assert.Equal(t, StatusError, res.Status)
			assert.Contains(t, res.Message, tt.want.Error())
		})
	}
	assert.Zero(t, f.totalRequests())
}

func TestServiceBuildsRequest(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "clip.mp4", 4096)
	out := filepath.Join(f.dir, "small.mp4")

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: out, TargetSpec: "1kb"})
	require.Equal(t, StatusSuccess, res.Status, res.Message)

	reqs := f.drivers[DomainVideo].requests
	require.Len(t, reqs, 1)
	assert.Equal(t, Request{
		ID:           "fixed",
		InputPath:    in,
		OutputPath:   out,
		Domain:       DomainVideo,
		TargetSize:   1024,
		OriginalSize: 4096,
		Duration:     12.5,
	}, reqs[0])
	assert.Equal(t, "video", res.Domain)
}

func TestServiceSkipsDurationProbeWhenInputFits(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "song.mp3", 100)

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.mp3"), TargetSpec: "1KB"})
	require.Equal(t, StatusSuccess, res.Status)
	assert.Zero(t, f.prober.calls)
}

func TestServiceDurationProbeFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.prober.err = errors.New("moov atom not found")
	in := newInput(t, f.dir, "clip.mp4", 4096)

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.mp4"), TargetSpec: "1KB"})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, ErrInvalidDuration.Error())
	assert.Equal(t, int64(4096), res.OriginalSize)
	assert.Zero(t, f.totalRequests())
}

func TestServiceUnknownExtensionWithDurationIsVideo(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "capture.xyz", 4096)

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.mp4"), TargetSpec: "1KB"})
	require.Equal(t, StatusSuccess, res.Status, res.Message)
	assert.Len(t, f.drivers[DomainVideo].requests, 1)
}

func TestServicePercentTarget(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "in.png", 4000)

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.jpg"), TargetPercent: 25})
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int64(1000), f.drivers[DomainImage].requests[0].TargetSize)
	assert.Equal(t, int64(1000), res.TargetSize)
}

func TestServiceFillsSummaryFields(t *testing.T) {
	f := newServiceFixture(t)
	f.drivers[DomainImage].result = func(req Request) (*Result, error) {
		return &Result{Status: StatusSuccess, OutputPath: req.OutputPath, CompressedSize: 1000, IterationsUsed: 4}, nil
	}
	in := newInput(t, f.dir, "in.jpg", 4096)

	var hooked int32
	f.svc.hooks = append(f.svc.hooks, func(*Result) { atomic.AddInt32(&hooked, 1) })

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.jpg"), TargetSpec: "1KB"})
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int64(1000), res.FinalSize)
	assert.Equal(t, int64(-24), res.SizeDifference)
	assert.Equal(t, "75.59%", res.CompressionRatio)
	assert.Equal(t, "97.7%", res.Accuracy)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooked))
}

func TestServiceDriverErrorClearsOutput(t *testing.T) {
	f := newServiceFixture(t)
	f.drivers[DomainImage].result = func(req Request) (*Result, error) {
		return &Result{IterationsUsed: 5, Termination: "exhausted", OutputPath: "stale"},
			fmt.Errorf("%w: best 9000 bytes vs target 1024 bytes", ErrTargetUnreachable)
	}
	in := newInput(t, f.dir, "in.jpg", 4096)

	res := f.svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(f.dir, "o.jpg"), TargetSpec: "1KB"})
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, strings.HasPrefix(res.Message, "could not compress to target size"))
	assert.Empty(t, res.OutputPath)
	assert.Equal(t, 5, res.IterationsUsed)
	assert.Equal(t, "exhausted", res.Termination)
}

func TestServiceCompressAllKeepsOrder(t *testing.T) {
	f := newServiceFixture(t)
	var tasks []Task
	for i := 0; i < 7; i++ {
		in := newInput(t, f.dir, fmt.Sprintf("in%d.jpg", i), 4096)
		tasks = append(tasks, Task{InputPath: in, OutputPath: filepath.Join(f.dir, fmt.Sprintf("out%d.jpg", i)), TargetSpec: "1KB"})
	}

	results := f.svc.CompressAll(context.Background(), tasks)
	require.Len(t, results, len(tasks))
	for i, res := range results {
		assert.Equal(t, tasks[i].InputPath, res.InputPath)
		assert.Equal(t, StatusSuccess, res.Status)
	}
	assert.Len(t, f.drivers[DomainImage].requests, len(tasks))
}

func TestServiceCompressAllCancelled(t *testing.T) {
	f := newServiceFixture(t)
	in := newInput(t, f.dir, "in.jpg", 4096)
	tasks := []Task{
		{InputPath: in, OutputPath: filepath.Join(f.dir, "a.jpg"), TargetSpec: "1KB"},
		{InputPath: in, OutputPath: filepath.Join(f.dir, "b.jpg"), TargetSpec: "1KB"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, res := range f.svc.CompressAll(ctx, tasks) {
		assert.Equal(t, StatusError, res.Status)
	}
	assert.Zero(t, f.totalRequests())
	assert.Empty(t, f.svc.CompressAll(ctx, nil))
}

func TestServiceRealImageLeavesNoOrphans(t *testing.T) {
	dir := t.TempDir()
	img := imaging.New(96, 96, color.White)
	r := rand.New(rand.NewSource(7))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.NRGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	in := filepath.Join(dir, "noise.png")
	require.NoError(t, imaging.Save(img, in))

	svc := NewService(config.DefaultConfig(), nil, WithProber(&fakeProber{}))
	res := svc.Compress(context.Background(), Task{InputPath: in, OutputPath: filepath.Join(dir, "noise.jpg"), TargetSpec: "8KB"})

	entries := dirEntries(t, dir)
	if res.Succeeded() {
		assert.ElementsMatch(t, []string{"noise.png", "noise.jpg"}, entries)
		assert.Equal(t, "image", res.Domain)
		assert.NotEmpty(t, res.ParameterUsed)
	} else {
		assert.Equal(t, []string{"noise.png"}, entries, res.Message)
	}
}

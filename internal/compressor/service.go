package compressor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/config"
	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/extractor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/search"
)

// MediaProber inspects inputs; *encoder.FFmpeg implements it.
type MediaProber interface {
	extractor.Prober
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithDriver replaces the driver for d.Domain().
func WithDriver(d Driver) Option {
	return func(s *Service) { s.drivers[d.Domain()] = d }
}

// WithProber replaces the ffprobe-backed prober.
func WithProber(p MediaProber) Option {
	return func(s *Service) { s.prober = p }
}

// WithObserver adds a search observer applied to every task.
func WithObserver(o search.Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithResultHook registers fn to be called with every finished result.
func WithResultHook(fn func(*Result)) Option {
	return func(s *Service) { s.hooks = append(s.hooks, fn) }
}

// WithIDGenerator replaces the UUID request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service validates tasks, picks a driver and reports results. It is the
// default Compressor.
type Service struct {
	cfg       *config.Config
	logger    *logrus.Logger
	prober    MediaProber
	detector  *extractor.Detector
	sizes     SizeProbe
	drivers   map[Domain]Driver
	observers search.Observers
	hooks     []func(*Result)
	newID     func() string
}

// NewService wires the default encoders from cfg. Options run after the
// defaults, so tests can swap any collaborator.
func NewService(cfg *config.Config, log *logrus.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Discard()
	}

	ffmpeg := encoder.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, cfg.Tools.ProbeTimeout)
	gs := encoder.NewGhostscript(cfg.Tools.Ghostscript)
	sizes := FileSizeProbe{}
	engine := NewEngine(sizes, cfg.Compression.FallbackRatio, cfg.Compression.StuckDelta, cfg.Compression.StuckLimit)
	c := cfg.Compression

	s := &Service{
		cfg:    cfg,
		logger: log,
		prober: ffmpeg,
		sizes:  sizes,
		newID:  uuid.NewString,
		drivers: map[Domain]Driver{
			DomainImage:    NewImageDriver(c.Image, c.ShortCircuitQuality, OpenJPEG, engine),
			DomainVideo:    NewVideoDriver(c.Video, c.AudioBitrateKbps, cfg.TempDir(), ffmpeg, engine),
			DomainAudio:    NewAudioDriver(c.Audio, ffmpeg, engine),
			DomainDocument: NewDocumentDriver(c.Document, gs, encoder.PageCount, engine, log),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.detector = extractor.NewDetector(cfg.Extensions, s.prober)
	return s
}

// Compress runs one task. It never returns nil.
func (s *Service) Compress(ctx context.Context, task Task) *Result {
	start := time.Now()
	res := s.compress(ctx, task)
	res.DurationMs = time.Since(start).Milliseconds()

	for _, hook := range s.hooks {
		hook(res)
	}
	return res
}

func (s *Service) compress(ctx context.Context, task Task) *Result {
	req, err := s.prepare(ctx, task)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"file":  task.InputPath,
			"error": err,
		}).Error("Rejected compression request")
		res := &Result{Status: StatusError, Message: err.Error(), InputPath: task.InputPath}
		if req != nil {
			res.Domain = string(req.Domain)
			res.OriginalSize = req.OriginalSize
			res.TargetSize = req.TargetSize
		}
		return res
	}

	entry := logger.WithRequest(s.logger, req.ID, req.InputPath, string(req.Domain))
	entry.WithFields(logrus.Fields{
		"original_size": req.OriginalSize,
		"target_size":   req.TargetSize,
		"duration":      req.Duration,
	}).Info("Starting compression")

	obs := search.Observers{NewLogObserver(entry)}
	obs = append(obs, s.observers...)
	obs = append(obs, task.Observer)

	res, err := s.drivers[req.Domain].Compress(ctx, *req, obs)
	if res == nil {
		res = &Result{}
	}
	res.InputPath = req.InputPath
	res.Domain = string(req.Domain)
	res.OriginalSize = req.OriginalSize
	res.TargetSize = req.TargetSize

	if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		res.OutputPath = ""
		res.Degraded = false
		res.Warning = ""
		entry.WithError(err).WithField("termination", res.Termination).Error("Compression failed")
		return res
	}

	res.complete()
	if res.Message == "" {
		res.Message = "compressed to target size"
		if res.ShortCircuit {
			res.Message = "input already within target size"
		}
	}

	logEntry := entry.WithFields(logrus.Fields{
		"final_size": res.FinalSize,
		"iterations": res.IterationsUsed,
		"parameter":  res.ParameterUsed,
		"accuracy":   res.Accuracy,
	})
	if res.Degraded {
		logEntry.Warn(res.Warning)
	} else {
		logEntry.Info("Compression finished")
	}
	return res
}

// prepare validates task and builds its request. The returned request may
// be partially filled when err is non-nil.
func (s *Service) prepare(ctx context.Context, task Task) (*Request, error) {
	var target int64
	if task.TargetSpec != "" {
		t, err := ParseTargetSize(task.TargetSpec)
		if err != nil {
			return nil, err
		}
		target = t
	} else if task.TargetPercent <= 0 {
		return nil, fmt.Errorf("%w: no target size given", ErrInvalidTargetSize)
	}

	info, err := os.Stat(task.InputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, task.InputPath)
		}
		return nil, fmt.Errorf("stat input %s: %w", task.InputPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInputNotFound, task.InputPath)
	}

	req := &Request{
		ID:           s.newID(),
		InputPath:    task.InputPath,
		OutputPath:   task.OutputPath,
		OriginalSize: info.Size(),
		TargetSize:   target,
	}

	if target == 0 {
		t, err := TargetFromPercent(req.OriginalSize, task.TargetPercent)
		if err != nil {
			return req, err
		}
		req.TargetSize = t
	}

	if err := checkWritableDir(filepath.Dir(task.OutputPath)); err != nil {
		return req, err
	}

	ft, err := s.detector.Detect(ctx, task.InputPath)
	if err != nil {
		return req, err
	}
	domain, ok := DomainFor(ft)
	if !ok {
		return req, fmt.Errorf("%w: %s", ErrUnsupportedType, task.InputPath)
	}
	req.Domain = domain
	if _, ok := s.drivers[domain]; !ok {
		return req, fmt.Errorf("%w: no driver for %s", ErrUnsupportedType, domain)
	}

	if ft.IsTimeBased() && req.OriginalSize > req.TargetSize {
		d, err := s.prober.ProbeDuration(ctx, task.InputPath)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidDuration, err)
		}
		req.Duration = d
	}
	return req, nil
}

// checkWritableDir verifies dir exists and accepts new files.
func checkWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputNotWritable, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutputNotWritable, dir)
	}
	f, err := os.CreateTemp(dir, ".media-compressor-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputNotWritable, dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// CompressAll compresses tasks with a pool of WorkerThreads workers.
// Tasks not started before ctx is done are reported as cancelled.
func (s *Service) CompressAll(ctx context.Context, tasks []Task) []*Result {
	results := make([]*Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	numWorkers := s.cfg.Performance.WorkerThreads
	if numWorkers <= 0 {
		numWorkers = 1
	}
	numWorkers = min(numWorkers, len(tasks))

	type job struct {
		index int
		task  Task
	}
	jobs := make(chan job, len(tasks))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					results[j.index] = &Result{
						Status:    StatusError,
						Message:   ctx.Err().Error(),
						InputPath: j.task.InputPath,
					}
					continue
				default:
				}
				results[j.index] = s.Compress(ctx, j.task)
			}
		}()
	}

	for i, t := range tasks {
		jobs <- job{index: i, task: t}
	}
	close(jobs)
	wg.Wait()

	return results
}

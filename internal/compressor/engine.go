package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/search"
)

// Driver compresses one domain. Implementations translate the search
// parameter into encoder settings and leave the loop to Engine.
type Driver interface {
	Domain() Domain
	Compress(ctx context.Context, req Request, obs search.Observer) (*Result, error)
}

// encodeFunc writes one attempt's artifact to output.
type encodeFunc func(ctx context.Context, output string, iteration int, param float64) error

// plan is a driver's contribution to a search run.
type plan struct {
	search    search.Config
	ext       string
	encode    encodeFunc
	parameter func(param float64) string
}

// Engine runs plans: it owns temp artifact naming, size measurement and the
// final acceptance policy shared by every driver.
type Engine struct {
	sizes         SizeProbe
	fallbackRatio float64
	stuckDelta    int64
	stuckLimit    int
}

// NewEngine returns an Engine accepting degraded results within
// fallbackRatio of the target.
func NewEngine(sizes SizeProbe, fallbackRatio float64, stuckDelta int64, stuckLimit int) *Engine {
	if sizes == nil {
		sizes = FileSizeProbe{}
	}
	return &Engine{
		sizes:         sizes,
		fallbackRatio: fallbackRatio,
		stuckDelta:    stuckDelta,
		stuckLimit:    stuckLimit,
	}
}

func (e *Engine) run(ctx context.Context, req Request, p plan, obs search.Observer) (*Result, error) {
	cfg := p.search
	if cfg.StuckDelta == 0 {
		cfg.StuckDelta = e.stuckDelta
	}
	if cfg.StuckLimit == 0 {
		cfg.StuckLimit = e.stuckLimit
	}

	searcher, err := search.New(cfg, obs)
	if err != nil {
		return nil, fmt.Errorf("configure search: %w", err)
	}
	cfg = searcher.Config()

	attempt := func(ctx context.Context, iteration int, param float64) (search.Candidate, error) {
		path := req.tempPath(iteration, p.ext)
		if err := p.encode(ctx, path, iteration, param); err != nil {
			_ = removeIfExists(path)
			var resErr *encoder.ResourceError
			if errors.As(err, &resErr) {
				return search.Candidate{}, search.Fatal(err)
			}
			return search.Candidate{}, err
		}

		size, err := e.sizes.Size(path)
		if err != nil {
			_ = removeIfExists(path)
			if errors.Is(err, fs.ErrNotExist) {
				return search.Candidate{}, fmt.Errorf("encoder produced no output at %s", path)
			}
			return search.Candidate{}, search.Fatal(&encoder.ResourceError{Op: "stat", Path: path, Err: err})
		}
		if size == 0 {
			_ = removeIfExists(path)
			return search.Candidate{}, fmt.Errorf("encoder produced an empty file at %s", path)
		}
		return search.Candidate{Path: path, Size: size}, nil
	}

	tracker := search.NewTracker(req.TargetSize)
	outcome, runErr := searcher.Run(ctx, req.TargetSize, attempt, tracker)

	res := &Result{
		IterationsUsed: outcome.Iterations,
		Termination:    outcome.Reason.String(),
	}

	if runErr != nil {
		_ = tracker.Discard()
		e.sweep(req)
		return res, runErr
	}

	best, ok := tracker.Finalize()
	if !ok {
		e.sweep(req)
		return res, fmt.Errorf("%w: none of %d attempts succeeded: %v",
			ErrTargetUnreachable, outcome.Iterations, lastAttemptError(outcome))
	}

	res.CompressedSize = best.Size
	res.ParameterUsed = p.parameter(best.Parameter)

	switch {
	case search.Within(best.Size, req.TargetSize, cfg.Tolerance):
	case search.Within(best.Size, req.TargetSize, e.fallbackRatio):
		res.Degraded = true
		res.Warning = fmt.Sprintf("achieved %d bytes is outside the %.0f%% tolerance of target %d bytes",
			best.Size, cfg.Tolerance*100, req.TargetSize)
	default:
		_ = removeIfExists(best.Path)
		return res, fmt.Errorf("%w: best %d bytes vs target %d bytes",
			ErrTargetUnreachable, best.Size, req.TargetSize)
	}

	if err := os.Rename(best.Path, req.OutputPath); err != nil {
		_ = removeIfExists(best.Path)
		return res, &encoder.ResourceError{Op: "rename", Path: req.OutputPath, Err: err}
	}

	res.Status = StatusSuccess
	res.OutputPath = req.OutputPath
	return res, nil
}

// passthrough finishes a request whose input already fits. produce writes
// the output artifact to the given temp path.
func (e *Engine) passthrough(ctx context.Context, req Request, ext, parameter string,
	produce func(ctx context.Context, tmp string) error) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp := req.tempPath(0, ext)
	if err := produce(ctx, tmp); err != nil {
		_ = removeIfExists(tmp)
		return nil, err
	}

	size, err := e.sizes.Size(tmp)
	if err != nil {
		_ = removeIfExists(tmp)
		return nil, &encoder.ResourceError{Op: "stat", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, req.OutputPath); err != nil {
		_ = removeIfExists(tmp)
		return nil, &encoder.ResourceError{Op: "rename", Path: req.OutputPath, Err: err}
	}

	return &Result{
		Status:         StatusSuccess,
		OutputPath:     req.OutputPath,
		CompressedSize: size,
		ParameterUsed:  parameter,
		ShortCircuit:   true,
	}, nil
}

// copyInput is a passthrough producer that copies the input unchanged.
func copyInput(req Request) func(ctx context.Context, tmp string) error {
	return func(ctx context.Context, tmp string) error {
		return copyFile(req.InputPath, tmp)
	}
}

// sweep removes any artifact of req left behind after a failed run.
func (e *Engine) sweep(req Request) {
	matches, err := filepath.Glob(req.tempGlob())
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = removeIfExists(m)
	}
}

func lastAttemptError(out search.Outcome) error {
	for i := len(out.Steps) - 1; i >= 0; i-- {
		if out.Steps[i].Err != nil {
			return out.Steps[i].Err
		}
	}
	return errors.New("no attempts were made")
}

// copyFile copies file src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &encoder.ResourceError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return &encoder.ResourceError{Op: "write", Path: dst, Err: err}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return &encoder.ResourceError{Op: "sync", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &encoder.ResourceError{Op: "close", Path: dst, Err: err}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

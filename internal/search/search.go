package search

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Termination describes why a search run stopped.
type Termination int

const (
	// Converged means the bounds collapsed or an acceptable candidate was found.
	Converged Termination = iota + 1
	// Stuck means the measured size stopped reacting to the parameter.
	Stuck
	// Exhausted means the iteration budget ran out.
	Exhausted
	// Cancelled means the caller's context ended the run between attempts.
	Cancelled
	// Aborted means an attempt returned a fatal error.
	Aborted
)

// String returns the name used in logs and result records.
func (t Termination) String() string {
	switch t {
	case Converged:
		return "converged"
	case Stuck:
		return "stuck"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Direction tells the search how output size moves as the parameter grows.
type Direction int

const (
	// Increasing axes produce larger output for larger parameters.
	Increasing Direction = iota
	// Decreasing axes produce smaller output for larger parameters.
	Decreasing
)

// Defaults for stuck detection.
const (
	DefaultStuckDelta int64 = 1000
	DefaultStuckLimit       = 3
)

// Config parameterizes one search run for a domain.
type Config struct {
	Low       float64
	High      float64
	Integer   bool
	Direction Direction

	// Convergence is the bound width at which the search stops. Zero picks
	// 1 for integer axes and 10 otherwise.
	Convergence float64

	Tolerance     float64
	MaxIterations int

	// Initial replaces the first midpoint when positive. It is clamped into bounds.
	Initial float64

	// MinAcceptRatio stops the run early once the best candidate is within
	// tolerance and at least MinAcceptRatio*target.
	MinAcceptRatio float64

	StuckDelta int64
	StuckLimit int
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.High <= c.Low {
		return fmt.Errorf("invalid bounds: low %.2f must be below high %.2f", c.Low, c.High)
	}
	if c.Tolerance <= 0 || c.Tolerance >= 1 {
		return fmt.Errorf("tolerance must be in (0, 1): %.3f", c.Tolerance)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive: %d", c.MaxIterations)
	}
	if c.Convergence <= 0 {
		if c.Integer {
			c.Convergence = 1
		} else {
			c.Convergence = 10
		}
	}
	if c.StuckDelta <= 0 {
		c.StuckDelta = DefaultStuckDelta
	}
	if c.StuckLimit <= 0 {
		c.StuckLimit = DefaultStuckLimit
	}
	return nil
}

// Attempt encodes at parameter and returns the produced candidate. Errors
// are treated as failed attempts unless wrapped with Fatal.
type Attempt func(ctx context.Context, iteration int, parameter float64) (Candidate, error)

// Step records a single attempt and the bounds after it was applied.
type Step struct {
	Iteration int
	Parameter float64
	Size      int64
	Err       error
	Within    bool
	Low       float64
	High      float64
}

// Outcome is the result of a search run.
type Outcome struct {
	Reason     Termination
	Iterations int
	Steps      []Step
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an attempt error as non-recoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Within reports whether size is within fraction of target.
func Within(size, target int64, fraction float64) bool {
	return math.Abs(float64(size-target)) <= float64(target)*fraction
}

// Searcher runs the bisection over one encoder parameter.
type Searcher struct {
	cfg      Config
	observer Observer
}

// New returns a Searcher for cfg. A nil observer is replaced with NopObserver.
func New(cfg Config, observer Observer) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Searcher{cfg: cfg, observer: observer}, nil
}

// Config returns the validated config.
func (s *Searcher) Config() Config {
	return s.cfg
}

type state struct {
	low      float64
	high     float64
	lastSize int64
	measured bool
	stuck    int
}

// Run searches for a parameter whose output lands near target. Successful
// candidates are handed to tracker, which owns their artifacts. The returned
// error is non-nil only for cancellation, fatal attempt errors and tracker
// failures.
func (s *Searcher) Run(ctx context.Context, target int64, attempt Attempt, tracker *Tracker) (Outcome, error) {
	if target <= 0 {
		return Outcome{}, fmt.Errorf("target size must be positive: %d", target)
	}

	st := &state{low: s.cfg.Low, high: s.cfg.High}
	out := Outcome{}

	finish := func(reason Termination, err error) (Outcome, error) {
		out.Reason = reason
		s.observer.SearchFinished(out)
		return out, err
	}

	for out.Iterations < s.cfg.MaxIterations {
		if st.high-st.low <= s.cfg.Convergence {
			return finish(Converged, nil)
		}

		param := s.propose(st, out.Iterations)
		if err := ctx.Err(); err != nil {
			return finish(Cancelled, err)
		}

		out.Iterations++
		step := Step{Iteration: out.Iterations, Parameter: param}

		cand, err := attempt(ctx, out.Iterations, param)
		if err != nil {
			step.Err = err
			if IsFatal(err) {
				s.record(&out, step, st)
				return finish(Aborted, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.record(&out, step, st)
				return finish(Cancelled, ctxErr)
			}
			s.narrow(st, param, true)
			s.record(&out, step, st)
			continue
		}

		cand.Parameter = param
		cand.Iteration = out.Iterations
		step.Size = cand.Size
		step.Within = Within(cand.Size, target, s.cfg.Tolerance)

		if err := tracker.Consider(cand); err != nil {
			s.record(&out, step, st)
			return finish(Aborted, err)
		}

		s.narrow(st, param, cand.Size > target)
		s.record(&out, step, st)

		if best, ok := tracker.Best(); ok && step.Within && Within(best.Size, target, s.cfg.Tolerance) &&
			float64(best.Size) >= s.cfg.MinAcceptRatio*float64(target) {
			return finish(Converged, nil)
		}

		if st.measured && abs64(cand.Size-st.lastSize) < s.cfg.StuckDelta {
			st.stuck++
		} else {
			st.stuck = 0
		}
		st.lastSize = cand.Size
		st.measured = true
		if st.stuck >= s.cfg.StuckLimit {
			return finish(Stuck, nil)
		}
	}

	return finish(Exhausted, nil)
}

func (s *Searcher) record(out *Outcome, step Step, st *state) {
	step.Low, step.High = st.low, st.high
	out.Steps = append(out.Steps, step)
	s.observer.AttemptFinished(step)
}

// propose returns the next parameter to try.
func (s *Searcher) propose(st *state, done int) float64 {
	var p float64
	if done == 0 && s.cfg.Initial > 0 {
		p = math.Max(st.low, math.Min(st.high, s.cfg.Initial))
	} else {
		p = (st.low + st.high) / 2
	}
	if s.cfg.Integer {
		p = math.Floor(p)
	}
	return p
}

// narrow moves one bound to param. over means the attempt produced output
// larger than target, or failed.
func (s *Searcher) narrow(st *state, param float64, over bool) {
	step := 0.0
	if s.cfg.Integer {
		step = 1
	}
	shrinkHigh := over == (s.cfg.Direction == Increasing)
	if shrinkHigh {
		st.high = param - step
	} else {
		st.low = param + step
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package search

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Candidate is a successful attempt and the artifact it produced.
type Candidate struct {
	Parameter float64
	Path      string
	Size      int64
	Iteration int
}

// Tracker holds the best candidate seen so far and owns its artifact.
// Superseded and rejected artifacts are deleted before Consider returns.
type Tracker struct {
	target int64
	remove func(path string) error
	best   *Candidate
}

// NewTracker returns a Tracker that deletes artifacts with os.Remove.
func NewTracker(target int64) *Tracker {
	return NewTrackerWithRemover(target, removeFile)
}

// NewTrackerWithRemover returns a Tracker using remove to delete artifacts.
func NewTrackerWithRemover(target int64, remove func(path string) error) *Tracker {
	return &Tracker{target: target, remove: remove}
}

// Consider adopts c if it is closer to target than the current best, with
// ties going to the candidate at or above target. The loser's artifact is
// deleted.
func (t *Tracker) Consider(c Candidate) error {
	if t.best == nil {
		t.best = &c
		return nil
	}

	if t.prefers(c, *t.best) {
		if t.best.Path != c.Path {
			if err := t.remove(t.best.Path); err != nil {
				return fmt.Errorf("remove superseded candidate %s: %w", t.best.Path, err)
			}
		}
		t.best = &c
		return nil
	}

	if c.Path != t.best.Path {
		if err := t.remove(c.Path); err != nil {
			return fmt.Errorf("remove rejected candidate %s: %w", c.Path, err)
		}
	}
	return nil
}

// Best returns the current best without transferring ownership.
func (t *Tracker) Best() (Candidate, bool) {
	if t.best == nil {
		return Candidate{}, false
	}
	return *t.best, true
}

// Finalize returns the best candidate and hands its artifact to the caller.
func (t *Tracker) Finalize() (Candidate, bool) {
	c, ok := t.Best()
	t.best = nil
	return c, ok
}

// Discard deletes the held artifact, if any.
func (t *Tracker) Discard() error {
	if t.best == nil {
		return nil
	}
	path := t.best.Path
	t.best = nil
	if err := t.remove(path); err != nil {
		return fmt.Errorf("discard candidate %s: %w", path, err)
	}
	return nil
}

func (t *Tracker) prefers(a, b Candidate) bool {
	da, db := t.distance(a), t.distance(b)
	if da != db {
		return da < db
	}
	return a.Size >= t.target && b.Size < t.target
}

func (t *Tracker) distance(c Candidate) int64 {
	return abs64(c.Size - t.target)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

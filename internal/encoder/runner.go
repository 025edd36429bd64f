package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrMissingBinary is returned when an external tool is not on PATH.
	ErrMissingBinary = errors.New("encoder binary not found")
	// ErrTimeout is returned when an invocation exceeds its own timeout.
	ErrTimeout = errors.New("encoder timed out")
)

const stderrTail = 2048

// InvocationError describes an external tool that ran and exited non-zero.
type InvocationError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ResourceError marks failures of our own filesystem operations, as opposed
// to failures of the encoder. These abort a search instead of narrowing it.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Run executes name with args, bounded by timeout, and returns stdout.
// A zero timeout means only ctx bounds the call.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingBinary, name)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	// caller cancellation wins over our own deadline
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &InvocationError{
			Tool:     name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   tail(stderr.String(), stderrTail),
			Err:      err,
		}
	}
	return nil, fmt.Errorf("run %s: %w", name, err)
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

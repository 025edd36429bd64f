package encoder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if !Available("sh") {
		t.Skip("sh not available")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	requireShell(t)
	out, err := Run(context.Background(), time.Second, "sh", "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), time.Second, "definitely-not-an-encoder-binary")
	assert.ErrorIs(t, err, ErrMissingBinary)
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)
	_, err := Run(context.Background(), time.Second, "sh", "-c", "echo boom >&2; exit 3")

	var inv *InvocationError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 3, inv.ExitCode)
	assert.Equal(t, "boom", inv.Stderr)
	assert.Contains(t, inv.Error(), "code 3")
}

func TestRunTimeout(t *testing.T) {
	requireShell(t)
	start := time.Now()
	_, err := Run(context.Background(), 50*time.Millisecond, "sh", "-c", "sleep 5")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunCallerCancellation(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, 10*time.Second, "sh", "-c", "sleep 5")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc\n", 10))
	assert.Equal(t, "cde", tail("abcde", 3))
	assert.Len(t, tail(strings.Repeat("x", 5000), stderrTail), stderrTail)
}

func TestResourceErrorUnwraps(t *testing.T) {
	base := errors.New("disk full")
	err := &ResourceError{Op: "write", Path: "/tmp/x", Err: base}
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "write /tmp/x: disk full", err.Error())
}

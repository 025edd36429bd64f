package compressor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-compressor-go/internal/encoder"
	"media-compressor-go/internal/search"
)

func imageRequest(t *testing.T, dir string, original, target int64) Request {
	t.Helper()
	return Request{
		ID:           "req1",
		InputPath:    newInput(t, dir, "in.jpg", original),
		OutputPath:   filepath.Join(dir, "out.jpg"),
		Domain:       DomainImage,
		OriginalSize: original,
		TargetSize:   target,
	}
}

func TestImageDriverConverges(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 2000000, 500000)
	enc := &fakeImage{size: func(q int) int64 { return int64(q) * 10000 }}

	d := NewImageDriver(imageConfig(0.05), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.LessOrEqual(t, res.IterationsUsed, 10)
	assert.GreaterOrEqual(t, res.CompressedSize, int64(475000))
	assert.LessOrEqual(t, res.CompressedSize, int64(525000))
	assert.Equal(t, "q50", res.ParameterUsed)
	assert.Equal(t, "converged", res.Termination)
	assert.False(t, res.Degraded)

	info, err := os.Stat(req.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, res.CompressedSize, info.Size())
	assert.ElementsMatch(t, []string{"in.jpg", "out.jpg"}, dirEntries(t, dir))
}

func TestImageDriverShortCircuit(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 1000, 5000)
	enc := &fakeImage{size: func(q int) int64 { return 900 }}

	d := NewImageDriver(imageConfig(0.15), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{85}, enc.qualities)
	assert.True(t, res.ShortCircuit)
	assert.Equal(t, 0, res.IterationsUsed)
	assert.Equal(t, "q85", res.ParameterUsed)
	assert.Equal(t, int64(900), res.CompressedSize)
	assert.ElementsMatch(t, []string{"in.jpg", "out.jpg"}, dirEntries(t, dir))
}

func TestImageDriverStuckOutsideFallbackFails(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 500000)
	enc := &fakeImage{size: func(q int) int64 { return 2000001 }}

	d := NewImageDriver(imageConfig(0.15), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, nil)

	assert.ErrorIs(t, err, ErrTargetUnreachable)
	assert.Contains(t, err.Error(), "2000001")
	assert.Equal(t, "stuck", res.Termination)
	assert.Equal(t, search.DefaultStuckLimit+1, res.IterationsUsed)
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, dir))
}

func TestImageDriverDegradedWithinFallback(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 600000)
	enc := &fakeImage{size: func(q int) int64 { return 700000 }}

	d := NewImageDriver(imageConfig(0.15), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, "stuck", res.Termination)
	assert.Equal(t, int64(700000), res.CompressedSize)
	assert.ElementsMatch(t, []string{"in.jpg", "out.jpg"}, dirEntries(t, dir))
}

func TestImageDriverAllAttemptsFail(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 600000)
	enc := &fakeImage{err: errors.New("encoder crashed")}

	d := NewImageDriver(imageConfig(0.15), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, nil)

	assert.ErrorIs(t, err, ErrTargetUnreachable)
	assert.Contains(t, err.Error(), "encoder crashed")
	assert.Positive(t, res.IterationsUsed)
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, dir))
}

func TestImageDriverResourceErrorAborts(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 600000)
	diskFull := &encoder.ResourceError{Op: "write", Path: "x", Err: errors.New("no space left on device")}
	enc := &fakeImage{err: diskFull}

	d := NewImageDriver(imageConfig(0.15), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, nil)

	var resErr *encoder.ResourceError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "aborted", res.Termination)
	assert.Equal(t, 1, res.IterationsUsed)
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, dir))
}

func TestImageDriverCancelledBeforeFirstAttempt(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 600000)
	enc := &fakeImage{size: func(q int) int64 { return int64(q) * 10000 }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewImageDriver(imageConfig(0.15), 85, enc.opener(), testEngine())
	res, err := d.Compress(ctx, req, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", res.Termination)
	assert.Empty(t, enc.qualities)
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, dir))
}

func TestImageDriverMissingOutputIsFailedAttempt(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 600000)

	var calls int
	silent := QualityEncoderFunc(func(ctx context.Context, output string, quality int) error {
		calls++
		return nil
	})
	open := func(string) (QualityEncoder, error) { return silent, nil }

	d := NewImageDriver(imageConfig(0.15), 85, open, testEngine())
	_, err := d.Compress(context.Background(), req, nil)

	assert.ErrorIs(t, err, ErrTargetUnreachable)
	assert.Contains(t, err.Error(), "no output")
	assert.Positive(t, calls)
}

func TestImageDriverUndecodableInput(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 3000000, 600000)
	open := func(string) (QualityEncoder, error) { return nil, errors.New("image: unknown format") }

	d := NewImageDriver(imageConfig(0.15), 85, open, testEngine())
	_, err := d.Compress(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestEngineReportsStepsToObserver(t *testing.T) {
	dir := t.TempDir()
	req := imageRequest(t, dir, 2000000, 500000)
	enc := &fakeImage{size: func(q int) int64 { return int64(q) * 10000 }}
	obs := &countingObserver{}

	d := NewImageDriver(imageConfig(0.05), 85, enc.opener(), testEngine())
	res, err := d.Compress(context.Background(), req, obs)
	require.NoError(t, err)

	assert.Equal(t, res.IterationsUsed, obs.attempts)
	assert.Equal(t, 1, obs.finished)
}

type countingObserver struct {
	attempts int
	finished int
}

func (c *countingObserver) AttemptFinished(search.Step)   { c.attempts++ }
func (c *countingObserver) SearchFinished(search.Outcome) { c.finished++ }

// QualityEncoderFunc adapts a function to QualityEncoder.
type QualityEncoderFunc func(ctx context.Context, output string, quality int) error

func (f QualityEncoderFunc) Encode(ctx context.Context, output string, quality int) error {
	return f(ctx, output, quality)
}

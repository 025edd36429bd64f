package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"

	"github.com/disintegration/imaging"
)

// JPEGEncoder re-encodes one decoded image at varying quality.
// The source is decoded once; every attempt only pays for encoding.
type JPEGEncoder struct {
	img image.Image
}

// OpenImage decodes path, applying EXIF orientation.
func OpenImage(path string) (*JPEGEncoder, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	return &JPEGEncoder{img: img}, nil
}

// NewJPEGEncoder wraps an already decoded image.
func NewJPEGEncoder(img image.Image) *JPEGEncoder {
	return &JPEGEncoder{img: img}
}

// Encode writes the image to output as JPEG at quality (1-100).
// Failing to create, write or close output is a ResourceError; an encoding
// failure is an ordinary error.
func (e *JPEGEncoder) Encode(ctx context.Context, output string, quality int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return &ResourceError{Op: "create", Path: output, Err: err}
	}

	w := bufio.NewWriter(f)
	encErr := imaging.Encode(w, e.img, imaging.JPEG, imaging.JPEGQuality(quality))
	var flushErr error
	if encErr == nil {
		flushErr = w.Flush()
	}
	closeErr := f.Close()

	switch {
	case encErr != nil:
		discard(output)
		if isWriteError(encErr) {
			return &ResourceError{Op: "write", Path: output, Err: encErr}
		}
		return fmt.Errorf("encode jpeg at quality %d: %w", quality, encErr)
	case flushErr != nil:
		discard(output)
		return &ResourceError{Op: "write", Path: output, Err: flushErr}
	case closeErr != nil:
		discard(output)
		return &ResourceError{Op: "close", Path: output, Err: closeErr}
	}
	return nil
}

// isWriteError reports whether err came from the file rather than the codec.
func isWriteError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

// discard removes a partial output. Only regular files are removed, so a
// device such as /dev/null given as output is left alone.
func discard(path string) {
	if info, err := os.Lstat(path); err == nil && info.Mode().IsRegular() {
		_ = os.Remove(path)
	}
}

package compressor

import "errors"

// Input errors fail a request before any encoder runs.
var (
	ErrInvalidTargetSize = errors.New("invalid target size")
	ErrInputNotFound     = errors.New("input file not found")
	ErrOutputNotWritable = errors.New("output location not writable")
	ErrUnsupportedType   = errors.New("unsupported file type")
	ErrInvalidDuration   = errors.New("could not determine media duration")
)

// ErrTargetUnreachable is returned when no candidate lands within the
// fallback ratio of the target.
var ErrTargetUnreachable = errors.New("could not compress to target size")

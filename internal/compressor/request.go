package compressor

import (
	"fmt"
	"path/filepath"
	"strings"

	"media-compressor-go/internal/extractor"
)

// Domain selects the driver for a request.
type Domain string

const (
	DomainImage    Domain = "image"
	DomainVideo    Domain = "video"
	DomainAudio    Domain = "audio"
	DomainDocument Domain = "document"
)

// DomainFor maps a detected file type to its domain.
func DomainFor(ft extractor.FileType) (Domain, bool) {
	switch ft {
	case extractor.FileTypeImage:
		return DomainImage, true
	case extractor.FileTypeVideo:
		return DomainVideo, true
	case extractor.FileTypeAudio:
		return DomainAudio, true
	case extractor.FileTypeDocument:
		return DomainDocument, true
	default:
		return "", false
	}
}

// Request is one validated compression job. It is never mutated after the
// service builds it.
type Request struct {
	ID           string
	InputPath    string
	OutputPath   string
	Domain       Domain
	TargetSize   int64
	OriginalSize int64
	// Duration in seconds, set for video and audio.
	Duration float64
}

// Extension returns the lower-cased input extension.
func (r Request) Extension() string {
	return strings.ToLower(filepath.Ext(r.InputPath))
}

// outputExt returns the output extension, or fallback when it has none.
func (r Request) outputExt(fallback string) string {
	if ext := filepath.Ext(r.OutputPath); ext != "" {
		return ext
	}
	return fallback
}

// tempPath names the artifact of one attempt. Iteration 0 is used for
// short-circuit outputs.
func (r Request) tempPath(iteration int, ext string) string {
	return fmt.Sprintf("%s.%s.iter%d%s", r.OutputPath, r.ID, iteration, ext)
}

func (r Request) tempGlob() string {
	return fmt.Sprintf("%s.%s.iter*", r.OutputPath, r.ID)
}

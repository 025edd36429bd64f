package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// ExifToolExtractor reads metadata of any media type through the exiftool
// binary. It covers video, audio and PDF files that goexif cannot parse.
type ExifToolExtractor struct {
	logger *logrus.Logger
	binary string
}

// NewExifToolExtractor returns an extractor using binary, or exiftool on
// PATH when binary is empty.
func NewExifToolExtractor(logger *logrus.Logger, binary string) *ExifToolExtractor {
	return &ExifToolExtractor{logger: logger, binary: binary}
}

// Extract runs exiftool over filePath. A fresh exiftool process is started
// per call; probe is an interactive command, not a hot path.
func (e *ExifToolExtractor) Extract(filePath string) (*Metadata, error) {
	var opts []func(*exiftool.Exiftool) error
	if e.binary != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(e.binary))
	}

	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(filePath)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", filePath)
	}
	if files[0].Err != nil {
		return nil, fmt.Errorf("exiftool %s: %w", filePath, files[0].Err)
	}

	md := &Metadata{Source: MetadataSourceExifTool, Fields: make(map[string]string, len(files[0].Fields))}
	for k, v := range files[0].Fields {
		md.Fields[k] = fmt.Sprint(v)
	}
	for _, key := range []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate"} {
		if date := parseEXIFDateTime(md.Fields[key]); date != nil {
			md.CaptureTime = date
			break
		}
	}

	e.logger.Debugf("exiftool returned %d fields for %s", len(md.Fields), filePath)
	return md, nil
}

// SupportsFile reports true for every path; exiftool decides what it can read.
func (e *ExifToolExtractor) SupportsFile(filePath string) bool {
	return strings.TrimSpace(filePath) != ""
}

// GetPriority returns the priority of this extractor.
func (e *ExifToolExtractor) GetPriority() int {
	return 100
}

// Chain tries extractors in descending priority and returns the first success.
type Chain struct {
	extractors []MetadataExtractor
}

// NewChain sorts extractors by priority.
func NewChain(extractors ...MetadataExtractor) *Chain {
	sorted := append([]MetadataExtractor(nil), extractors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GetPriority() > sorted[j].GetPriority()
	})
	return &Chain{extractors: sorted}
}

// Extract returns metadata from the first extractor that supports filePath
// and succeeds. The last error is returned if none succeed.
func (c *Chain) Extract(filePath string) (*Metadata, error) {
	lastErr := fmt.Errorf("no metadata extractor supports %s", filePath)
	for _, ex := range c.extractors {
		if !ex.SupportsFile(filePath) {
			continue
		}
		md, err := ex.Extract(filePath)
		if err == nil {
			return md, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

package extractor

import (
	"time"
)

// MetadataExtractor reads descriptive metadata from a media file.
type MetadataExtractor interface {
	Extract(filePath string) (*Metadata, error)
	SupportsFile(filePath string) bool
	GetPriority() int
}

// CachedMetadataExtractor extends MetadataExtractor with caching capabilities.
type CachedMetadataExtractor interface {
	MetadataExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// FileType is the compression domain a file belongs to.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeImage
	FileTypeVideo
	FileTypeAudio
	FileTypeDocument
)

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Size         int
	MaxSize      int
	HitRate      float64
	TotalQueries int64
}

// MetadataSource identifies which backend produced a Metadata value.
type MetadataSource int

const (
	MetadataSourceUnknown MetadataSource = iota
	MetadataSourceExifTool
	MetadataSourceGoExif
)

// Metadata is a flat view of a file's tags.
type Metadata struct {
	Source      MetadataSource
	Fields      map[string]string
	CaptureTime *time.Time
}

// String returns a human-readable description of the metadata source.
func (ms MetadataSource) String() string {
	switch ms {
	case MetadataSourceExifTool:
		return "exiftool"
	case MetadataSourceGoExif:
		return "goexif"
	default:
		return "unknown"
	}
}

// String returns the string representation of the FileType.
func (ft FileType) String() string {
	switch ft {
	case FileTypeImage:
		return "image"
	case FileTypeVideo:
		return "video"
	case FileTypeAudio:
		return "audio"
	case FileTypeDocument:
		return "document"
	default:
		return "unknown"
	}
}

// IsImage reports whether the file type is an image.
func (ft FileType) IsImage() bool {
	return ft == FileTypeImage
}

// IsVideo reports whether the file type is a video.
func (ft FileType) IsVideo() bool {
	return ft == FileTypeVideo
}

// IsTimeBased reports whether compressing the type needs a probed duration.
func (ft FileType) IsTimeBased() bool {
	return ft == FileTypeVideo || ft == FileTypeAudio
}

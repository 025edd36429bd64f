package compressor

import (
	"fmt"
	"os"
)

// SizeProbe measures artifacts. It is the only size the search trusts.
type SizeProbe interface {
	Size(path string) (int64, error)
}

// FileSizeProbe reads sizes from the filesystem.
type FileSizeProbe struct{}

// Size returns the size of the regular file at path.
func (FileSizeProbe) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	return info.Size(), nil
}

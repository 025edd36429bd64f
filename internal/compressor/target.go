package compressor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var targetPattern = regexp.MustCompile(`(?i)^(\d+)(KB|MB)$`)

// ParseTargetSize converts "500KB" or "2MB" (case-insensitive) to bytes.
// KB is 1024 bytes and MB is 1024*1024 bytes.
func ParseTargetSize(spec string) (int64, error) {
	m := targetPattern.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (expected e.g. 500KB or 2MB)", ErrInvalidTargetSize, spec)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTargetSize, spec, err)
	}

	unit := int64(1024)
	if strings.EqualFold(m[2], "MB") {
		unit = 1024 * 1024
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidTargetSize, spec)
	}
	if n > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidTargetSize, spec)
	}
	return n * unit, nil
}

// TargetFromPercent returns percent of original, e.g. 25 for a quarter.
func TargetFromPercent(original int64, percent float64) (int64, error) {
	if percent <= 0 || percent > 100 {
		return 0, fmt.Errorf("%w: percentage %.2f must be in (0, 100]", ErrInvalidTargetSize, percent)
	}
	target := int64(float64(original) * percent / 100)
	if target <= 0 {
		return 0, fmt.Errorf("%w: %.2f%% of %d bytes is empty", ErrInvalidTargetSize, percent, original)
	}
	return target, nil
}

package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits maps a case-insensitive unit suffix to its byte multiplier,
// 1024-based per spec.md §4.3.
var sizeUnits = map[string]int64{
	"B":  1,
	"KB": 1024,
	"MB": 1024 * 1024,
	"GB": 1024 * 1024 * 1024,
	"TB": 1024 * 1024 * 1024 * 1024,
}

// ParseSize parses a human-readable size string ("5MB", "512KB", "100") into
// a byte count. A bare number with no unit is interpreted as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("schema: empty size string")
	}

	for _, unit := range []string{"TB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(strings.ToUpper(s), unit) {
			numPart := strings.TrimSpace(s[:len(s)-len(unit)])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("schema: invalid size %q: %w", s, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("schema: size %q must not be negative", s)
			}
			return int64(n * float64(sizeUnits[unit])), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("schema: invalid size %q: expected a number optionally followed by B/KB/MB/GB/TB", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("schema: size %q must not be negative", s)
	}
	return n, nil
}

// MaxSingleObjectBytes is the S3 single-PUT size limit (5 GiB); spec.md §3
// requires maxSize ≤ this ceiling for every schema.
const MaxSingleObjectBytes int64 = 5 * 1024 * 1024 * 1024

package match

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Size unit multipliers.
const (
	Byte int64 = 1

	KB int64 = 1000
	MB int64 = 1000 * KB
	GB int64 = 1000 * MB

	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

var sizeUnits = map[string]int64{
	"": Byte, "B": Byte,
	"K": KB, "KB": KB, "M": MB, "MB": MB, "G": GB, "GB": GB,
	"KI": KiB, "KIB": KiB, "MI": MiB, "MIB": MiB, "GI": GiB, "GIB": GiB,
}

// ParseSize parses "1024", "2.5MB" or "100MiB". KB/MB/GB are base-10,
// KiB/MiB/GiB base-2. Units are case insensitive.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if end == -1 {
		end = len(s)
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	mult, ok := sizeUnits[strings.ToUpper(strings.TrimSpace(s[end:]))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSize, s[end:])
	}

	num, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsInf(num, 0) || math.IsNaN(num) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	bytes := num * float64(mult)
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
	}
	return int64(bytes), nil
}

// FormatSize renders bytes with base-2 units.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= GiB:
		return fmt.Sprintf("%.1fGiB", float64(bytes)/float64(GiB))
	case bytes >= MiB:
		return fmt.Sprintf("%.1fMiB", float64(bytes)/float64(MiB))
	case bytes >= KiB:
		return fmt.Sprintf("%.1fKiB", float64(bytes)/float64(KiB))
	}
	return fmt.Sprintf("%dB", bytes)
}

// ParseDate accepts "2024-01-15" (midnight UTC) or an RFC 3339 timestamp,
// with or without fractional seconds. Results are in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

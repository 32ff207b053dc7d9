package metrics

import (
	"fmt"
	"math"
)

// FormatDuration renders milliseconds with the largest unit that keeps the
// value readable, rounded to the nearest integer. NaN renders as "0ms" and
// values beyond the int64 range saturate.
func FormatDuration(ms float64) string {
	switch {
	case math.IsNaN(ms):
		return "0ms"
	case ms < 1000:
		return fmt.Sprintf("%dms", roundUnits(ms))
	case ms < 60000:
		return fmt.Sprintf("%ds", roundUnits(ms/1000))
	case ms < 3600000:
		return fmt.Sprintf("%dmin", roundUnits(ms/60000))
	default:
		return fmt.Sprintf("%dh", roundUnits(ms/3600000))
	}
}

func roundUnits(v float64) int64 {
	r := math.Round(v)
	switch {
	case r >= math.MaxInt64:
		return math.MaxInt64
	case r <= math.MinInt64:
		return math.MinInt64
	}
	return int64(r)
}

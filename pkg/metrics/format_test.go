package metrics_test

import (
	"math"
	"testing"

	"github.com/ignatij/flowmetrics/pkg/metrics"
	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0ms"},
		{500, "500ms"},
		{999.4, "999ms"},
		{1000, "1s"},
		{1500, "2s"},
		{59000, "59s"},
		{60000, "1min"},
		{90000, "2min"},
		{3599999, "60min"},
		{3600000, "1h"},
		{7200000, "2h"},
		{180000, "3min"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, metrics.FormatDuration(tt.ms), "ms=%v", tt.ms)
	}
}

func TestFormatDuration_OutOfRange(t *testing.T) {
	assert.Equal(t, "0ms", metrics.FormatDuration(math.NaN()))
	assert.Equal(t, "9223372036854775807h", metrics.FormatDuration(1e300))
	assert.Equal(t, "9223372036854775807h", metrics.FormatDuration(math.Inf(1)))
	assert.Equal(t, "-9223372036854775808ms", metrics.FormatDuration(math.Inf(-1)))
	assert.Equal(t, "-500ms", metrics.FormatDuration(-500))
}

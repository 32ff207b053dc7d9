// Package metrics computes monitoring statistics from workflow execution records.
//
// Aggregation is best effort: a record that cannot support a statistic (no
// start time, no stop time, negative span, unrecognised status) is left out of
// that statistic only and still counted wherever it validly can be.
package metrics

import (
	"sort"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
)

// ComputeMetrics aggregates records over the inclusive calendar-day window
// [windowStart, windowEnd]. The only error is ErrInvalidWindow.
func ComputeMetrics(records []models.ExecutionRecord, windowStart, windowEnd time.Time) (models.MetricsReport, error) {
	w, err := NewWindow(windowStart, windowEnd)
	if err != nil {
		return models.MetricsReport{}, err
	}
	return Compute(records, w)
}

// Compute aggregates records over w. A window ending on an earlier day than it
// starts yields ErrInvalidWindow.
func Compute(records []models.ExecutionRecord, w Window) (models.MetricsReport, error) {
	if w.Len() < 1 {
		return models.MetricsReport{}, ErrInvalidWindow
	}
	durations := make([]int64, 0, len(records))
	for _, r := range records {
		if d, ok := r.Duration(); ok {
			durations = append(durations, d)
		}
	}

	perf := performance(durations)
	ov := overview(records)
	ov.AverageDuration = perf.Average

	return models.MetricsReport{
		WindowStart: w.Start.Format(models.DateLayout),
		WindowEnd:   w.End.Format(models.DateLayout),
		Overview:    ov,
		Timeline:    timeline(records, w),
		Performance: perf,
	}, nil
}

func overview(records []models.ExecutionRecord) models.Overview {
	o := models.Overview{TotalExecutions: len(records)}
	for _, r := range records {
		switch r.Status.Classify() {
		case models.SuccessExecutionStatus:
			o.SuccessfulExecutions++
		case models.FailedExecutionStatus:
			o.FailedExecutions++
		case models.RunningExecutionStatus:
			o.RunningExecutions++
		case models.CanceledExecutionStatus:
			o.CanceledExecutions++
		case models.WaitingExecutionStatus:
			o.WaitingExecutions++
		case models.NewExecutionStatus:
			o.NewExecutions++
		case models.CrashedExecutionStatus:
			o.CrashedExecutions++
		default:
			o.UnknownExecutions++
		}
	}
	o.SuccessRate = percent(o.SuccessfulExecutions, o.TotalExecutions)
	o.FailureRate = percent(o.FailedExecutions, o.TotalExecutions)
	return o
}

func timeline(records []models.ExecutionRecord, w Window) []models.TimelineBucket {
	days := w.Days()
	buckets := make([]models.TimelineBucket, len(days))
	for i, day := range days {
		buckets[i].Date = day.Format(models.DateLayout)
	}
	for _, r := range records {
		if r.StartedAt == nil {
			continue
		}
		i, ok := w.Index(*r.StartedAt)
		if !ok {
			continue
		}
		buckets[i].Executions++
		if r.Status.Classify() == models.SuccessExecutionStatus {
			buckets[i].Successful++
		}
	}
	for i := range buckets {
		buckets[i].SuccessRate = percent(buckets[i].Successful, buckets[i].Executions)
	}
	return buckets
}

// performance expects only non-negative durations.
func performance(durations []int64) models.Performance {
	p := models.Performance{TimedExecutions: len(durations)}
	if len(durations) == 0 {
		return p
	}
	sorted := make([]int64, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, d := range sorted {
		p.Total += d
	}
	p.Fastest = sorted[0]
	p.Slowest = sorted[len(sorted)-1]
	p.Average = float64(p.Total) / float64(len(sorted))
	p.Median = median(sorted)
	return p
}

func median(sorted []int64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return float64(sorted[n/2])
	default:
		return float64(sorted[n/2-1]+sorted[n/2]) / 2
	}
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

package metrics

import (
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/pkg/errors"
)

// ErrInvalidWindow is returned when a window starts on a later day than it ends.
var ErrInvalidWindow = errors.New("invalid window: start is after end")

// Window is an inclusive range of calendar days. Start and End are midnights in
// the same location; day boundaries are evaluated in that location.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow truncates start and end to calendar days in start's location.
func NewWindow(start, end time.Time) (Window, error) {
	loc := start.Location()
	w := Window{
		Start: midnight(start, loc),
		End:   midnight(end, loc),
	}
	if dayNumber(w.Start) > dayNumber(w.End) {
		return Window{}, ErrInvalidWindow
	}
	return w, nil
}

// LastNDays returns the window of n days ending on now's calendar day.
// n below 1 is treated as 1.
func LastNDays(now time.Time, n int) Window {
	if n < 1 {
		n = 1
	}
	end := midnight(now, now.Location())
	start := end.AddDate(0, 0, -(n - 1))
	return Window{Start: start, End: end}
}

// ParseWindow parses YYYY-MM-DD bounds in loc.
func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	s, err := time.ParseInLocation(models.DateLayout, start, loc)
	if err != nil {
		return Window{}, errors.Wrapf(err, "parse window start %q", start)
	}
	e, err := time.ParseInLocation(models.DateLayout, end, loc)
	if err != nil {
		return Window{}, errors.Wrapf(err, "parse window end %q", end)
	}
	return NewWindow(s, e)
}

// Len is the number of days in the window, both ends included. An inverted
// window has length 0.
func (w Window) Len() int {
	n := int(dayNumber(w.End)-dayNumber(w.Start)) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Days lists every day of the window in ascending order.
func (w Window) Days() []time.Time {
	n := w.Len()
	days := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, w.Start.AddDate(0, 0, i))
	}
	return days
}

// Index returns the position of t's calendar day within the window.
func (w Window) Index(t time.Time) (int, bool) {
	d := dayNumber(midnight(t, w.Start.Location())) - dayNumber(w.Start)
	if d < 0 || d >= int64(w.Len()) {
		return 0, false
	}
	return int(d), true
}

// Bounds returns the half-open instant range [from, to) covered by the window.
func (w Window) Bounds() (from, to time.Time) {
	return w.Start, w.End.AddDate(0, 0, 1)
}

func (w Window) String() string {
	return w.Start.Format(models.DateLayout) + ".." + w.End.Format(models.DateLayout)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// dayNumber counts civil days since the Unix epoch, ignoring DST shifts.
func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

package services

import (
	"time"

	"github.com/aidenappl/monitor-trends/discover"
)

// TimeRange is a resolved request range, Start < End
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Window holds the comparison split point of a range, formatted as
// engine date arguments. The earlier window is [Start, Middle] and the
// later one [Middle, End].
type Window struct {
	Start  string
	Middle string
	End    string
}

// SplitWindow places the midpoint at start + (end-start)*ratio
func SplitWindow(r TimeRange, ratio float64) (Window, error) {
	if !r.Start.Before(r.End) || !(ratio > 0 && ratio < 1) {
		return Window{}, &InvalidRangeError{Start: r.Start, End: r.End, Ratio: ratio}
	}

	offset := time.Duration(float64(r.End.Sub(r.Start)) * ratio)
	middle := r.Start.Add(offset)

	start := r.Start.UTC().Format(discover.DateFormat)
	mid := middle.UTC().Format(discover.DateFormat)
	end := r.End.UTC().Format(discover.DateFormat)

	// date arguments have second precision; the formatted windows must not
	// collapse
	if !(start < mid && mid < end) {
		return Window{}, &InvalidRangeError{Start: r.Start, End: r.End, Ratio: ratio}
	}

	return Window{Start: start, Middle: mid, End: end}, nil
}

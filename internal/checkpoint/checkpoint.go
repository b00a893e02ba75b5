package checkpoint

import (
	"iter"
	"sort"
	"time"

	"github.com/rohankatakam/dashi/internal/models"
)

const (
	// Week is the length of every window
	Week = 7 * 24 * time.Hour

	// Epsilon offsets window starts from midnight so that a source timestamp
	// of exactly 00:00:00 never sits on a boundary.
	Epsilon = time.Microsecond
)

// For returns the window of the ISO week containing t: it starts on that
// week's Monday at 00:00:00.000001 UTC and lasts seven days.
func For(t time.Time) models.TimeWindow {
	t = t.UTC()

	isoWeekday := int(t.Weekday())
	if isoWeekday == 0 {
		isoWeekday = 7
	}
	monday := t.AddDate(0, 0, -(isoWeekday - 1))

	start := time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC).Add(Epsilon)
	return models.TimeWindow{Start: start, End: start.Add(Week)}
}

// Series lazily yields the windows from start's week through the week
// after now. It depends only on its arguments, so it can be iterated again.
func Series(start, now time.Time) iter.Seq[models.TimeWindow] {
	return func(yield func(models.TimeWindow) bool) {
		limit := now.Add(Week)
		for t := start; t.Before(limit); t = t.Add(Week) {
			if !yield(For(t)) {
				return
			}
		}
	}
}

// Collect materializes a Series
func Collect(start, now time.Time) []models.TimeWindow {
	var windows []models.TimeWindow
	for w := range Series(start, now) {
		windows = append(windows, w)
	}
	return windows
}

// Since returns the windows from start through the current week
func Since(start time.Time) []models.TimeWindow {
	return Collect(start, time.Now().UTC())
}

// Locate returns the index of the window containing t, or -1. windows must
// be chronological and non-overlapping, as Series produces them.
func Locate(windows []models.TimeWindow, t time.Time) int {
	i := sort.Search(len(windows), func(i int) bool {
		return windows[i].End.After(t)
	})
	if i < len(windows) && windows[i].Contains(t) {
		return i
	}
	return -1
}

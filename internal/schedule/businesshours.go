package schedule

import (
	"time"

	"github.com/serenispa/reservation-engine/internal/interval"
)

// Segment is one open/close span inside a day, as "HH:MM" clock times.
// A segment whose Close is not after its Open spans into the next day.
type Segment struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// BusinessHours is a shop's open-hours policy: a weekly default plus
// date overrides. An override fully replaces the weekday default for
// that date; an override with no segments means the shop is closed.
type BusinessHours struct {
	Location  *time.Location
	Weekly    map[time.Weekday][]Segment
	Overrides map[string][]Segment // keyed "2006-01-02" in Location
}

const overrideDateLayout = "2006-01-02"

// Configured reports whether any hours are set at all. A shop with no
// configured hours is treated as always open; the business-hours check
// is deliberately fail-open.
func (bh *BusinessHours) Configured() bool {
	return bh != nil && (len(bh.Weekly) > 0 || len(bh.Overrides) > 0)
}

// IsWithin reports whether [start, end) falls fully inside some open
// segment. Segments from the prior local date are considered too, so a
// shop open Friday 22:00-02:00 accepts a Saturday 00:30 booking.
func (bh *BusinessHours) IsWithin(start, end time.Time) bool {
	if !bh.Configured() {
		return true
	}
	loc := bh.Location
	if loc == nil {
		loc = time.UTC
	}

	candidate := interval.Interval{Start: start, End: end}
	local := start.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for _, day := range []time.Time{today, today.AddDate(0, 0, -1)} {
		for _, seg := range bh.segmentsOn(day) {
			iv, ok := seg.onDay(day, loc)
			if !ok {
				continue
			}
			if iv.Contains(candidate) {
				return true
			}
		}
	}
	return false
}

// segmentsOn returns the segments in effect on the given local date.
func (bh *BusinessHours) segmentsOn(day time.Time) []Segment {
	if bh.Overrides != nil {
		if segs, ok := bh.Overrides[day.Format(overrideDateLayout)]; ok {
			return segs
		}
	}
	return bh.Weekly[day.Weekday()]
}

func (s Segment) onDay(day time.Time, loc *time.Location) (interval.Interval, bool) {
	open, err := parseClockOnDate(s.Open, day, loc)
	if err != nil {
		return interval.Interval{}, false
	}
	close, err := parseClockOnDate(s.Close, day, loc)
	if err != nil {
		return interval.Interval{}, false
	}
	if !close.After(open) {
		close = close.AddDate(0, 0, 1)
	}
	return interval.Interval{Start: open, End: close}, true
}

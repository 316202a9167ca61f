// Package interval implements set arithmetic over half-open time
// intervals [start, end). All functions are pure; callers are expected
// to filter out malformed (start >= end) intervals before calling in.
package interval

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// IsValid reports whether the interval is non-empty.
func (iv Interval) IsValid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps reports whether the two half-open intervals share any instant.
// Touching intervals ([a,b) and [b,c)) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies fully within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// ContainsInstant reports whether t falls inside the half-open range.
func (iv Interval) ContainsInstant(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Expand widens the interval by the given durations on each side.
func (iv Interval) Expand(before, after time.Duration) Interval {
	return Interval{Start: iv.Start.Add(-before), End: iv.End.Add(after)}
}

// Subtract removes every cut from every base interval. A cut that splits
// a base interval yields two results. The result does not depend on the
// order of cuts.
func Subtract(base, cuts []Interval) []Interval {
	out := make([]Interval, 0, len(base))
	for _, b := range base {
		pieces := []Interval{b}
		for _, c := range cuts {
			if !c.IsValid() {
				continue
			}
			next := pieces[:0:0]
			for _, p := range pieces {
				next = append(next, subtractOne(p, c)...)
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	return out
}

func subtractOne(p, c Interval) []Interval {
	if !p.Overlaps(c) {
		return []Interval{p}
	}
	var out []Interval
	if c.Start.After(p.Start) {
		out = append(out, Interval{Start: p.Start, End: c.Start})
	}
	if c.End.Before(p.End) {
		out = append(out, Interval{Start: c.End, End: p.End})
	}
	return out
}

// Normalize sorts intervals by start and merges any that touch or
// overlap. Empty intervals are dropped. Normalize is idempotent.
func Normalize(ivs []Interval) []Interval {
	valid := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if iv.IsValid() {
			valid = append(valid, iv)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	out := []Interval{valid[0]}
	for _, iv := range valid[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Clip intersects every interval with the window, dropping intervals
// that have no overlap with it.
func Clip(ivs []Interval, window Interval) []Interval {
	var out []Interval
	for _, iv := range ivs {
		if !iv.Overlaps(window) {
			continue
		}
		clipped := iv
		if clipped.Start.Before(window.Start) {
			clipped.Start = window.Start
		}
		if clipped.End.After(window.End) {
			clipped.End = window.End
		}
		if clipped.IsValid() {
			out = append(out, clipped)
		}
	}
	return out
}

// DayWindow returns [day 00:00, day+1 00:00) in the given location.
func DayWindow(day time.Time, loc *time.Location) Interval {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// ClipToDay clips intervals to the calendar day containing `day` in the
// given location.
func ClipToDay(ivs []Interval, day time.Time, loc *time.Location) []Interval {
	return Clip(ivs, DayWindow(day, loc))
}

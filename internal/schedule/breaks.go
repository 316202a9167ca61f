package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/serenispa/reservation-engine/internal/interval"
)

// rawBreak covers both break payload shapes found in shift rows: the
// ISO datetime form {"start_at","end_at"} and the legacy
// {"start_time","end_time"} HH:MM form interpreted on the shift date.
type rawBreak struct {
	StartAt   string `json:"start_at"`
	EndAt     string `json:"end_at"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var clockLayouts = []string{"15:04:05", "15:04"}

// ParseBreaks decodes a break_slots JSON payload into normalized
// intervals. Naive timestamps are interpreted in loc, the shop's
// configured timezone. Legacy HH:MM entries whose end does not come
// after their start are taken to cross midnight into the next day.
func ParseBreaks(data []byte, shiftDate time.Time, loc *time.Location) ([]interval.Interval, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	var raws []rawBreak
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode break slots: %w", err)
	}

	var out []interval.Interval
	for i, rb := range raws {
		iv, err := parseBreak(rb, shiftDate, loc)
		if err != nil {
			return nil, fmt.Errorf("break slot %d: %w", i, err)
		}
		if iv.IsValid() {
			out = append(out, iv)
		}
	}
	return interval.Normalize(out), nil
}

func parseBreak(rb rawBreak, shiftDate time.Time, loc *time.Location) (interval.Interval, error) {
	if rb.StartAt != "" || rb.EndAt != "" {
		start, err := parseDatetime(rb.StartAt, loc)
		if err != nil {
			return interval.Interval{}, err
		}
		end, err := parseDatetime(rb.EndAt, loc)
		if err != nil {
			return interval.Interval{}, err
		}
		return interval.Interval{Start: start, End: end}, nil
	}

	if rb.StartTime == "" || rb.EndTime == "" {
		return interval.Interval{}, fmt.Errorf("break slot has neither datetime nor clock fields")
	}

	start, err := parseClockOnDate(rb.StartTime, shiftDate, loc)
	if err != nil {
		return interval.Interval{}, err
	}
	end, err := parseClockOnDate(rb.EndTime, shiftDate, loc)
	if err != nil {
		return interval.Interval{}, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return interval.Interval{Start: start, End: end}, nil
}

func parseDatetime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		// Naive layouts carry no offset: interpret in the shop timezone.
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", s)
}

func parseClockOnDate(s string, date time.Time, loc *time.Location) (time.Time, error) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := date.In(loc)
			return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable clock time %q", s)
}

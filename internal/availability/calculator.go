// Package availability derives bookable slots from shifts, breaks, and
// active reservations. Slots are computed on demand and cached briefly;
// they are never a source of truth.
package availability

import (
	"time"

	"github.com/serenispa/reservation-engine/internal/interval"
	"github.com/serenispa/reservation-engine/internal/reservation"
	"github.com/serenispa/reservation-engine/internal/schedule"
)

type SlotStatus string

const (
	SlotOpen      SlotStatus = "open"
	SlotTentative SlotStatus = "tentative"
	SlotBlocked   SlotStatus = "blocked"
)

// Slot is a derived, bookable interval for one therapist and date.
type Slot struct {
	StartAt time.Time  `json:"start_at"`
	EndAt   time.Time  `json:"end_at"`
	Status  SlotStatus `json:"status"`
}

// CalculateAvailable combines shifts, breaks, and active reservations
// into a normalized list of open intervals. The buffer expands each
// active reservation on both sides; it is never applied to shift
// boundaries, so a booking may start exactly where a shift does.
func CalculateAvailable(shifts []schedule.Shift, reservations []reservation.Reservation, buffer time.Duration, now time.Time) []interval.Interval {
	var open []interval.Interval
	for i := range shifts {
		sh := &shifts[i]
		if sh.Status != schedule.ShiftAvailable {
			continue
		}
		open = append(open, sh.OpenIntervals()...)
	}
	if len(open) == 0 {
		return nil
	}

	var occupied []interval.Interval
	for i := range reservations {
		r := &reservations[i]
		if !r.ActiveAt(now) {
			continue
		}
		occupied = append(occupied, r.Interval().Expand(buffer, buffer))
	}

	return interval.Normalize(interval.Subtract(open, occupied))
}

// SlotsForDay clips open intervals to the day window and classifies
// them relative to now: a slot fully in the past is blocked, a slot
// straddling now has its start clipped forward and is marked tentative,
// everything else is open.
func SlotsForDay(open []interval.Interval, day time.Time, loc *time.Location, now time.Time) []Slot {
	clipped := interval.ClipToDay(open, day, loc)

	var out []Slot
	for _, iv := range clipped {
		slot := Slot{StartAt: iv.Start, EndAt: iv.End, Status: SlotOpen}
		switch {
		case !iv.End.After(now):
			slot.Status = SlotBlocked
		case iv.Start.Before(now):
			slot.StartAt = now
			slot.Status = SlotTentative
		}
		out = append(out, slot)
	}
	return out
}

// Package schedule holds the shift and business-hours side of the
// engine: what a therapist is rostered to work, when they are on break,
// and when the shop itself is open.
package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/serenispa/reservation-engine/internal/interval"
)

var ErrShiftNotFound = errors.New("shift not found")

type AvailabilityStatus string

const (
	ShiftAvailable   AvailabilityStatus = "available"
	ShiftUnavailable AvailabilityStatus = "unavailable"
)

// Shift is a therapist's working window on one calendar date, with its
// break intervals already parsed and normalized. It is assembled once
// at the data-access boundary; downstream calculation code never sees
// raw break payloads.
type Shift struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	ShopID      uuid.UUID
	Date        time.Time // midnight in the shop's timezone
	StartAt     time.Time
	EndAt       time.Time
	Status      AvailabilityStatus
	Breaks      []interval.Interval
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Window returns the shift's working interval.
func (s *Shift) Window() interval.Interval {
	return interval.Interval{Start: s.StartAt, End: s.EndAt}
}

// OpenIntervals returns the shift window minus its breaks.
func (s *Shift) OpenIntervals() []interval.Interval {
	return interval.Subtract([]interval.Interval{s.Window()}, s.Breaks)
}

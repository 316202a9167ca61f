package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenispa/reservation-engine/internal/clock"
	"github.com/serenispa/reservation-engine/internal/interval"
	"github.com/serenispa/reservation-engine/internal/schedule"
)

// ShiftSource is the slice of the schedule repository the guard needs.
type ShiftSource interface {
	ListShifts(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]schedule.Shift, error)
}

// Guard performs concurrency-safe feasibility checks for a candidate
// booking: shift containment, break overlap, reservation overlap, and
// shop-wide room capacity.
type Guard struct {
	repo   Repository
	shifts ShiftSource
	clock  clock.Clock
	logger zerolog.Logger
}

func NewGuard(repo Repository, shifts ShiftSource, clk clock.Clock, logger zerolog.Logger) *Guard {
	return &Guard{
		repo:   repo,
		shifts: shifts,
		clock:  clk,
		logger: logger.With().Str("component", "reservation_guard").Logger(),
	}
}

// withRepo returns a guard bound to a different repository, used to run
// checks inside a transaction.
func (g *Guard) withRepo(repo Repository) *Guard {
	bound := *g
	bound.repo = repo
	return &bound
}

// IsAvailable checks whether [start, end) can be booked for the
// therapist. It accumulates every applicable rejection reason rather
// than stopping at the first. Buffer applies to reservation spacing
// only, never to shift containment or break overlap: a booking may
// start exactly at a shift boundary or right at the end of a break.
func (g *Guard) IsAvailable(ctx context.Context, therapistID uuid.UUID, start, end time.Time, buffer time.Duration, lock bool) (bool, []Reason, error) {
	if !end.After(start) {
		return false, []Reason{ReasonInvalidTimeRange}, nil
	}

	candidate := interval.Interval{Start: start, End: end}
	buffered := candidate.Expand(buffer, buffer)
	now := g.clock.Now()

	var reasons []Reason

	shifts, err := g.shifts.ListShifts(ctx, therapistID, start.AddDate(0, 0, -1), end.AddDate(0, 0, 1))
	if err != nil {
		return false, nil, fmt.Errorf("load shifts: %w", err)
	}

	containing := false
	onBreak := false
	for i := range shifts {
		sh := &shifts[i]
		if sh.Status != schedule.ShiftAvailable {
			continue
		}
		if sh.Window().Contains(candidate) {
			containing = true
		}
		for _, br := range sh.Breaks {
			if br.Overlaps(candidate) {
				onBreak = true
			}
		}
	}
	if !containing {
		reasons = append(reasons, ReasonNoShift)
	}
	if onBreak {
		reasons = append(reasons, ReasonOnBreak)
	}

	overlapping, err := g.repo.ListActiveOverlapping(ctx, therapistID, buffered.Start, buffered.End, now, lock)
	if err != nil {
		return false, nil, fmt.Errorf("load overlapping reservations: %w", err)
	}
	if len(overlapping) > 0 {
		reasons = append(reasons, ReasonOverlap)
	}

	return len(reasons) == 0, reasons, nil
}

// RoomAvailable checks the shop-wide concurrent booking cap: the count
// of active reservations overlapping the buffered window must stay
// below roomCount.
func (g *Guard) RoomAvailable(ctx context.Context, shopID uuid.UUID, start, end time.Time, buffer time.Duration, roomCount int, lock bool) (bool, error) {
	if roomCount <= 0 {
		// No configured capacity: unconstrained.
		return true, nil
	}
	buffered := interval.Interval{Start: start, End: end}.Expand(buffer, buffer)
	count, err := g.repo.CountOverlappingActive(ctx, shopID, buffered.Start, buffered.End, g.clock.Now(), lock)
	if err != nil {
		return false, fmt.Errorf("count room occupancy: %w", err)
	}
	return count < roomCount, nil
}

package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenispa/reservation-engine/internal/clock"
	"github.com/serenispa/reservation-engine/internal/directory"
	"github.com/serenispa/reservation-engine/internal/interval"
	"github.com/serenispa/reservation-engine/internal/reservation"
	"github.com/serenispa/reservation-engine/internal/schedule"
)

// ErrInvalidDate rejects malformed civil date parameters.
var ErrInvalidDate = errors.New("date must be formatted 2006-01-02")

const dateLayout = "2006-01-02"

// ReservationSource is the slice of the reservation repository the read
// side needs. Reads always come from live state (or a cache the write
// path invalidates), never from a denormalized snapshot.
type ReservationSource interface {
	ListForTherapistRange(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]reservation.Reservation, error)
	ListForShopRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]reservation.Reservation, error)
}

// DaySummary says whether a therapist has any bookable slot on a date.
type DaySummary struct {
	Date         string `json:"date"`
	HasAvailable bool   `json:"has_available"`
}

// NextSlot is a next-available lookup result.
type NextSlot struct {
	TherapistID uuid.UUID `json:"therapist_id"`
	Slot        Slot      `json:"slot"`
}

// Service is the public read surface for availability.
type Service struct {
	shifts       schedule.Repository
	reservations ReservationSource
	shops        directory.ShopDirectory
	therapists   directory.TherapistDirectory
	cache        *Cache
	clock        clock.Clock
	logger       zerolog.Logger
}

func NewService(
	shifts schedule.Repository,
	reservations ReservationSource,
	shops directory.ShopDirectory,
	therapists directory.TherapistDirectory,
	cache *Cache,
	clk clock.Clock,
	logger zerolog.Logger,
) *Service {
	return &Service{
		shifts:       shifts,
		reservations: reservations,
		shops:        shops,
		therapists:   therapists,
		cache:        cache,
		clock:        clk,
		logger:       logger.With().Str("component", "availability_service").Logger(),
	}
}

func (s *Service) shopFor(ctx context.Context, therapistID uuid.UUID) (*directory.Shop, error) {
	therapist, err := s.therapists.GetTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	return s.shops.GetShop(ctx, therapist.ShopID)
}

// DailySlots returns the bookable slots for one therapist on a civil
// date ("2006-01-02", interpreted in the shop's timezone).
func (s *Service) DailySlots(ctx context.Context, therapistID uuid.UUID, date string) ([]Slot, error) {
	shop, err := s.shopFor(ctx, therapistID)
	if err != nil {
		return nil, err
	}

	day, err := time.ParseInLocation(dateLayout, date, shop.Location)
	if err != nil {
		return nil, ErrInvalidDate
	}

	if s.cache != nil {
		if slots, ok := s.cache.Get(therapistID, date); ok {
			return slots, nil
		}
	}

	now := s.clock.Now()
	slots, err := s.computeDay(ctx, therapistID, day, shop, now)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(therapistID, date, slots)
	}
	return slots, nil
}

func (s *Service) computeDay(ctx context.Context, therapistID uuid.UUID, day time.Time, shop *directory.Shop, now time.Time) ([]Slot, error) {
	window := interval.DayWindow(day, shop.Location)
	buffer := shop.Buffer()

	shifts, err := s.shifts.ListShifts(ctx, therapistID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	reservations, err := s.reservations.ListForTherapistRange(ctx, therapistID, window.Start.Add(-buffer), window.End.Add(buffer))
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	open := CalculateAvailable(shifts, reservations, buffer, now)
	return SlotsForDay(open, day, shop.Location, now), nil
}

// Summary evaluates has-any-slot per day over [from, to] inclusive,
// batch-fetching shifts and reservations once for the whole range
// rather than querying per day.
func (s *Service) Summary(ctx context.Context, therapistID uuid.UUID, from, to string) ([]DaySummary, error) {
	shop, err := s.shopFor(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	loc := shop.Location

	fromDay, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	toDay, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if toDay.Before(fromDay) {
		return nil, ErrInvalidDate
	}

	buffer := shop.Buffer()
	rangeStart := interval.DayWindow(fromDay, loc).Start
	rangeEnd := interval.DayWindow(toDay, loc).End

	shifts, err := s.shifts.ListShifts(ctx, therapistID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	reservations, err := s.reservations.ListForTherapistRange(ctx, therapistID, rangeStart.Add(-buffer), rangeEnd.Add(buffer))
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	now := s.clock.Now()
	open := CalculateAvailable(shifts, reservations, buffer, now)

	var out []DaySummary
	for day := rangeStart; day.Before(rangeEnd); day = day.AddDate(0, 0, 1) {
		slots := SlotsForDay(open, day, loc, now)
		has := false
		for _, slot := range slots {
			if slot.Status != SlotBlocked {
				has = true
				break
			}
		}
		out = append(out, DaySummary{Date: day.Format(dateLayout), HasAvailable: has})
	}
	return out, nil
}

// NextAvailable returns the earliest non-blocked slot for a therapist
// within the lookahead window, or nil when there is none.
func (s *Service) NextAvailable(ctx context.Context, therapistID uuid.UUID, lookaheadDays int) (*NextSlot, error) {
	if lookaheadDays <= 0 {
		lookaheadDays = 7
	}

	shop, err := s.shopFor(ctx, therapistID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	buffer := shop.Buffer()
	rangeStart := interval.DayWindow(now, shop.Location).Start
	rangeEnd := rangeStart.AddDate(0, 0, lookaheadDays)

	shifts, err := s.shifts.ListShifts(ctx, therapistID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	reservations, err := s.reservations.ListForTherapistRange(ctx, therapistID, rangeStart.Add(-buffer), rangeEnd.Add(buffer))
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	open := CalculateAvailable(shifts, reservations, buffer, now)
	return earliestSlot(open, therapistID, now), nil
}

// NextAvailableForShop scans every therapist at a shop in one batched
// query pass and returns the earliest non-blocked slot per therapist.
func (s *Service) NextAvailableForShop(ctx context.Context, shopID uuid.UUID, lookaheadDays int) ([]NextSlot, error) {
	if lookaheadDays <= 0 {
		lookaheadDays = 7
	}

	shop, err := s.shops.GetShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	therapists, err := s.therapists.ListByShop(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("list therapists: %w", err)
	}

	now := s.clock.Now()
	buffer := shop.Buffer()
	rangeStart := interval.DayWindow(now, shop.Location).Start
	rangeEnd := rangeStart.AddDate(0, 0, lookaheadDays)

	shifts, err := s.shifts.ListShiftsForShop(ctx, shopID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load shop shifts: %w", err)
	}
	reservations, err := s.reservations.ListForShopRange(ctx, shopID, rangeStart.Add(-buffer), rangeEnd.Add(buffer))
	if err != nil {
		return nil, fmt.Errorf("load shop reservations: %w", err)
	}

	shiftsByTherapist := make(map[uuid.UUID][]schedule.Shift)
	for _, sh := range shifts {
		shiftsByTherapist[sh.TherapistID] = append(shiftsByTherapist[sh.TherapistID], sh)
	}
	resByTherapist := make(map[uuid.UUID][]reservation.Reservation)
	for _, r := range reservations {
		resByTherapist[r.TherapistID] = append(resByTherapist[r.TherapistID], r)
	}

	var out []NextSlot
	for _, t := range therapists {
		open := CalculateAvailable(shiftsByTherapist[t.ID], resByTherapist[t.ID], buffer, now)
		if next := earliestSlot(open, t.ID, now); next != nil {
			out = append(out, *next)
		}
	}
	return out, nil
}

// VerifySlot checks whether a booking could start at the given instant:
// it returns the open slot containing the start, or nil when the start
// is blocked.
func (s *Service) VerifySlot(ctx context.Context, therapistID uuid.UUID, startAt time.Time) (*Slot, error) {
	shop, err := s.shopFor(ctx, therapistID)
	if err != nil {
		return nil, err
	}

	date := startAt.In(shop.Location).Format(dateLayout)
	slots, err := s.DailySlots(ctx, therapistID, date)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		slot := &slots[i]
		if slot.Status == SlotBlocked {
			continue
		}
		iv := interval.Interval{Start: slot.StartAt, End: slot.EndAt}
		if iv.ContainsInstant(startAt) {
			return slot, nil
		}
	}
	return nil, nil
}

func earliestSlot(open []interval.Interval, therapistID uuid.UUID, now time.Time) *NextSlot {
	for _, iv := range open {
		if !iv.End.After(now) {
			continue
		}
		slot := Slot{StartAt: iv.Start, EndAt: iv.End, Status: SlotOpen}
		if iv.Start.Before(now) {
			slot.StartAt = now
			slot.Status = SlotTentative
		}
		return &NextSlot{TherapistID: therapistID, Slot: slot}
	}
	return nil
}

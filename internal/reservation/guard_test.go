package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenispa/reservation-engine/internal/clock"
	"github.com/serenispa/reservation-engine/internal/interval"
	"github.com/serenispa/reservation-engine/internal/schedule"
)

var tokyo = mustLoadLocation("Asia/Tokyo")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// guardFixture: one therapist working 09:00-18:00 JST with a
// 12:00-13:00 lunch break.
func guardFixture(t *testing.T) (*Guard, *fakeRepo, *clock.Fake, uuid.UUID, time.Time) {
	t.Helper()

	therapistID := uuid.New()
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, tokyo)
	clk := clock.NewFake(day.Add(8 * time.Hour))

	shifts := &fakeShifts{shifts: []schedule.Shift{{
		ID:          uuid.New(),
		TherapistID: therapistID,
		ShopID:      uuid.New(),
		Date:        day,
		StartAt:     day.Add(9 * time.Hour),
		EndAt:       day.Add(18 * time.Hour),
		Status:      schedule.ShiftAvailable,
		Breaks: []interval.Interval{
			{Start: day.Add(12 * time.Hour), End: day.Add(13 * time.Hour)},
		},
	}}}

	repo := newFakeRepo(clk.Now)
	guard := NewGuard(repo, shifts, clk, zerolog.Nop())
	return guard, repo, clk, therapistID, day
}

func TestGuardNoShift(t *testing.T) {
	guard, _, _, therapistID, day := guardFixture(t)

	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(7*time.Hour), day.Add(8*time.Hour), 10*time.Minute, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []Reason{ReasonNoShift}, reasons)
}

func TestGuardShiftBoundaryIgnoresBuffer(t *testing.T) {
	guard, _, _, therapistID, day := guardFixture(t)

	// A booking may start exactly at the shift start even with a
	// buffer configured.
	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(9*time.Hour), day.Add(10*time.Hour), 10*time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestGuardOnBreak(t *testing.T) {
	guard, _, _, therapistID, day := guardFixture(t)

	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(12*time.Hour+30*time.Minute), day.Add(13*time.Hour+30*time.Minute), 0, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reasons, ReasonOnBreak)
}

func TestGuardBreakEndIgnoresBuffer(t *testing.T) {
	guard, _, _, therapistID, day := guardFixture(t)

	// Starting right at the end of the break is fine; buffer does not
	// extend break windows.
	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(13*time.Hour), day.Add(14*time.Hour), 10*time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestGuardInvalidTimeRange(t *testing.T) {
	guard, _, _, therapistID, day := guardFixture(t)

	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(10*time.Hour), day.Add(10*time.Hour), 0, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []Reason{ReasonInvalidTimeRange}, reasons)
}

func TestGuardOverlapRespectsBuffer(t *testing.T) {
	guard, repo, _, therapistID, day := guardFixture(t)

	existing := &Reservation{
		ID:          uuid.New(),
		ShopID:      uuid.New(),
		TherapistID: therapistID,
		StartAt:     day.Add(10 * time.Hour),
		EndAt:       day.Add(11 * time.Hour),
		Status:      StatusConfirmed,
	}
	require.NoError(t, repo.Insert(context.Background(), existing))

	// Back to back against the existing booking: rejected because the
	// 10-minute buffer has to fit in between.
	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(11*time.Hour), day.Add(12*time.Hour), 10*time.Minute, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reasons, ReasonOverlap)

	// Ten minutes later it fits.
	ok, reasons, err = guard.IsAvailable(context.Background(), therapistID, day.Add(11*time.Hour+10*time.Minute), day.Add(11*time.Hour+55*time.Minute), 10*time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestGuardAccumulatesAllReasons(t *testing.T) {
	guard, repo, _, therapistID, day := guardFixture(t)

	existing := &Reservation{
		ID:          uuid.New(),
		ShopID:      uuid.New(),
		TherapistID: therapistID,
		StartAt:     day.Add(12*time.Hour + 30*time.Minute),
		EndAt:       day.Add(13*time.Hour + 30*time.Minute),
		Status:      StatusPending,
	}
	require.NoError(t, repo.Insert(context.Background(), existing))

	// Overlaps both the break and the pending reservation.
	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(12*time.Hour+45*time.Minute), day.Add(13*time.Hour+15*time.Minute), 0, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ElementsMatch(t, []Reason{ReasonOnBreak, ReasonOverlap}, reasons)
}

func TestGuardExpiredHoldDoesNotBlock(t *testing.T) {
	guard, repo, clk, therapistID, day := guardFixture(t)

	until := day.Add(8*time.Hour + 15*time.Minute)
	hold := &Reservation{
		ID:            uuid.New(),
		ShopID:        uuid.New(),
		TherapistID:   therapistID,
		StartAt:       day.Add(14 * time.Hour),
		EndAt:         day.Add(15 * time.Hour),
		Status:        StatusReserved,
		ReservedUntil: &until,
	}
	require.NoError(t, repo.Insert(context.Background(), hold))

	// Hold still live: slot is taken.
	ok, _, err := guard.IsAvailable(context.Background(), therapistID, day.Add(14*time.Hour), day.Add(15*time.Hour), 0, false)
	require.NoError(t, err)
	assert.False(t, ok)

	// Past reserved_until the unswept hold no longer occupies the slot.
	clk.Set(until.Add(time.Second))
	ok, reasons, err := guard.IsAvailable(context.Background(), therapistID, day.Add(14*time.Hour), day.Add(15*time.Hour), 0, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestGuardFallbackTTLForHoldsMissingReservedUntil(t *testing.T) {
	guard, repo, clk, therapistID, day := guardFixture(t)

	hold := &Reservation{
		ID:          uuid.New(),
		ShopID:      uuid.New(),
		TherapistID: therapistID,
		StartAt:     day.Add(14 * time.Hour),
		EndAt:       day.Add(15 * time.Hour),
		Status:      StatusReserved,
	}
	require.NoError(t, repo.Insert(context.Background(), hold))

	// Inside the fallback TTL the malformed hold still counts.
	clk.Advance(DefaultHoldTTL - time.Second)
	ok, _, err := guard.IsAvailable(context.Background(), therapistID, day.Add(14*time.Hour), day.Add(15*time.Hour), 0, false)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(2 * time.Second)
	ok, _, err = guard.IsAvailable(context.Background(), therapistID, day.Add(14*time.Hour), day.Add(15*time.Hour), 0, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardRoomCapacity(t *testing.T) {
	guard, repo, _, _, day := guardFixture(t)

	shopID := uuid.New()
	for i := 0; i < 2; i++ {
		r := &Reservation{
			ID:          uuid.New(),
			ShopID:      shopID,
			TherapistID: uuid.New(),
			StartAt:     day.Add(10 * time.Hour),
			EndAt:       day.Add(11 * time.Hour),
			Status:      StatusConfirmed,
		}
		require.NoError(t, repo.Insert(context.Background(), r))
	}

	ok, err := guard.RoomAvailable(context.Background(), shopID, day.Add(10*time.Hour), day.Add(11*time.Hour), 0, 3, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.RoomAvailable(context.Background(), shopID, day.Add(10*time.Hour), day.Add(11*time.Hour), 0, 2, false)
	require.NoError(t, err)
	assert.False(t, ok)

	// roomCount 0 means no configured capacity.
	ok, err = guard.RoomAvailable(context.Background(), shopID, day.Add(10*time.Hour), day.Add(11*time.Hour), 0, 0, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

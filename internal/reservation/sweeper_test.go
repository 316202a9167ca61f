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
)

func insertHold(t *testing.T, repo *fakeRepo, start time.Time, reservedUntil *time.Time) uuid.UUID {
	t.Helper()
	r := &Reservation{
		ID:            uuid.New(),
		ShopID:        uuid.New(),
		TherapistID:   uuid.New(),
		StartAt:       start,
		EndAt:         start.Add(time.Hour),
		Status:        StatusReserved,
		ReservedUntil: reservedUntil,
	}
	require.NoError(t, repo.Insert(context.Background(), r))
	return r.ID
}

func TestSweeperExpiresStaleHolds(t *testing.T) {
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, tokyo)
	clk := clock.NewFake(base)
	repo := newFakeRepo(clk.Now)
	sweeper := NewSweeper(repo, clk, zerolog.Nop(), 100)

	staleUntil := base.Add(10 * time.Minute)
	staleID := insertHold(t, repo, base.Add(3*time.Hour), &staleUntil)

	freshUntil := base.Add(time.Hour)
	freshID := insertHold(t, repo, base.Add(4*time.Hour), &freshUntil)

	clk.Set(base.Add(30 * time.Minute))

	expired, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stale, err := repo.GetByID(context.Background(), staleID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stale.Status)

	fresh, err := repo.GetByID(context.Background(), freshID)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, fresh.Status)

	assert.Contains(t, repo.eventTypes(), EventReservationExpired)
}

func TestSweeperUsesFallbackTTLForMissingReservedUntil(t *testing.T) {
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, tokyo)
	clk := clock.NewFake(base)
	repo := newFakeRepo(clk.Now)
	sweeper := NewSweeper(repo, clk, zerolog.Nop(), 100)

	id := insertHold(t, repo, base.Add(3*time.Hour), nil)

	// Inside the fallback TTL: untouched.
	clk.Set(base.Add(DefaultHoldTTL - time.Second))
	expired, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	clk.Set(base.Add(DefaultHoldTTL + time.Second))
	expired, err = sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	r, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, r.Status)
}

func TestSweeperSkipsRowsRacedToAnotherStatus(t *testing.T) {
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, tokyo)
	clk := clock.NewFake(base)
	repo := newFakeRepo(clk.Now)
	sweeper := NewSweeper(repo, clk, zerolog.Nop(), 100)

	staleUntil := base.Add(5 * time.Minute)
	racedID := insertHold(t, repo, base.Add(3*time.Hour), &staleUntil)
	otherID := insertHold(t, repo, base.Add(5*time.Hour), &staleUntil)

	clk.Set(base.Add(10 * time.Minute))

	// Simulate a confirm landing between the select and the update.
	_, err := repo.UpdateStatus(context.Background(), racedID, StatusReserved, StatusConfirmed)
	require.NoError(t, err)

	expired, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	raced, err := repo.GetByID(context.Background(), racedID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, raced.Status)

	other, err := repo.GetByID(context.Background(), otherID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, other.Status)
}

func TestSweeperIsIdempotent(t *testing.T) {
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, tokyo)
	clk := clock.NewFake(base)
	repo := newFakeRepo(clk.Now)
	sweeper := NewSweeper(repo, clk, zerolog.Nop(), 100)

	staleUntil := base.Add(5 * time.Minute)
	insertHold(t, repo, base.Add(3*time.Hour), &staleUntil)

	clk.Set(base.Add(10 * time.Minute))

	expired, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	expired, err = sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

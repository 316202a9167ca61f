package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/serenispa/reservation-engine/internal/clock"
	"github.com/serenispa/reservation-engine/internal/metrics"
)

// Sweeper transitions stale holds to expired. It runs on demand and is
// safe to run concurrently with itself: the conditional status update
// makes re-selecting an already-expired row a no-op.
type Sweeper struct {
	repo      Repository
	clock     clock.Clock
	logger    zerolog.Logger
	batchSize int
}

func NewSweeper(repo Repository, clk clock.Clock, logger zerolog.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		repo:      repo,
		clock:     clk,
		logger:    logger.With().Str("component", "hold_expiry_sweeper").Logger(),
		batchSize: batchSize,
	}
}

// Run expires one batch of stale holds and returns how many rows it
// transitioned. A failure on an individual row does not abort the
// batch.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.clock.Now()

	stale, err := s.repo.FindStaleHolds(ctx, now, DefaultHoldTTL, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale holds: %w", err)
	}

	expired := 0
	for i := range stale {
		hold := &stale[i]
		if _, err := s.repo.UpdateStatus(ctx, hold.ID, StatusReserved, StatusExpired); err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				// Another sweeper or a confirm beat us to it.
				continue
			}
			s.logger.Error().Err(err).
				Str("reservation_id", hold.ID.String()).
				Msg("failed to expire hold")
			continue
		}
		expired++

		payload := map[string]any{"reason": "sweeper"}
		if hold.ReservedUntil == nil {
			payload["reason"] = "sweeper_fallback_ttl"
		}
		s.logEvent(ctx, hold, payload)
	}

	if expired > 0 {
		metrics.AddHoldsExpired(expired)
		s.logger.Info().Int("expired", expired).Msg("expired stale holds")
	}
	return expired, nil
}

func (s *Sweeper) logEvent(ctx context.Context, hold *Reservation, payload map[string]any) {
	data := []byte(fmt.Sprintf(`{"reason":%q}`, payload["reason"]))
	resID := hold.ID
	ev := EventLog{
		EventType:     EventReservationExpired,
		ReservationID: &resID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("reservation_id", hold.ID.String()).
			Msg("insert expiry event")
	}
}

// Package notify is the contract for the downstream notification
// dispatcher. Delivery (email/push) lives outside this engine; calls
// are fire-and-forget and must never block a lifecycle transaction.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type StatusNotification struct {
	ReservationID   uuid.UUID
	ShopID          uuid.UUID
	CustomerContact string
	Status          string
}

type Dispatcher interface {
	// Enqueue hands a status change to the downstream dispatcher.
	// Implementations must not block; failures are logged, not returned.
	Enqueue(ctx context.Context, n StatusNotification)

	// ScheduleReminder schedules a reminder at the given instant. If a
	// later reminder is already scheduled for the reservation the call
	// is a no-op.
	ScheduleReminder(ctx context.Context, reservationID uuid.UUID, at time.Time)
}

// LogDispatcher is the in-process stand-in used when no real dispatcher
// is wired. It keeps enough state to honor the reminder dedupe rule.
type LogDispatcher struct {
	logger zerolog.Logger

	mu        sync.Mutex
	reminders map[uuid.UUID]time.Time
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{
		logger:    logger.With().Str("component", "notify").Logger(),
		reminders: make(map[uuid.UUID]time.Time),
	}
}

func (d *LogDispatcher) Enqueue(_ context.Context, n StatusNotification) {
	d.logger.Info().
		Str("reservation_id", n.ReservationID.String()).
		Str("shop_id", n.ShopID.String()).
		Str("status", n.Status).
		Msg("notification enqueued")
}

func (d *LogDispatcher) ScheduleReminder(_ context.Context, reservationID uuid.UUID, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.reminders[reservationID]; ok && !existing.Before(at) {
		return
	}
	d.reminders[reservationID] = at
	d.logger.Info().
		Str("reservation_id", reservationID.String()).
		Time("remind_at", at).
		Msg("reminder scheduled")
}

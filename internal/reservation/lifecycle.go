package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenispa/reservation-engine/internal/clock"
	"github.com/serenispa/reservation-engine/internal/directory"
	"github.com/serenispa/reservation-engine/internal/metrics"
	"github.com/serenispa/reservation-engine/internal/notify"
	redisclient "github.com/serenispa/reservation-engine/internal/redis"
)

const (
	EventReservationCreated   = "RESERVATION_CREATED"
	EventReservationHeld      = "RESERVATION_HELD"
	EventReservationConfirmed = "RESERVATION_CONFIRMED"
	EventReservationCancelled = "RESERVATION_CANCELLED"
	EventReservationExpired   = "RESERVATION_EXPIRED"
)

var (
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required for a hold")
	ErrNotOwner               = errors.New("actor does not own this reservation")
	ErrAdminRequired          = errors.New("admin actor required")

	// errRejected aborts the booking transaction when business-rule
	// checks fail; the accumulated reasons travel alongside it.
	errRejected = errors.New("booking rejected")
)

// Actor identifies who is performing a lifecycle operation.
type Actor struct {
	UserID     *uuid.UUID
	GuestToken *string
	Admin      bool
}

// AvailabilityInvalidator drops derived availability for a therapist
// and date after a write touches it.
type AvailabilityInvalidator interface {
	Invalidate(therapistID uuid.UUID, day time.Time)
}

// Outcome is the fail-soft result of a lifecycle operation: either a
// reservation or a list of every applicable rejection reason. Errors
// are reserved for storage and programmer faults.
type Outcome struct {
	Reservation *Reservation
	Rejections  []Reason
}

func (o *Outcome) OK() bool { return len(o.Rejections) == 0 }

func rejected(reasons ...Reason) *Outcome {
	for _, r := range reasons {
		metrics.IncReservationRejected(string(r))
	}
	return &Outcome{Rejections: reasons}
}

// CreateRequest carries a booking attempt. TherapistID may be Nil, in
// which case the highest-scoring available therapist at the shop is
// auto-assigned.
type CreateRequest struct {
	ShopID               uuid.UUID
	TherapistID          uuid.UUID
	PreferredTherapistID uuid.UUID
	StartAt              time.Time
	DurationMinutes      int
	ExtensionMinutes     int
	UserID               *uuid.UUID
	GuestToken           *string
	Notes                string
	IdempotencyKey       string
}

// ManagerConfig is the lifecycle policy knobs.
type ManagerConfig struct {
	HoldTTL      time.Duration
	ReminderLead time.Duration
}

// Manager orchestrates the reservation state machine.
type Manager struct {
	repo        Repository
	guard       *Guard
	shops       directory.ShopDirectory
	therapists  directory.TherapistDirectory
	notifier    notify.Dispatcher
	invalidator AvailabilityInvalidator
	locker      redisclient.Locker
	clock       clock.Clock
	logger      zerolog.Logger
	cfg         ManagerConfig
}

func NewManager(
	repo Repository,
	guard *Guard,
	shops directory.ShopDirectory,
	therapists directory.TherapistDirectory,
	notifier notify.Dispatcher,
	invalidator AvailabilityInvalidator,
	locker redisclient.Locker,
	clk clock.Clock,
	logger zerolog.Logger,
	cfg ManagerConfig,
) *Manager {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	return &Manager{
		repo:        repo,
		guard:       guard,
		shops:       shops,
		therapists:  therapists,
		notifier:    notifier,
		invalidator: invalidator,
		locker:      locker,
		clock:       clk,
		logger:      logger.With().Str("component", "reservation_lifecycle").Logger(),
		cfg:         cfg,
	}
}

// Create books a slot directly into confirmed status.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Outcome, error) {
	return m.create(ctx, req, StatusConfirmed)
}

// Hold creates a TTL-bound hold. The idempotency key makes retries
// safe: a replay with an identical payload returns the original hold
// verbatim, a replay with a different payload is rejected.
func (m *Manager) Hold(ctx context.Context, req CreateRequest) (*Outcome, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	existing, err := m.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		return m.resolveIdempotentReplay(existing, req), nil
	}
	if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	return m.create(ctx, req, StatusReserved)
}

func (m *Manager) resolveIdempotentReplay(existing *Reservation, req CreateRequest) *Outcome {
	if m.holdMatches(existing, req) {
		return &Outcome{Reservation: existing}
	}
	return rejected(ReasonIdempotencyKeyConflict)
}

func (m *Manager) holdMatches(existing *Reservation, req CreateRequest) bool {
	if existing.ShopID != req.ShopID {
		return false
	}
	if req.TherapistID != uuid.Nil && existing.TherapistID != req.TherapistID {
		return false
	}
	return existing.StartAt.Equal(req.StartAt) &&
		existing.DurationMinutes == req.DurationMinutes &&
		existing.PlannedExtensionMinutes == req.ExtensionMinutes
}

func (m *Manager) create(ctx context.Context, req CreateRequest, target Status) (*Outcome, error) {
	now := m.clock.Now()

	shop, err := m.shops.GetShop(ctx, req.ShopID)
	if err != nil {
		if errors.Is(err, directory.ErrShopNotFound) {
			return rejected(ReasonShopNotFound), nil
		}
		return nil, fmt.Errorf("load shop: %w", err)
	}

	var reasons []Reason

	if req.StartAt.IsZero() || req.DurationMinutes <= 0 {
		return rejected(ReasonInvalidTimeRange), nil
	}
	if !shop.Rules.ValidExtension(req.ExtensionMinutes) {
		reasons = append(reasons, ReasonInvalidExtension)
	}

	end := req.StartAt.Add(time.Duration(req.DurationMinutes+req.ExtensionMinutes) * time.Minute)

	// Bookings must be placed this long before their start.
	cutoff := now.Add(time.Duration(shop.BookingDeadlineMinutes) * time.Minute)
	if req.StartAt.Before(cutoff) {
		reasons = append(reasons, ReasonDeadlineOver)
	}

	if !shop.Hours.IsWithin(req.StartAt, end) {
		reasons = append(reasons, ReasonOutsideBusinessHours)
	}

	therapistID := req.TherapistID
	if therapistID == uuid.Nil {
		assigned, found, err := m.autoAssign(ctx, shop, req.PreferredTherapistID, req.StartAt, end)
		if err != nil {
			return nil, err
		}
		if !found {
			return rejected(append(reasons, ReasonNoAvailableTherapist)...), nil
		}
		therapistID = assigned
	} else {
		therapist, err := m.therapists.GetTherapist(ctx, therapistID)
		if err != nil {
			if errors.Is(err, directory.ErrTherapistNotFound) {
				return rejected(append(reasons, ReasonTherapistNotFound)...), nil
			}
			return nil, fmt.Errorf("load therapist: %w", err)
		}
		if therapist.ShopID != shop.ID {
			return rejected(append(reasons, ReasonTherapistNotFound)...), nil
		}
	}

	var created *Reservation

	lockErr := m.locker.WithTherapistLock(ctx, therapistID, func(lockCtx context.Context) error {
		return m.repo.WithTx(lockCtx, func(txCtx context.Context, txRepo Repository) error {
			// The advisory lock, not FOR UPDATE, is what serializes
			// concurrent bookings for this therapist: the row lock has
			// nothing to lock when the slot is still empty, and holds sit
			// outside the exclusion constraint. It holds until commit, so
			// the Redis fence above is purely an optimization.
			if err := txRepo.LockTherapist(txCtx, therapistID); err != nil {
				return err
			}

			guard := m.guard.withRepo(txRepo)

			roomOK, err := guard.RoomAvailable(txCtx, shop.ID, req.StartAt, end, shop.Buffer(), shop.RoomCount, true)
			if err != nil {
				return err
			}
			if !roomOK {
				reasons = append(reasons, ReasonRoomFull)
			}

			_, guardReasons, err := guard.IsAvailable(txCtx, therapistID, req.StartAt, end, shop.Buffer(), true)
			if err != nil {
				return err
			}
			reasons = append(reasons, guardReasons...)

			if len(reasons) > 0 {
				return errRejected
			}

			r := &Reservation{
				ID:                      uuid.New(),
				ShopID:                  shop.ID,
				TherapistID:             therapistID,
				StartAt:                 req.StartAt,
				EndAt:                   end,
				DurationMinutes:         req.DurationMinutes,
				PlannedExtensionMinutes: req.ExtensionMinutes,
				BufferMinutes:           shop.BufferMinutes,
				Status:                  target,
				UserID:                  req.UserID,
				GuestToken:              req.GuestToken,
				Notes:                   req.Notes,
			}
			if target == StatusReserved {
				until := now.Add(m.cfg.HoldTTL)
				r.ReservedUntil = &until
				key := req.IdempotencyKey
				r.IdempotencyKey = &key
			}

			if err := txRepo.Insert(txCtx, r); err != nil {
				// Storage constraints are the last line of defense against
				// races that slip past the lock.
				if errors.Is(err, ErrOverlapConstraint) {
					reasons = append(reasons, ReasonOverlap)
					return errRejected
				}
				return err
			}
			created = r

			eventType := EventReservationCreated
			if target == StatusReserved {
				eventType = EventReservationHeld
			}
			m.logEvent(txCtx, txRepo, r.ID, eventType, map[string]any{
				"shop_id":      shop.ID.String(),
				"therapist_id": therapistID.String(),
				"start_at":     r.StartAt,
				"end_at":       r.EndAt,
			})
			return nil
		})
	})

	switch {
	case lockErr == nil:
		// fall through to success handling
	case errors.Is(lockErr, errRejected):
		return rejected(reasons...), nil
	case errors.Is(lockErr, redisclient.ErrLockNotAcquired):
		// The loser of a concurrent booking race sees an overlap, never
		// a silent double booking.
		return rejected(ReasonOverlap), nil
	case errors.Is(lockErr, ErrDuplicateIdempotencyKey):
		existing, err := m.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("resolve idempotency race: %w", err)
		}
		return m.resolveIdempotentReplay(existing, req), nil
	default:
		return nil, lockErr
	}

	metrics.IncReservationCreated(string(created.Status))
	m.invalidateFor(created)

	if created.Status == StatusConfirmed {
		m.notifier.Enqueue(ctx, notify.StatusNotification{
			ReservationID: created.ID,
			ShopID:        created.ShopID,
			Status:        string(created.Status),
		})
	}

	m.logger.Info().
		Str("reservation_id", created.ID.String()).
		Str("therapist_id", created.TherapistID.String()).
		Str("status", string(created.Status)).
		Time("start_at", created.StartAt).
		Msg("reservation created")

	return &Outcome{Reservation: created}, nil
}

// autoAssign picks the highest-scoring available therapist at the shop.
// Scoring is a placeholder (0.9 for the requested preferred therapist,
// 0.5 otherwise); ties break on display_order ascending, then id, which
// is the iteration order of ListByShop.
func (m *Manager) autoAssign(ctx context.Context, shop *directory.Shop, preferred uuid.UUID, start, end time.Time) (uuid.UUID, bool, error) {
	candidates, err := m.therapists.ListByShop(ctx, shop.ID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("list therapists: %w", err)
	}

	best := uuid.Nil
	bestScore := -1.0
	for _, c := range candidates {
		ok, _, err := m.guard.IsAvailable(ctx, c.ID, start, end, shop.Buffer(), false)
		if err != nil {
			return uuid.Nil, false, err
		}
		if !ok {
			continue
		}
		score := 0.5
		if c.ID == preferred {
			score = 0.9
		}
		if score > bestScore {
			best = c.ID
			bestScore = score
		}
	}
	return best, best != uuid.Nil, nil
}

// Cancel cancels a reservation. Cancelling an already-cancelled
// reservation is a no-op success. Only the owner (or an admin) may
// cancel.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Outcome, error) {
	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.Admin && !r.OwnedBy(actor.UserID, actor.GuestToken) {
		return nil, ErrNotOwner
	}

	if r.Status == StatusCancelled {
		return &Outcome{Reservation: r}, nil
	}
	if !r.Status.CanTransitionTo(StatusCancelled) {
		return rejected(ReasonInvalidTransition), nil
	}

	updated, err := m.repo.UpdateStatus(ctx, id, r.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// Lost a race with another transition; re-read and treat an
			// already-cancelled row as success.
			current, getErr := m.repo.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == StatusCancelled {
				return &Outcome{Reservation: current}, nil
			}
			return rejected(ReasonInvalidTransition), nil
		}
		return nil, fmt.Errorf("cancel reservation: %w", err)
	}

	metrics.IncReservationCancelled()
	m.invalidateFor(updated)
	m.logEvent(ctx, m.repo, updated.ID, EventReservationCancelled, map[string]any{
		"previous_status": string(r.Status),
	})

	m.logger.Info().
		Str("reservation_id", updated.ID.String()).
		Msg("reservation cancelled")

	return &Outcome{Reservation: updated}, nil
}

// AdminUpdateStatus applies an admin-driven transition. Confirming
// enqueues a customer notification and schedules a reminder a fixed
// lead time before the start when that instant is still in the future.
func (m *Manager) AdminUpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Outcome, error) {
	if !actor.Admin {
		return nil, ErrAdminRequired
	}

	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.Status == to {
		return &Outcome{Reservation: r}, nil
	}
	if !r.Status.CanTransitionTo(to) {
		return rejected(ReasonInvalidTransition), nil
	}

	updated, err := m.repo.UpdateStatus(ctx, id, r.Status, to)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return rejected(ReasonInvalidTransition), nil
		}
		return nil, fmt.Errorf("update reservation status: %w", err)
	}

	m.invalidateFor(updated)
	m.logEvent(ctx, m.repo, updated.ID, "RESERVATION_STATUS_"+string(to), map[string]any{
		"previous_status": string(r.Status),
		"actor_admin":     true,
	})

	if to == StatusConfirmed {
		m.notifier.Enqueue(ctx, notify.StatusNotification{
			ReservationID: updated.ID,
			ShopID:        updated.ShopID,
			Status:        string(to),
		})
		remindAt := updated.StartAt.Add(-m.cfg.ReminderLead)
		if m.cfg.ReminderLead > 0 && remindAt.After(m.clock.Now()) {
			m.notifier.ScheduleReminder(ctx, updated.ID, remindAt)
		}
	}

	return &Outcome{Reservation: updated}, nil
}

// invalidateFor drops cached availability for every calendar date the
// reservation touches.
func (m *Manager) invalidateFor(r *Reservation) {
	if m.invalidator == nil {
		return
	}
	m.invalidator.Invalidate(r.TherapistID, r.StartAt)
	if r.EndAt.YearDay() != r.StartAt.YearDay() || r.EndAt.Year() != r.StartAt.Year() {
		m.invalidator.Invalidate(r.TherapistID, r.EndAt)
	}
}

func (m *Manager) logEvent(ctx context.Context, repo Repository, reservationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	resID := reservationID
	ev := EventLog{
		EventType:     eventType,
		ReservationID: &resID,
		Payload:       data,
		CreatedAt:     m.clock.Now(),
	}
	if err := repo.InsertEvent(ctx, ev); err != nil {
		m.logger.Error().Err(err).
			Str("event", eventType).
			Str("reservation_id", reservationID.String()).
			Msg("insert event log")
	}
}

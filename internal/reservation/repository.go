package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrDuplicateIdempotencyKey surfaces the unique constraint on
	// idempotency_key; the lifecycle resolves it to either the existing
	// reservation or an idempotency_key_conflict rejection.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrOverlapConstraint surfaces the storage-level exclusion
	// constraint on (therapist, range): the last line of defense against
	// races that slip past the row lock.
	ErrOverlapConstraint = errors.New("reservation range conflicts with an existing reservation")
)

// Filter narrows reservation listings.
type Filter struct {
	ShopID      uuid.UUID
	TherapistID uuid.UUID
	Status      Status
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// Repository contains all DB interactions needed by the guard,
// lifecycle manager, sweeper, and availability reads.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Reservation, error)

	// ListActiveOverlapping returns reservations for one therapist whose
	// [start_at, end_at) overlaps the window and that are active per
	// ActiveAt evaluated at now. With lock=true the rows are read under
	// FOR UPDATE; if the store cannot take the lock the implementation
	// falls back to an unlocked read and logs the degradation.
	ListActiveOverlapping(ctx context.Context, therapistID uuid.UUID, windowStart, windowEnd, now time.Time, lock bool) ([]Reservation, error)

	// ListForTherapistRange returns every possibly-active reservation
	// overlapping [from, to) for availability computation; callers apply
	// ActiveAt themselves.
	ListForTherapistRange(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Reservation, error)

	// ListForShopRange is the batched variant across all therapists at a
	// shop, used by listing endpoints to avoid one query per therapist.
	ListForShopRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]Reservation, error)

	// CountOverlappingActive counts active reservations across all
	// therapists at a shop overlapping the window, for room capacity.
	CountOverlappingActive(ctx context.Context, shopID uuid.UUID, windowStart, windowEnd, now time.Time, lock bool) (int, error)

	// LockTherapist takes a transaction-scoped advisory lock keyed on
	// the therapist, serializing booking transactions for that therapist
	// until commit or rollback. FOR UPDATE cannot serialize two inserts
	// when no overlapping row exists yet, and the exclusion constraint
	// does not cover holds, so this lock is what prevents two concurrent
	// holds from both seeing an empty overlap set and both inserting.
	// Must be called inside WithTx.
	LockTherapist(ctx context.Context, therapistID uuid.UUID) error

	Insert(ctx context.Context, r *Reservation) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error)

	// FindStaleHolds returns holds whose reserved_until has passed, or
	// whose reserved_until is missing and whose age exceeds fallbackTTL.
	FindStaleHolds(ctx context.Context, now time.Time, fallbackTTL time.Duration, limit int) ([]Reservation, error)

	List(ctx context.Context, f Filter) ([]Reservation, int, error)

	InsertEvent(ctx context.Context, ev EventLog) error

	// WithTx runs fn against a repository bound to a single transaction,
	// committing on nil and rolling back on error.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

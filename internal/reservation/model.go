// Package reservation implements the booking lifecycle: feasibility
// checks, the hold/confirm/cancel state machine, and hold expiry.
package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/serenispa/reservation-engine/internal/interval"
)

type Status string

const (
	StatusReserved  Status = "reserved" // TTL-bound hold
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// DefaultHoldTTL is the defensive fallback used when a hold somehow has
// no reserved_until; without it a malformed hold would occupy its slot
// forever.
const DefaultHoldTTL = 15 * time.Minute

// transitions maps each status to the statuses it may move to. Anything
// not listed is an invalid transition; declined and expired are
// terminal.
var transitions = map[Status][]Status{
	StatusReserved:  {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDeclined || s == StatusCancelled || s == StatusExpired
}

// Reason is a structured rejection code. Business-rule failures are
// surfaced as a list of reasons, never as an error.
type Reason string

const (
	ReasonInvalidTimeRange       Reason = "invalid_time_range"
	ReasonNoShift                Reason = "no_shift"
	ReasonOnBreak                Reason = "on_break"
	ReasonOverlap                Reason = "overlap_existing_reservation"
	ReasonRoomFull               Reason = "room_full"
	ReasonOutsideBusinessHours   Reason = "outside_business_hours"
	ReasonDeadlineOver           Reason = "deadline_over"
	ReasonInvalidExtension       Reason = "invalid_extension"
	ReasonShopNotFound           Reason = "shop_not_found"
	ReasonTherapistNotFound      Reason = "therapist_not_found"
	ReasonNoAvailableTherapist   Reason = "no_available_therapist"
	ReasonIdempotencyKeyConflict Reason = "idempotency_key_conflict"
	ReasonInvalidTransition      Reason = "invalid_transition"
	ReasonInternalError          Reason = "internal_error"
)

type Reservation struct {
	ID                      uuid.UUID
	ShopID                  uuid.UUID
	TherapistID             uuid.UUID
	StartAt                 time.Time
	EndAt                   time.Time
	DurationMinutes         int
	PlannedExtensionMinutes int
	BufferMinutes           int
	ReservedUntil           *time.Time
	IdempotencyKey          *string
	Status                  Status
	UserID                  *uuid.UUID
	GuestToken              *string
	Notes                   string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Interval returns the occupied range, without buffer.
func (r *Reservation) Interval() interval.Interval {
	return interval.Interval{Start: r.StartAt, End: r.EndAt}
}

// ActiveAt reports whether this reservation must be respected by
// overlap and availability checks at the given instant. Pending and
// confirmed are always active. A hold is active until reserved_until,
// or until created_at + DefaultHoldTTL when reserved_until is missing.
// Both read and write paths apply this rule, so an expired-but-unswept
// hold can never cause a double booking.
func (r *Reservation) ActiveAt(now time.Time) bool {
	switch r.Status {
	case StatusPending, StatusConfirmed:
		return true
	case StatusReserved:
		if r.ReservedUntil != nil {
			return r.ReservedUntil.After(now)
		}
		return r.CreatedAt.Add(DefaultHoldTTL).After(now)
	default:
		return false
	}
}

// OwnedBy reports whether the given actor identity matches the
// reservation's owner.
func (r *Reservation) OwnedBy(userID *uuid.UUID, guestToken *string) bool {
	if userID != nil && r.UserID != nil && *userID == *r.UserID {
		return true
	}
	if guestToken != nil && r.GuestToken != nil && *guestToken == *r.GuestToken {
		return true
	}
	return false
}

// EventLog records a lifecycle event for audit.
type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

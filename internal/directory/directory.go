// Package directory exposes the shop-profile and therapist-directory
// collaborators the engine consumes: per-shop policy (room count,
// buffer, booking rules, business hours) and the therapist-to-shop
// mapping. Only the contract lives here plus a thin pgx-backed
// implementation for wiring.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/serenispa/reservation-engine/internal/schedule"
)

var (
	ErrShopNotFound      = errors.New("shop not found")
	ErrTherapistNotFound = errors.New("therapist not found")
)

// BookingRules is a shop's buffer/extension policy, immutable within a
// request.
type BookingRules struct {
	BaseBufferMinutes    int
	MaxExtensionMinutes  int
	ExtensionStepMinutes int
}

// ValidExtension reports whether the requested extension is a
// non-negative multiple of the step and within the maximum.
func (r BookingRules) ValidExtension(minutes int) bool {
	if minutes < 0 || minutes > r.MaxExtensionMinutes {
		return false
	}
	if minutes == 0 {
		return true
	}
	if r.ExtensionStepMinutes <= 0 {
		return false
	}
	return minutes%r.ExtensionStepMinutes == 0
}

type Shop struct {
	ID                     uuid.UUID
	Name                   string
	Location               *time.Location
	RoomCount              int
	BufferMinutes          int
	BookingDeadlineMinutes int
	Rules                  BookingRules
	Hours                  *schedule.BusinessHours
}

// Buffer returns the shop's reservation spacing as a duration.
func (s *Shop) Buffer() time.Duration {
	return time.Duration(s.BufferMinutes) * time.Minute
}

type Therapist struct {
	ID           uuid.UUID
	ShopID       uuid.UUID
	Name         string
	DisplayOrder int
}

type ShopDirectory interface {
	GetShop(ctx context.Context, id uuid.UUID) (*Shop, error)
}

type TherapistDirectory interface {
	GetTherapist(ctx context.Context, id uuid.UUID) (*Therapist, error)
	ListByShop(ctx context.Context, shopID uuid.UUID) ([]Therapist, error)
}

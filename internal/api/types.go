package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/serenispa/reservation-engine/internal/reservation"
)

type CreateReservationRequest struct {
	ShopID               string `json:"shop_id"`
	TherapistID          string `json:"therapist_id,omitempty"`
	PreferredTherapistID string `json:"preferred_therapist_id,omitempty"`
	StartAt              string `json:"start_at"`
	DurationMinutes      int    `json:"duration_minutes"`
	ExtensionMinutes     int    `json:"extension_minutes,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

type UpdateReservationRequest struct {
	Status string `json:"status"`
}

type ReservationResponse struct {
	ID                      uuid.UUID  `json:"id"`
	ShopID                  uuid.UUID  `json:"shop_id"`
	TherapistID             uuid.UUID  `json:"therapist_id"`
	StartAt                 time.Time  `json:"start_at"`
	EndAt                   time.Time  `json:"end_at"`
	DurationMinutes         int        `json:"duration_minutes"`
	PlannedExtensionMinutes int        `json:"planned_extension_minutes"`
	BufferMinutes           int        `json:"buffer_minutes"`
	Status                  string     `json:"status"`
	ReservedUntil           *time.Time `json:"reserved_until,omitempty"`
	Notes                   string     `json:"notes,omitempty"`
}

func toReservationResponse(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:                      r.ID,
		ShopID:                  r.ShopID,
		TherapistID:             r.TherapistID,
		StartAt:                 r.StartAt,
		EndAt:                   r.EndAt,
		DurationMinutes:         r.DurationMinutes,
		PlannedExtensionMinutes: r.PlannedExtensionMinutes,
		BufferMinutes:           r.BufferMinutes,
		Status:                  string(r.Status),
		ReservedUntil:           r.ReservedUntil,
		Notes:                   r.Notes,
	}
}

type ReservationListResponse struct {
	Reservations []ReservationResponse `json:"reservations"`
	Total        int                   `json:"total"`
}

type RejectionResponse struct {
	Reasons []string `json:"reasons"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func reasonsToStrings(reasons []reservation.Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/serenispa/reservation-engine/internal/availability"
	"github.com/serenispa/reservation-engine/internal/directory"
	"github.com/serenispa/reservation-engine/internal/reservation"
)

// actorFromRequest builds the acting identity from gateway-supplied
// headers. Authentication itself happens upstream; this engine only
// consumes the result.
func actorFromRequest(r *http.Request) reservation.Actor {
	var actor reservation.Actor
	if v := r.Header.Get("X-User-ID"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			actor.UserID = &id
		}
	}
	if v := r.Header.Get("X-Guest-Token"); v != "" {
		token := v
		actor.GuestToken = &token
	}
	actor.Admin = r.Header.Get("X-Admin") == "true"
	return actor
}

func parseTherapistID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "therapistID"))
	return id, err == nil
}

func availabilitySummaryHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := parseTherapistID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist id must be a valid UUID")
			return
		}

		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")
		if from == "" || to == "" {
			writeError(w, http.StatusBadRequest, "invalid_date_range", "from and to query params are required")
			return
		}

		summary, err := svc.Summary(r.Context(), therapistID, from, to)
		if err != nil {
			handleReadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func availabilitySlotsHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := parseTherapistID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist id must be a valid UUID")
			return
		}

		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "invalid_date", "date query param is required")
			return
		}

		slots, err := svc.DailySlots(r.Context(), therapistID, date)
		if err != nil {
			handleReadError(w, err)
			return
		}
		if slots == nil {
			slots = []availability.Slot{}
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func verifySlotHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := parseTherapistID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist id must be a valid UUID")
			return
		}

		startAt, err := time.Parse(time.RFC3339, r.URL.Query().Get("start_at"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_at", "start_at must be an ISO-8601 timestamp with offset")
			return
		}

		slot, err := svc.VerifySlot(r.Context(), therapistID, startAt)
		if err != nil {
			handleReadError(w, err)
			return
		}
		if slot == nil {
			writeJSON(w, http.StatusConflict, map[string]string{"status": string(availability.SlotBlocked)})
			return
		}
		writeJSON(w, http.StatusOK, slot)
	}
}

func nextAvailableHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := parseTherapistID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist id must be a valid UUID")
			return
		}

		lookahead, _ := strconv.Atoi(r.URL.Query().Get("lookahead_days"))
		next, err := svc.NextAvailable(r.Context(), therapistID, lookahead)
		if err != nil {
			handleReadError(w, err)
			return
		}
		if next == nil {
			writeJSON(w, http.StatusOK, map[string]any{"next": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"next": next})
	}
}

func shopNextAvailableHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_shop_id", "shop id must be a valid UUID")
			return
		}

		lookahead, _ := strconv.Atoi(r.URL.Query().Get("lookahead_days"))
		slots, err := svc.NextAvailableForShop(r.Context(), shopID, lookahead)
		if err != nil {
			handleReadError(w, err)
			return
		}
		if slots == nil {
			slots = []availability.NextSlot{}
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func decodeCreateRequest(r *http.Request) (reservation.CreateRequest, string, bool) {
	var body CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return reservation.CreateRequest{}, "could not parse JSON", false
	}

	shopID, err := uuid.Parse(body.ShopID)
	if err != nil {
		return reservation.CreateRequest{}, "shop_id must be a valid UUID", false
	}

	req := reservation.CreateRequest{
		ShopID:           shopID,
		DurationMinutes:  body.DurationMinutes,
		ExtensionMinutes: body.ExtensionMinutes,
		Notes:            body.Notes,
	}

	if body.TherapistID != "" {
		id, err := uuid.Parse(body.TherapistID)
		if err != nil {
			return reservation.CreateRequest{}, "therapist_id must be a valid UUID", false
		}
		req.TherapistID = id
	}
	if body.PreferredTherapistID != "" {
		id, err := uuid.Parse(body.PreferredTherapistID)
		if err != nil {
			return reservation.CreateRequest{}, "preferred_therapist_id must be a valid UUID", false
		}
		req.PreferredTherapistID = id
	}

	startAt, err := time.Parse(time.RFC3339, body.StartAt)
	if err != nil {
		return reservation.CreateRequest{}, "start_at must be an ISO-8601 timestamp with offset", false
	}
	req.StartAt = startAt

	return req, "", true
}

func createReservationHandler(mgr *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, detail, ok := decodeCreateRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request_body", detail)
			return
		}

		actor := actorFromRequest(r)
		req.UserID = actor.UserID
		req.GuestToken = actor.GuestToken

		outcome, err := mgr.Create(r.Context(), req)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}
		if !outcome.OK() {
			writeRejected(w, reasonsToStrings(outcome.Rejections))
			return
		}
		writeJSON(w, http.StatusCreated, toReservationResponse(outcome.Reservation))
	}
}

func holdReservationHandler(mgr *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, detail, ok := decodeCreateRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request_body", detail)
			return
		}

		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		if req.IdempotencyKey == "" {
			writeError(w, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required")
			return
		}

		actor := actorFromRequest(r)
		req.UserID = actor.UserID
		req.GuestToken = actor.GuestToken

		outcome, err := mgr.Hold(r.Context(), req)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}
		if !outcome.OK() {
			writeRejected(w, reasonsToStrings(outcome.Rejections))
			return
		}
		writeJSON(w, http.StatusCreated, toReservationResponse(outcome.Reservation))
	}
}

func cancelReservationHandler(mgr *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		outcome, err := mgr.Cancel(r.Context(), id, actorFromRequest(r))
		if err != nil {
			handleLifecycleError(w, err)
			return
		}
		if !outcome.OK() {
			writeRejected(w, reasonsToStrings(outcome.Rejections))
			return
		}
		writeJSON(w, http.StatusOK, toReservationResponse(outcome.Reservation))
	}
}

func updateReservationHandler(mgr *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		var body UpdateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		outcome, err := mgr.AdminUpdateStatus(r.Context(), id, reservation.Status(body.Status), actorFromRequest(r))
		if err != nil {
			handleLifecycleError(w, err)
			return
		}
		if !outcome.OK() {
			writeRejected(w, reasonsToStrings(outcome.Rejections))
			return
		}
		writeJSON(w, http.StatusOK, toReservationResponse(outcome.Reservation))
	}
}

func listReservationsHandler(repo reservation.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !actorFromRequest(r).Admin {
			writeError(w, http.StatusForbidden, "admin_required", "listing reservations requires an admin actor")
			return
		}

		q := r.URL.Query()
		var f reservation.Filter
		if v := q.Get("shop_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_shop_id", "shop_id must be a valid UUID")
				return
			}
			f.ShopID = id
		}
		if v := q.Get("therapist_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist_id must be a valid UUID")
				return
			}
			f.TherapistID = id
		}
		if v := q.Get("status"); v != "" {
			f.Status = reservation.Status(v)
		}
		if v := q.Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be an ISO-8601 timestamp")
				return
			}
			f.From = t
		}
		if v := q.Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be an ISO-8601 timestamp")
				return
			}
			f.To = t
		}
		f.Limit, _ = strconv.Atoi(q.Get("limit"))
		f.Offset, _ = strconv.Atoi(q.Get("offset"))

		reservations, total, err := repo.List(r.Context(), f)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}

		resp := ReservationListResponse{Total: total, Reservations: make([]ReservationResponse, 0, len(reservations))}
		for i := range reservations {
			resp.Reservations = append(resp.Reservations, toReservationResponse(&reservations[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrTherapistNotFound):
		writeError(w, http.StatusNotFound, "therapist_not_found", err.Error())
	case errors.Is(err, directory.ErrShopNotFound):
		writeError(w, http.StatusNotFound, "shop_not_found", err.Error())
	case errors.Is(err, availability.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "availability lookup failed")
	}
}

func handleLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reservation.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, reservation.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, reservation.ErrAdminRequired):
		writeError(w, http.StatusForbidden, "admin_required", err.Error())
	case errors.Is(err, reservation.ErrIdempotencyKeyRequired):
		writeError(w, http.StatusBadRequest, "missing_idempotency_key", err.Error())
	default:
		// Storage faults: the transaction was rolled back, the caller may
		// retry.
		writeError(w, http.StatusInternalServerError, "internal_error", "reservation operation failed")
	}
}

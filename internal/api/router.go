package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/serenispa/reservation-engine/internal/availability"
	"github.com/serenispa/reservation-engine/internal/reservation"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Availability *availability.Service
	Manager      *reservation.Manager
	Reservations reservation.Repository
	Health       *HealthHandler
	Logger       zerolog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger))

	r.Get("/healthz", deps.Health.Liveness)
	r.Get("/readyz", deps.Health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/therapists/{therapistID}", func(r chi.Router) {
			r.Get("/availability", availabilitySummaryHandler(deps.Availability))
			r.Get("/slots", availabilitySlotsHandler(deps.Availability))
			r.Get("/slots/verify", verifySlotHandler(deps.Availability))
			r.Get("/next-available", nextAvailableHandler(deps.Availability))
		})

		r.Get("/shops/{shopID}/next-available", shopNextAvailableHandler(deps.Availability))

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", listReservationsHandler(deps.Reservations))
			r.Post("/", createReservationHandler(deps.Manager))
			r.Post("/hold", holdReservationHandler(deps.Manager))
			r.Post("/{id}/cancel", cancelReservationHandler(deps.Manager))
			r.Patch("/{id}", updateReservationHandler(deps.Manager))
		})
	})

	return r
}

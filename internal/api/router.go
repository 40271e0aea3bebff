package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dealdesk/booking-scheduler/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Scheduler endpoints, all tenant-scoped
	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/bookings", createBookingHandler(cfg.Service))
		r.Get("/bookings", listBookingsHandler(cfg.Service))
		r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/complete", completeBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/fail", failBookingHandler(cfg.Service))

		r.Get("/counsellors/{id}/bookings", listByCounsellorHandler(cfg.Service))
		r.Get("/counsellors/{id}/blocked-slots", blockedSlotsHandler(cfg.Service))
		r.Get("/counsellors/{id}/availability", availabilityHandler(cfg.Service))

		r.Get("/leads/{id}/bookings", listByLeadHandler(cfg.Service))
	})

	return r
}

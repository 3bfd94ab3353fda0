package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/auth"
	"github.com/medsched/clinic-scheduling/internal/schedule"
)

type RouterConfig struct {
	Service   *schedule.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret []byte
	Env       string
	Version   string
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside the auth boundary
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(cfg.JWTSecret))

		pr.Get("/availability", checkAvailabilityHandler(cfg.Service))

		pr.Post("/appointments", createAppointmentHandler(cfg.Service))
		pr.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		pr.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Service))
		pr.Post("/appointments/{id}/confirm", transitionHandler(func(req *http.Request, caller auth.Identity, id uuid.UUID) (*schedule.Appointment, error) {
			return cfg.Service.ConfirmAppointment(req.Context(), caller, id)
		}))
		pr.Post("/appointments/{id}/cancel", transitionHandler(func(req *http.Request, caller auth.Identity, id uuid.UUID) (*schedule.Appointment, error) {
			return cfg.Service.CancelAppointment(req.Context(), caller, id)
		}))
		pr.Post("/appointments/{id}/complete", transitionHandler(func(req *http.Request, caller auth.Identity, id uuid.UUID) (*schedule.Appointment, error) {
			return cfg.Service.CompleteAppointment(req.Context(), caller, id)
		}))
		pr.Post("/appointments/{id}/notify", notifyReceptionistHandler(cfg.Service))
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bcx0/agenda/internal/booking"
	"github.com/bcx0/agenda/internal/tz"
)

type RouterConfig struct {
	Service *booking.Service
	Zones   *tz.Zones
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandler(cfg.Service, cfg.Zones)

	// Public endpoints
	r.Get("/slots", h.ListSlots)
	r.Post("/bookings", h.CreateBooking)
	r.Get("/clients/{id}/quota", h.QuotaStatus)
	r.Get("/calendar/feed", h.CalendarFeed)

	// Client self-service via manage token
	r.Route("/manage/{token}", func(r chi.Router) {
		r.Get("/", h.ManageGet)
		r.Post("/cancel", h.ManageCancel)
		r.Post("/reschedule", h.ManageReschedule)
	})

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Post("/bookings/{id}/cancel", h.AdminCancelBooking)
		r.Post("/bookings/{id}/reschedule", h.AdminRescheduleBooking)
		r.Post("/bookings/{id}/manage-token", h.AdminEnsureManageToken)
		r.Post("/holds/materialize", h.AdminMaterializeHold)

		r.Get("/rules", h.AdminListRules)
		r.Put("/rules/day/{dayOfWeek}", h.AdminReplaceRulesForDay)
		r.Delete("/rules/day/{dayOfWeek}", h.AdminDeleteRulesForDay)

		r.Get("/overrides", h.AdminListOverrides)
		r.Post("/overrides", h.AdminCreateOverride)
		r.Delete("/overrides/{id}", h.AdminDeleteOverride)
		r.Put("/overrides/date/{date}", h.AdminSetOpenOverridesForDate)
		r.Delete("/overrides/date/{date}", h.AdminClearOpenOverridesForDate)

		r.Get("/holds", h.AdminListHolds)
		r.Post("/holds", h.AdminCreateHold)
		r.Delete("/holds/{id}", h.AdminDeleteHold)

		r.Get("/blocks", h.AdminListBlocks)
		r.Post("/blocks", h.AdminCreateBlock)
		r.Delete("/blocks/{id}", h.AdminDeleteBlock)

		r.Get("/settings", h.AdminGetSettings)
		r.Put("/settings", h.AdminUpdateSettings)
		r.Get("/quota-usage", h.AdminQuotaUsage)
	})

	return r
}

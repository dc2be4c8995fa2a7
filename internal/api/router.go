package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Tailgate/internal/analytics"
	"github.com/MikeSquared-Agency/Tailgate/internal/challenges"
	"github.com/MikeSquared-Agency/Tailgate/internal/config"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/notify"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
	"github.com/MikeSquared-Agency/Tailgate/internal/tails"
)

// Deps bundles what the public router serves from.
type Deps struct {
	Store      store.Store
	Challenges *challenges.Service
	Recorder   *tails.Recorder
	Analytics  *analytics.Aggregator
	Notifier   *notify.Notifier
	Metrics    *metrics.Metrics
	Config     *config.Config
	Logger     *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(d.Logger, d.Metrics))
	r.Use(RateLimitMiddleware(d.Config.RateLimit.RequestsPerMinute, d.Config.RateLimit.Burst))

	chs := NewChallengesHandler(d.Challenges)
	bets := NewBetsHandler(d.Challenges)
	tl := NewTailsHandler(d.Recorder)
	an := NewAnalyticsHandler(d.Analytics)
	user := NewUserHandler(d.Notifier)
	admin := NewAdminHandler(d.Store, d.Challenges, d.Recorder, d.Analytics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware(d.Store, false))
			r.Get("/challenges/{id}", chs.Get)
			r.Get("/bets", bets.List)
			r.Get("/bets/{id}", bets.Get)
			r.Get("/leaderboard/{challengeID}", tl.Leaderboard)
		})

		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware(d.Store, true))

			r.Get("/user", user.Me)
			r.Get("/notifications", user.Notifications)
			r.Post("/notifications/{id}/read", user.MarkRead)

			r.Get("/challenges", chs.List)
			r.Post("/challenges", chs.Create)
			r.Patch("/challenges/{id}", chs.Update)
			r.Get("/challenges/{id}/payouts", chs.Payouts)

			r.Post("/bets", bets.Create)
			r.Patch("/bets/{id}", bets.Update)

			r.Get("/tails", tl.List)
			r.Post("/tails", tl.Record)
			r.Get("/leaderboard/{challengeID}/me", tl.MyStanding)

			r.Get("/analytics", an.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware(d.Store, false))
			r.Use(AdminAuthMiddleware(d.Config.Server.AdminToken))
			r.Post("/admin/bets/close-expired", admin.CloseExpired)
			r.Post("/admin/challenges/{id}/rerank", admin.Rerank)
			r.Post("/admin/analytics/snapshot", admin.Snapshot)
		})
	})

	return r
}

// NewMetricsRouter serves health and Prometheus metrics on the internal port.
func NewMetricsRouter(s store.Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

package api

import (
	"net/http"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/alerts"
	"github.com/coinfolio/backend/internal/auth"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/health"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/market"
	"github.com/coinfolio/backend/internal/metrics"
	"github.com/coinfolio/backend/internal/middleware"
	"github.com/coinfolio/backend/internal/portfolio"
	"github.com/coinfolio/backend/internal/settings"
	"github.com/coinfolio/backend/internal/websocket"
)

// Options holds everything the router serves. Health, Metrics, WebSocket
// and AuthLimiter are optional.
type Options struct {
	AuthService    *auth.Service
	Auth           *auth.Handlers
	CookieName     string
	Market         *market.Handlers
	Portfolio      *portfolio.Handlers
	Alerts         *alerts.Handlers
	Settings       *settings.Handlers
	Activity       *activity.Service
	WebSocket      *websocket.Handler
	Health         *health.Handler
	Metrics        *metrics.Metrics
	AuthLimiter    *middleware.IPRateLimiter
	AllowedOrigins []string
	Logger         *logger.Logger
}

type Router struct {
	mux      *http.ServeMux
	opts     Options
	log      *logger.Logger
	requireA func(http.Handler) http.Handler
	handler  http.Handler
}

func NewRouter(opts Options) *Router {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	cookie := opts.CookieName
	if cookie == "" {
		cookie = auth.DefaultCookieName
	}

	r := &Router{
		mux:      http.NewServeMux(),
		opts:     opts,
		log:      log.WithComponent("api"),
		requireA: auth.Middleware(opts.AuthService, cookie),
	}
	r.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recoverer(log.WithComponent("http")),
		middleware.Logging(log.WithComponent("http")),
	}
	if opts.Metrics != nil {
		chain = append(chain, metrics.MetricsMiddleware(opts.Metrics))
	}
	chain = append(chain,
		middleware.Timing(log.WithComponent("http")),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Gzip,
		middleware.ETag,
	)
	r.handler = middleware.Chain(r.mux, chain...)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	o := r.opts

	// Probes and metrics
	if o.Health != nil {
		r.mux.HandleFunc("GET /health", o.Health.HealthHandler)
		r.mux.HandleFunc("GET /health/live", o.Health.LivenessHandler)
		r.mux.HandleFunc("GET /health/ready", o.Health.ReadinessHandler)
	}
	if o.Metrics != nil {
		r.mux.HandleFunc("GET /metrics", o.Metrics.Handler())
	}

	// Auth routes (no auth required)
	r.mux.Handle("POST /api/v1/auth/register", r.limited(o.Auth.Register))
	r.mux.Handle("POST /api/v1/auth/login", r.limited(o.Auth.Login))

	// Auth routes (auth required)
	r.mux.Handle("POST /api/v1/auth/logout", r.withAuth(o.Auth.Logout))
	r.mux.Handle("POST /api/v1/auth/logout-all", r.withAuth(o.Auth.LogoutAll))
	r.mux.Handle("GET /api/v1/auth/me", r.withAuth(o.Auth.Me))
	r.mux.Handle("PUT /api/v1/auth/password", r.withAuth(o.Auth.ChangePassword))

	// Market data
	r.mux.Handle("GET /api/v1/market/search", r.withAuth(o.Market.Search))
	r.mux.Handle("GET /api/v1/market/trending", r.withAuth(o.Market.Trending))
	r.mux.Handle("GET /api/v1/market/coins/{id}", r.withAuth(o.Market.CoinDetails))
	r.mux.Handle("GET /api/v1/market/coins/{id}/history", r.withAuth(o.Market.CoinHistory))
	r.mux.Handle("GET /api/v1/market/coins/{id}/price", r.withAuth(o.Market.CoinPrice))

	// Portfolio
	r.mux.Handle("GET /api/v1/portfolio", r.withAuth(o.Portfolio.List))
	r.mux.Handle("POST /api/v1/portfolio", r.withAuth(o.Portfolio.Add))
	r.mux.Handle("POST /api/v1/portfolio/export", r.withAuth(o.Portfolio.Export))
	r.mux.Handle("DELETE /api/v1/portfolio/{coin_id}", r.withAuth(o.Portfolio.Remove))

	// Alerts
	r.mux.Handle("GET /api/v1/alerts", r.withAuth(o.Alerts.List))
	r.mux.Handle("POST /api/v1/alerts", r.withAuth(o.Alerts.Create))
	r.mux.Handle("DELETE /api/v1/alerts/{id}", r.withAuth(o.Alerts.Delete))

	// Settings and activity
	r.mux.Handle("GET /api/v1/settings", r.withAuth(o.Settings.Get))
	r.mux.Handle("PUT /api/v1/settings", r.withAuth(o.Settings.Update))
	r.mux.Handle("GET /api/v1/activity", r.withAuth(NewActivityHandlers(o.Activity).List))

	if o.WebSocket != nil {
		r.mux.Handle("GET /api/v1/ws", r.withAuth(o.WebSocket.ServeWS))
	}

	r.mux.Handle("/api/", r.handle(notFound))
}

func (r *Router) handle(h apperrors.Handler) http.Handler {
	return apperrors.HandleFunc(h, r.logError)
}

func (r *Router) withAuth(h apperrors.Handler) http.Handler {
	return r.requireA(r.handle(h))
}

// limited applies the per-IP limit used for credential endpoints
func (r *Router) limited(h apperrors.Handler) http.Handler {
	if r.opts.AuthLimiter == nil {
		return r.handle(h)
	}
	return middleware.RateLimit(r.opts.AuthLimiter)(r.handle(h))
}

// logError logs failures the caller cannot fix. Client errors are already
// covered by the request log.
func (r *Router) logError(req *http.Request, err error) {
	fields := map[string]any{
		"method": req.Method,
		"path":   req.URL.Path,
	}
	if user := auth.GetUserFromContext(req.Context()); user != nil {
		fields["user_id"] = user.UserID.String()
	}

	switch {
	case apperrors.IsExternalError(err):
		r.log.Warn(req.Context(), "upstream failure", withCause(fields, err))
	case apperrors.IsServerError(err):
		r.log.Error(req.Context(), "request failed", fields, err)
	}
}

func withCause(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	if appErr := apperrors.AsAppError(err); appErr.Cause != nil {
		fields["cause"] = appErr.Cause.Error()
	}
	return fields
}

func notFound(w http.ResponseWriter, r *http.Request) error {
	return apperrors.NotFound("route")
}

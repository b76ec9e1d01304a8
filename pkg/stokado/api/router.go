package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRequestTimeout bounds every request, including the chain lookup and
// grant minting behind /authorize.
const DefaultRequestTimeout = 60 * time.Second

type routerOptions struct {
	requestTimeout time.Duration
}

type RouterOption func(*routerOptions)

// WithRequestTimeout sets the deadline placed on each request context.
func WithRequestTimeout(d time.Duration) RouterOption {
	return func(o *routerOptions) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// NewRouter builds the HTTP routes of the authorization service.
func NewRouter(authorizer Authorizer, logger *slog.Logger, opts ...RouterOption) http.Handler {
	o := routerOptions{requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(o.requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	h := NewAuthorizeHandler(authorizer, logger)
	r.Post("/authorize", h.Authorize)
	return r
}

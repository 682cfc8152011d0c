package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/httputil"
	"github.com/platinummonkey/scribe/pkg/middleware"
	"github.com/platinummonkey/scribe/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultMaxBodyBytes = 64 << 10

// Options configures the API server
type Options struct {
	Service *authz.Service
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// AdminLimiter throttles the admin routes per principal. Nil disables it.
	AdminLimiter middleware.Limiter

	// ConcealResourceExistence answers 404 instead of 403 when a caller has
	// no relationship to a resource.
	ConcealResourceExistence bool

	// RetryAfter is advertised on 503 responses
	RetryAfter time.Duration

	MaxBodyBytes int64
}

// Server is the scribe-authz HTTP surface
type Server struct {
	svc     *authz.Service
	router  *mux.Router
	logger  *observability.Logger
	errors  *errorWriter
	handler http.Handler
}

// NewServer creates a new API server with every route registered
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		svc:    opts.Service,
		router: mux.NewRouter(),
		logger: opts.Logger,
		errors: &errorWriter{
			conceal:    opts.ConcealResourceExistence,
			retryAfter: opts.RetryAfter,
		},
	}
	s.setupRoutes(opts)

	s.handler = httputil.Chain(
		middleware.RequestID(opts.Logger),
		middleware.AccessLog,
		httputil.Recovery(opts.Logger),
		httputil.MaxBytes(opts.MaxBodyBytes),
		httputil.RequireJSON,
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	v1.Use(middleware.Principal)

	NewMeHandlers(s.svc, s.errors).RegisterRoutes(v1)
	NewResourceHandlers(s.svc, s.errors).RegisterRoutes(v1)

	admin := v1.PathPrefix("/admin").Subrouter()
	if opts.AdminLimiter != nil {
		admin.Use(middleware.RateLimit(opts.AdminLimiter))
	}
	NewAdminHandlers(s.svc, s.errors).RegisterRoutes(admin)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler returns the server wrapped with OpenTelemetry HTTP instrumentation
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "scribe-authz",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Router exposes the router for tests and route listing
func (s *Server) Router() *mux.Router {
	return s.router
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/infra"
	"github.com/hedgeco/opskernel/internal/infra/auth"
)

// Server is the HTTP boundary: it authenticates the caller, hands the
// request to the kernel and shapes the response. Deliberately thin — all
// decision logic lives behind the Kernel.
type Server struct {
	router   *chi.Mux
	kernel   *Kernel
	logger   *zap.Logger
	cfg      *infra.Config
	keys     auth.Authenticator
	validate *validator.Validate
}

func NewServer(cfg *infra.Config, kernel *Kernel, keys auth.Authenticator, logger *zap.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		kernel:   kernel,
		logger:   logger.Named("boundary"),
		cfg:      cfg,
		keys:     keys,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// Infrastructure middleware for everything.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public perimeter: liveness and the worker callback. The callback
	// authenticates with its own per-job completion token, not an API key.
	r.Group(func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/job/{jobID}/outcome", s.handleJobOutcome)
	})

	// Authenticated perimeter: role header + bearer API key, checked
	// before any policy logic runs.
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.keys, s.logger))

		r.Post("/action", s.handleAction)
		r.Post("/email/safe-send", s.handleSafeSend)
		r.Get("/job/{jobID}", s.handleJobLookup)

		// Operator-only introspection.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(s.cfg.Auth.PrivilegedRole))
			r.Get("/audit", s.handleAuditQuery)
			r.Get("/queues", s.handleQueues)
		})
	})
}

// ServeHTTP makes Server a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

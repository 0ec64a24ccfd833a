// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"

	"github.com/cmatc13/slotwall/internal/ledger"
	"github.com/cmatc13/slotwall/internal/reconciler"
	"github.com/cmatc13/slotwall/internal/storage"
	"github.com/cmatc13/slotwall/internal/submission"
	"github.com/cmatc13/slotwall/internal/verifier"
	"github.com/cmatc13/slotwall/pkg/config"
	"github.com/cmatc13/slotwall/pkg/errors"
	"github.com/cmatc13/slotwall/pkg/health"
	"github.com/cmatc13/slotwall/pkg/logging"
	"github.com/cmatc13/slotwall/pkg/metrics"
)

// Server represents the API server
type Server struct {
	config           *config.Config
	router           *chi.Mux
	store            storage.SubmissionStore
	verifier         *verifier.Verifier
	reconciler       *reconciler.Reconciler
	gateway          ledger.Gateway
	tokenAuth        *jwtauth.JWTAuth
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	store storage.SubmissionStore,
	v *verifier.Verifier,
	r *reconciler.Reconciler,
	gateway ledger.Gateway,
	logger *logging.Logger,
	metricsCollector *metrics.Metrics,
) *Server {
	router := chi.NewRouter()

	var tokenAuth *jwtauth.JWTAuth
	if cfg.Auth.JWTSecret != "" {
		tokenAuth = jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)
	}

	healthRegistry := health.NewRegistry(logger)

	s := &Server{
		config:           cfg,
		router:           router,
		store:            store,
		verifier:         v,
		reconciler:       r,
		gateway:          gateway,
		tokenAuth:        tokenAuth,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:    ":" + cfg.API.Port,
			Handler: router,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupHealthChecks()

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogging(s.logger))
	s.router.Use(MetricsMiddleware(s.metricsCollector))
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.API.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthRegistry.Handler().ServeHTTP)
	s.router.Get("/metrics", s.metricsCollector.Handler().ServeHTTP)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/submissions", s.handleCreateSubmission)
		r.Get("/submissions", s.handleListConfirmed)
		r.Get("/submissions/{id}", s.handleGetSubmission)

		// Manual verification triggers ledger RPC calls; rate limit it.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.config.API.VerifyRateLimit, 1*time.Minute))
			r.Post("/submissions/{id}/verify", s.handleVerifySubmission)
		})

		r.Get("/stats", s.handleStats)

		// Admin routes require a JWT; without a configured secret they are
		// not exposed at all.
		if s.tokenAuth != nil {
			r.Group(func(r chi.Router) {
				r.Use(jwtauth.Verifier(s.tokenAuth))
				r.Use(jwtauth.Authenticator(s.tokenAuth))

				r.Post("/admin/sweep", s.handleSweep)
			})
		}
	})
}

// setupHealthChecks configures health checks for the server
func (s *Server) setupHealthChecks() {
	s.healthRegistry.Register("store", health.RedisChecker(s.config.Redis.Address, func(ctx context.Context) error {
		return s.store.Ping(ctx)
	}))
	s.healthRegistry.Register("ledger-gateway", health.GatewayChecker(s.config.Ledger.RPCURL, func(ctx context.Context) error {
		return s.gateway.Ping(ctx)
	}))
}

// Start starts the API server
func (s *Server) Start() {
	s.logger.Info("Starting API server", "port", s.config.API.Port)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Error starting server", "error", err)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
	}
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleCreateSubmission registers a new pending submission and returns the
// payment instructions
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	counters, err := s.store.Counters(r.Context())
	if err != nil {
		s.renderError(w, "Failed to read slot counters", http.StatusInternalServerError)
		return
	}

	// Refuse new intake once every slot is taken; pending submissions could
	// never be confirmed.
	if counters.AvailableSlots() == 0 {
		s.renderError(w, "capacity_exhausted", http.StatusServiceUnavailable)
		return
	}

	sub, err := submission.New(s.config.Payment.Address, s.config.Payment.Amount)
	if err != nil {
		s.renderError(w, "Failed to create submission", http.StatusInternalServerError)
		return
	}

	if err := s.store.CreateSubmission(r.Context(), sub); err != nil {
		s.logger.WithError(err).Error("failed to store submission")
		s.renderError(w, "Failed to store submission", http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Message: "Submission created; awaiting payment",
		Data: map[string]interface{}{
			"submission_id":   sub.ID,
			"payment_address": sub.PaymentAddress,
			"payment_amount":  sub.PaymentAmount,
			"status":          sub.Status,
			"created_at":      sub.CreatedAt,
		},
	}, http.StatusCreated)
}

// handleGetSubmission handles confirmation status queries
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.renderError(w, "Submission not found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("failed to read submission", "submission_id", id)
		s.renderError(w, "Failed to read submission", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"submission_id": sub.ID,
		"status":        sub.Status,
	}
	if sub.SlotNumber != 0 {
		data["slot_number"] = sub.SlotNumber
	}
	if sub.TransactionHash != "" {
		data["transaction_hash"] = sub.TransactionHash
	}

	s.renderJSON(w, Response{Success: true, Data: data}, http.StatusOK)
}

// handleVerifySubmission handles manual verification with a claimed
// transaction hash
func (s *Server) handleVerifySubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransactionHash == "" {
		s.renderError(w, "transaction_hash is required", http.StatusBadRequest)
		return
	}

	result, err := s.verifier.Verify(r.Context(), id, req.TransactionHash)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.renderError(w, "Submission not found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("manual verification failed", "submission_id", id)
		s.renderError(w, "Verification failed", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"status": result.Status,
	}
	if result.SlotNumber != 0 {
		data["slot_number"] = result.SlotNumber
	}

	switch result.Status {
	case verifier.StatusCapacityExhausted:
		s.renderJSON(w, Response{Success: false, Error: "capacity_exhausted", Data: data}, http.StatusConflict)
	case verifier.StatusInvalid:
		s.renderJSON(w, Response{Success: false, Error: "invalid", Data: data}, http.StatusOK)
	default:
		s.renderJSON(w, Response{Success: true, Data: data}, http.StatusOK)
	}
}

// handleListConfirmed returns confirmed submissions ordered by slot number
func (s *Server) handleListConfirmed(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			s.renderError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	subs, err := s.store.ListConfirmed(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("failed to list confirmed submissions")
		s.renderError(w, "Failed to list submissions", http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{Success: true, Data: subs}, http.StatusOK)
}

// handleStats handles aggregate statistics reads
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counters, err := s.store.Counters(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to read counters")
		s.renderError(w, "Failed to read stats", http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Data: map[string]interface{}{
			"total_capacity":        counters.TotalCapacity,
			"used_slots":            counters.UsedSlots,
			"available_slots":       counters.AvailableSlots(),
			"total_value_collected": counters.TotalValueCollected,
			"last_updated":          counters.LastUpdated,
		},
	}, http.StatusOK)
}

// handleSweep triggers an immediate reconciliation sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.reconciler.SweepNow(r.Context()); err != nil {
		if errors.Is(err, reconciler.ErrSweepInProgress) {
			s.renderError(w, "Sweep already in progress", http.StatusConflict)
			return
		}
		s.logger.WithError(err).Error("triggered sweep failed")
		s.renderError(w, "Sweep failed", http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{Success: true, Message: "Sweep completed"}, http.StatusOK)
}

// renderJSON renders a JSON response
func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

// renderError renders an error response
func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	s.renderJSON(w, Response{Success: false, Error: message}, status)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/auth"
	"github.com/jogardn/pharmacy-portal/internal/circuitbreaker"
	"github.com/jogardn/pharmacy-portal/internal/expiry"
	"github.com/jogardn/pharmacy-portal/internal/orders"
	"github.com/jogardn/pharmacy-portal/internal/ratelimit"
	"github.com/jogardn/pharmacy-portal/internal/store"
)

const serviceName = "pharmacy-portal"

// Sweeper runs one expiry sweep.
type Sweeper interface {
	Run(ctx context.Context, opts expiry.Options) expiry.Result
}

type Deps struct {
	Gateway  store.Gateway
	Sweeper  Sweeper
	Orders   *orders.Service
	Signer   *auth.Signer
	Limiter  ratelimit.Limiter
	Breakers *circuitbreaker.Manager
	Logger   *logrus.Logger
}

type Server struct {
	deps     Deps
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps:     deps,
		validate: validator.New(),
		logger:   deps.Logger,
	}
}

// Router wires every route. Only /health is reachable without a token.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(s.logger))
	router.HandleFunc("/health", s.HealthCheck).Methods("GET")

	authed := router.NewRoute().Subrouter()
	authed.Use(s.deps.Signer.Middleware(s.logger))
	orders.NewHandler(s.deps.Orders, s.validate, s.logger).Register(authed)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(ratelimit.Middleware(s.deps.Limiter, "expire", auth.SubjectKey, s.logger))
	admin.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleSystem))
	admin.HandleFunc("/orders/expire", s.ExpireOrders).Methods("POST")

	return router
}

// ExpireOrders triggers one expiry sweep. Only a batch failure yields a
// non-2xx status.
func (s *Server) ExpireOrders(w http.ResponseWriter, r *http.Request) {
	var opts expiry.Options
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.logger.WithError(err).Debug("Rejected sweep request body")
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(opts); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	s.logger.WithFields(logrus.Fields{
		"dry_run":   opts.DryRun,
		"caller_id": claims.UserID,
	}).Info("Expiry sweep requested")

	result := s.deps.Sweeper.Run(r.Context(), opts)
	if result.Failed() {
		s.respondWithJSON(w, http.StatusInternalServerError, result)
		return
	}
	s.respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	var breakers map[string]circuitbreaker.Health
	if s.deps.Breakers != nil {
		var degraded bool
		breakers, degraded = s.deps.Breakers.Health()
		if degraded {
			status = "degraded"
		}
	}

	if err := s.deps.Gateway.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("Health check failed")
		s.respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"service": serviceName,
			"error":   "database connection failed",
		})
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"service":          serviceName,
		"circuit_breakers": breakers,
	})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"modelarena/core/auth"
	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/ratelimit"
	"modelarena/core/shared/logger"
)

// Server is the HTTP surface over the orchestrator.
type Server struct {
	orch     *Orchestrator
	resolver auth.Resolver
	log      *logger.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(orch *Orchestrator, resolver auth.Resolver) *Server {
	return &Server{
		orch:     orch,
		resolver: resolver,
		log:      logger.New("http"),
	}
}

// Router builds the route table with CORS applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Prometheus native format
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Comparison API
	r.HandleFunc("/api/v1/queries", s.submitHandler).Methods("POST")
	r.HandleFunc("/api/v1/queries/{id}/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/api/v1/queries/{id}", s.resultHandler).Methods("GET")
	r.HandleFunc("/api/v1/usage", s.usageHandler).Methods("GET")

	return c.Handler(r)
}

// submitHandler accepts a comparison submission.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OwnerID = identity.UserID
	req.GroupID = identity.GroupID

	result, err := s.orch.Submit(r.Context(), &req)
	if err != nil {
		s.writeSubmitError(w, r, identity.UserID, err)
		return
	}

	status := http.StatusAccepted
	if result.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// statusHandler reports live progress for a query.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	queryID := mux.Vars(r)["id"]
	snap, err := s.orch.Status(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		s.log.Error("", queryID, "status lookup failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// resultHandler returns the terminal comparison.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	queryID := mux.Vars(r)["id"]
	comp, err := s.orch.Result(r.Context(), queryID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "query not found")
		case errors.Is(err, ErrNotReady):
			writeJSON(w, http.StatusAccepted, map[string]string{
				"query_id": queryID,
				"status":   "processing",
			})
		default:
			s.log.Error("", queryID, "result lookup failed", map[string]interface{}{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

// usageHandler reports the caller's settled spend. An optional since
// query parameter (RFC3339) bounds the window.
func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, expected RFC3339")
			return
		}
		since = parsed
	}

	summary, err := s.orch.Usage(r.Context(), identity.UserID, since)
	if err != nil {
		s.log.Error(identity.UserID, "", "usage lookup failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// healthHandler reports process liveness and per-provider health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]interface{})
	for model, result := range s.orch.Registry().HealthResults() {
		providers[model] = map[string]interface{}{
			"healthy":      result.Healthy,
			"latency_ms":   result.Latency.Milliseconds(),
			"last_checked": result.LastChecked.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": providers,
	})
}

// authenticate resolves the caller or writes a 401.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	identity, err := s.resolver.Resolve(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return identity, true
}

// writeSubmitError maps the admission error taxonomy onto HTTP status
// codes.
func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
		return
	}

	var limitErr *ratelimit.LimitExceededError
	if errors.As(err, &limitErr) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limitErr.RetryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var budgetErr *cost.BudgetExceededError
	if errors.As(err, &budgetErr) {
		writeError(w, http.StatusPaymentRequired, "budget exhausted")
		return
	}

	s.log.Error(userID, "", "submit failed", map[string]interface{}{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

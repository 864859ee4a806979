/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ingress is Rewire's HTTP surface: observation recording, ack
// callbacks, liveness, and bearer-guarded admin endpoints. Handlers never
// hold an application-level lock across a Store call.
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"

	"github.com/rewirehq/rewire/internal/idgen"
	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/metrics"
	"github.com/rewirehq/rewire/pkg/store"
)

// Server wires the HTTP router around a Store and a bearer token guarding
// the admin routes.
type Server struct {
	store      store.Store
	logger     logr.Logger
	adminToken string
	baseURL    string
	validate   *validator.Validate
	httpServer *http.Server
	router     chi.Router
}

// New builds a Server. baseURL is used to compose the observe_url field
// returned from /admin/new.
func New(st store.Store, adminToken, baseURL string, logger logr.Logger) *Server {
	s := &Server{
		store: st, logger: logger, adminToken: adminToken, baseURL: baseURL,
		validate: validator.New(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/status", s.handleStatus)
	r.Get("/observe/{id}", s.handleObserveGet)
	r.Post("/observe/{id}", s.handleObservePost)
	r.Get("/ack/{trialID}", s.handleAck)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"POST"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(s.requireBearer)
		r.Post("/admin/new", s.handleAdminNew)
		r.Post("/admin/enable", s.handleAdminEnable)
		r.Post("/admin/disable", s.handleAdminDisable)
	})

	return r
}

// ListenAndServe starts the HTTP server and blocks until it exits or ctx
// is cancelled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("rewire ok\n"))
}

func validKind(k string) bool {
	switch domain.ObservationKind(k) {
	case domain.ObservationStart, domain.ObservationEnd, domain.ObservationPing, domain.ObservationAck:
		return true
	}
	return false
}

func (s *Server) handleObservePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	if _, err := s.store.GetExpectation(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "unknown expectation")
		return
	}

	kind := r.FormValue("kind")
	if !validKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}

	meta := r.FormValue("meta")
	if _, err := s.store.AddObservation(r.Context(), id, domain.ObservationKind(kind), meta); err != nil {
		s.logger.Error(err, "add observation failed", "expectation_id", id)
		writeError(w, http.StatusInternalServerError, "failed to record observation")
		return
	}
	metrics.ObservationsRecordedTotal.WithLabelValues(kind).Inc()

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type observationView struct {
	Kind       domain.ObservationKind `json:"kind"`
	ObservedAt time.Time              `json:"observed_at"`
	Meta       string                 `json:"meta"`
}

type observeResponse struct {
	ID                 string             `json:"id"`
	Type               string             `json:"type"`
	Name               string             `json:"name"`
	ExpectedIntervalS  int64              `json:"expected_interval_s"`
	ToleranceS         int64              `json:"tolerance_s"`
	Params             map[string]any     `json:"params"`
	OwnerEmail         string             `json:"owner_email"`
	IsEnabled          bool               `json:"is_enabled"`
	RecentObservations []observationView `json:"recent_observations"`
}

func (s *Server) handleObserveGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := s.store.GetExpectation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown expectation")
		return
	}
	obs, err := s.store.RecentObservations(r.Context(), id, 10)
	if err != nil {
		s.logger.Error(err, "load observations failed", "expectation_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load observations")
		return
	}

	params := map[string]any{}
	if exp.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(exp.ParamsJSON), &params); err != nil {
			s.logger.Error(err, "unmarshal params_json failed", "expectation_id", id)
			writeError(w, http.StatusInternalServerError, "corrupt expectation params")
			return
		}
	}

	views := make([]observationView, len(obs))
	for i, o := range obs {
		views[i] = observationView{Kind: o.Kind, ObservedAt: o.ObservedAt, Meta: o.Meta}
	}

	writeJSON(w, http.StatusOK, observeResponse{
		ID:                 exp.ID,
		Type:               string(exp.Type),
		Name:               exp.Name,
		ExpectedIntervalS:  exp.ExpectedIntervalS,
		ToleranceS:         exp.ToleranceS,
		Params:             params,
		OwnerEmail:         exp.OwnerEmail,
		IsEnabled:          exp.Enabled,
		RecentObservations: views,
	})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	trialID := chi.URLParam(r, "trialID")
	ok, err := s.store.AckTrial(r.Context(), trialID)
	if err != nil {
		s.logger.Error(err, "ack trial failed", "trial_id", trialID)
		writeError(w, http.StatusInternalServerError, "failed to ack trial")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or non-pending trial")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("acked\n"))
}

type newExpectationRequest struct {
	Type              string `validate:"required,oneof=schedule alert_path"`
	Name              string `validate:"required"`
	Email             string `validate:"required,email"`
	ExpectedIntervalS int64  `validate:"required,min=60"`
	ToleranceS        int64  `validate:"min=0"`
	ParamsJSON        string
}

func (s *Server) handleAdminNew(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	req := newExpectationRequest{
		Type:              r.FormValue("type"),
		Name:              r.FormValue("name"),
		Email:             r.FormValue("email"),
		ExpectedIntervalS: parseInt64(r.FormValue("expected_interval_s")),
		ToleranceS:        parseInt64(r.FormValue("tolerance_s")),
		ParamsJSON:        r.FormValue("params_json"),
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ParamsJSON == "" {
		req.ParamsJSON = "{}"
	}

	id, err := idgen.New()
	if err != nil {
		s.logger.Error(err, "generate expectation id failed")
		writeError(w, http.StatusInternalServerError, "failed to generate id")
		return
	}

	exp := domain.Expectation{
		ID: id, Type: domain.ExpectationType(req.Type), Name: req.Name, OwnerEmail: req.Email,
		ExpectedIntervalS: req.ExpectedIntervalS, ToleranceS: req.ToleranceS, ParamsJSON: req.ParamsJSON,
		Enabled: true,
	}
	created, err := s.store.CreateExpectation(r.Context(), exp)
	if err != nil {
		s.logger.Error(err, "create expectation failed")
		writeError(w, http.StatusInternalServerError, "failed to create expectation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":          created.ID,
		"observe_url": s.baseURL + "/observe/" + created.ID,
	})
}

func (s *Server) handleAdminEnable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleAdminDisable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	id := r.FormValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	ok, err := s.store.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		s.logger.Error(err, "set enabled failed", "expectation_id", id)
		writeError(w, http.StatusInternalServerError, "failed to update expectation")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown expectation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "enabled": enabled})
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

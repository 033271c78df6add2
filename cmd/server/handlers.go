package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/dispatch"
	"github.com/hjscm/alertengine/engine"
	"github.com/hjscm/alertengine/exceptions"
	"github.com/hjscm/alertengine/rules"
	"github.com/hjscm/alertengine/scoring"
	"github.com/hjscm/alertengine/snapshot"
)

type server struct {
	db         *sql.DB // nil when running on in-memory stores
	registry   *rules.Registry
	manager    *exceptions.Manager
	engine     *engine.Engine
	snapshots  *snapshot.Store
	feed       *dispatch.NotificationFeed
	categories map[string]bool
	router     *chi.Mux
}

func newServer(db *sql.DB, registry *rules.Registry, manager *exceptions.Manager,
	eng *engine.Engine, snapshots *snapshot.Store, feed *dispatch.NotificationFeed,
	categories []string) *server {

	s := &server{
		db:         db,
		registry:   registry,
		manager:    manager,
		engine:     eng,
		snapshots:  snapshots,
		feed:       feed,
		categories: make(map[string]bool, len(categories)),
	}
	for _, c := range categories {
		s.categories[c] = true
	}
	s.setupRoutes()
	return s
}

func (s *server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/snapshots", s.handleIngestSnapshot)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/templates/{category}", s.handleRuleTemplate)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/enable", s.handleSetRuleStatus(alert.StatusEnabled))
			r.Post("/disable", s.handleSetRuleStatus(alert.StatusDisabled))
		})
	})

	r.Route("/api/v1/exceptions", func(r chi.Router) {
		r.Get("/", s.handleListExceptions)
		r.Get("/stats", s.handleExceptionStats)
		r.Get("/{exceptionId}", s.handleGetException)
		r.Post("/{exceptionId}/transitions", s.handleTransition)
	})

	r.Get("/api/v1/notifications", s.handleNotifications)

	s.router = r
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	submitted, processed, dropped := s.engine.PoolStats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"entities":  s.snapshots.Len(),
		"submitted": submitted,
		"processed": processed,
		"dropped":   dropped,
	})
}

// Snapshot ingest

func (s *server) handleIngestSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		respondError(w, http.StatusBadRequest, "entityType and entityId are required", nil)
		return
	}
	if len(req.Fields) == 0 {
		respondError(w, http.StatusBadRequest, "fields are required", nil)
		return
	}
	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	entity := alert.EntityRef{Type: req.EntityType, ID: req.EntityID}
	err := s.engine.Ingest(entity, req.Fields, observedAt)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, engine.ErrQueueFull):
		respondError(w, http.StatusTooManyRequests, "evaluation queue full, retry later", nil)
	default:
		respondError(w, http.StatusBadRequest, "invalid snapshot", err)
	}
}

// Rule management

func (s *server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule alert.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !s.categories[rule.Category] {
		respondError(w, http.StatusBadRequest, "unknown category "+rule.Category, nil)
		return
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt

	id, err := s.registry.Create(&rule)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	created, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load created rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := rules.Filter{
		Category: r.URL.Query().Get("category"),
		Status:   alert.RuleStatus(r.URL.Query().Get("status")),
	}
	list, err := s.registry.List(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.registry.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule alert.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")
	if !s.categories[rule.Category] {
		respondError(w, http.StatusBadRequest, "unknown category "+rule.Category, nil)
		return
	}
	rule.UpdatedAt = time.Now()

	if err := s.registry.Update(&rule); err != nil {
		respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &rule)
}

func (s *server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "ruleId")); err != nil {
		respondRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetRuleStatus(status alert.RuleStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "ruleId")
		if err := s.registry.SetStatus(id, status); err != nil {
			respondRuleError(w, err)
			return
		}
		rule, err := s.registry.Get(id)
		if err != nil {
			respondRuleError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rule)
	}
}

func (s *server) handleRuleTemplate(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	tpl, ok := rules.Template(category)
	if !ok {
		respondError(w, http.StatusNotFound, "no template for category "+category, nil)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

// Exception queries and transitions

func (s *server) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	q := exceptions.Query{
		Status:        exceptions.Status(r.URL.Query().Get("status")),
		Category:      r.URL.Query().Get("category"),
		PriorityLevel: scoring.Level(r.URL.Query().Get("level")),
	}
	if page := r.URL.Query().Get("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid page", err)
			return
		}
		q.Page = n
	}
	if size := r.URL.Query().Get("pageSize"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid pageSize", err)
			return
		}
		q.PageSize = n
	}

	list, total, err := s.manager.List(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list exceptions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"exceptions": list,
		"total":      total,
	})
}

func (s *server) handleExceptionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *server) handleGetException(w http.ResponseWriter, r *http.Request) {
	e, err := s.manager.Get(chi.URLParam(r, "exceptionId"))
	if err != nil {
		respondExceptionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required", nil)
		return
	}
	if req.Actor == "" {
		respondError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	e, err := s.manager.Transition(chi.URLParam(r, "exceptionId"),
		exceptions.TransitionAction(req.Action), req.Actor, req.Reason, time.Now())
	if err != nil {
		respondExceptionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": s.feed.Recent(),
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func respondRuleError(w http.ResponseWriter, err error) {
	var notFound *rules.ErrNotFound
	var validation *alert.ValidationError
	var configuration *alert.ConfigurationError
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	case errors.As(err, &validation), errors.As(err, &configuration):
		respondError(w, http.StatusBadRequest, "invalid rule", err)
	default:
		respondError(w, http.StatusInternalServerError, "rule operation failed", err)
	}
}

func respondExceptionError(w http.ResponseWriter, err error) {
	var notFound *exceptions.ErrNotFound
	var invalid *exceptions.InvalidTransitionError
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, "exception not found", err)
	case errors.As(err, &invalid):
		respondError(w, http.StatusConflict, "invalid transition", err)
	default:
		respondError(w, http.StatusBadRequest, "transition failed", err)
	}
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
	"taskmesh.route/internal/core/services"
)

type Server struct {
	router    *chi.Mux
	engine    *services.Router
	registry  ports.AgentRegistry
	monitor   *services.FleetMonitor
	healthSvc *services.HealthService
	escLog    ports.EscalationLog // may be nil
	hub       *Hub                // may be nil
}

func NewServer(engine *services.Router, registry ports.AgentRegistry, monitor *services.FleetMonitor, healthSvc *services.HealthService, escLog ports.EscalationLog, hub *Hub) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		registry:  registry,
		monitor:   monitor,
		healthSvc: healthSvc,
		escLog:    escLog,
		hub:       hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)
	s.router.Get("/api/ws", s.handleWS)

	s.router.Post("/api/route", s.handleRoute)
	s.router.Post("/api/route/bulk", s.handleRouteBulk)
	s.router.Get("/api/decisions/recent", s.handleRecentDecisions)

	s.router.Route("/api/agents", func(r chi.Router) {
		r.Get("/", s.handleListAgents)
		r.Post("/", s.handleRegisterAgent)
		r.Get("/{id}", s.handleGetAgent)
		r.Put("/{id}", s.handleUpdateAgent)
		r.Post("/{id}/heartbeat", s.handleHeartbeat)
		r.Delete("/{id}", s.handleDeregisterAgent)
	})

	s.router.Get("/api/escalations/failed", s.handleListFailedEscalations)
}

func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeRoutingError maps the engine's error taxonomy to HTTP status codes.
func writeRoutingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		RecordRoutingError("validation_error")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"})
	case errors.Is(err, domain.ErrRoutingTimeout):
		RecordRoutingError("routing_timeout")
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error(), Code: "ROUTING_TIMEOUT"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	default:
		RecordRoutingError("internal")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}

	decision, err := s.engine.Route(r.Context(), &task)
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	RecordDecision(string(task.Priority), string(decision.Location), decision.Assigned(), decision.ProcessingMS)
	writeJSON(w, http.StatusOK, decision)
}

type bulkRequest struct {
	Tasks   []*domain.Task       `json:"tasks"`
	Options services.BulkOptions `json:"options"`
}

func (s *Server) handleRouteBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	if len(req.Tasks) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "tasks must not be empty", Code: "VALIDATION_ERROR"})
		return
	}

	result, err := s.engine.RouteBulk(r.Context(), req.Tasks, req.Options)
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	for _, d := range result.Decisions {
		RecordDecision("bulk", string(d.Location), d.Assigned(), d.ProcessingMS)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	writeJSON(w, http.StatusOK, s.engine.RecentDecisions(limit))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.List(r.Context())
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	SetRegisteredAgents(len(agents))
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var agent domain.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	if err := s.engine.RegisterAgent(r.Context(), &agent); err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"agent_id": agent.ID})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var agent domain.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	agent.ID = chi.URLParam(r, "id")
	if err := s.engine.UpdateAgent(r.Context(), &agent); err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": agent.ID})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Heartbeat(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeRoutingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFailedEscalations(w http.ResponseWriter, r *http.Request) {
	if s.escLog == nil {
		writeJSON(w, http.StatusOK, []ports.FailedEscalation{})
		return
	}
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	limit, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}
	entries, lerr := s.escLog.List(r.Context(), offset, limit)
	if lerr != nil {
		writeRoutingError(w, lerr)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthSvc.CheckHealth(r.Context()))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	// Ready when the registry answers.
	if _, err := s.registry.List(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream disabled", http.StatusNotImplemented)
		return
	}
	ServeWs(s.hub, w, r)
}

package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cachemem "taskmesh.route/internal/adapters/cache/memory"
	regmem "taskmesh.route/internal/adapters/repository/memory"
	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/services"
)

func newTestServer(t *testing.T) (*Server, *regmem.Registry) {
	t.Helper()
	reg := regmem.NewRegistry()
	engine := services.NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil, services.Options{
		Budgets: map[domain.Priority]time.Duration{
			domain.PrioritySafetyCritical:     time.Second,
			domain.PriorityQualityCritical:    time.Second,
			domain.PriorityEfficiencyCritical: time.Second,
			domain.PriorityStandard:           time.Second,
		},
	})
	monitor := services.NewFleetMonitor(reg, nil, time.Minute)
	healthSvc := services.NewHealthService(nil, nil, nil, "test")
	return NewServer(engine, reg, monitor, healthSvc, nil, nil), reg
}

func seedWelder(t *testing.T, reg *regmem.Registry, id string) {
	t.Helper()
	err := reg.Upsert(t.Context(), &domain.Agent{
		ID:     id,
		Type:   domain.AgentTypeRobot,
		Status: domain.AgentStatusAvailable,
		Capabilities: map[string]domain.Capability{
			"welding": {Proficiency: 0.95, Confidence: 1.0},
		},
		CostPerHour:  20,
		SafetyRating: 0.95,
		Workload:     0.1,
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRouteAssigns(t *testing.T) {
	srv, reg := newTestServer(t)
	seedWelder(t, reg, "robot-001")

	rec := postJSON(t, srv.Handler(), "/api/route", domain.Task{
		ID:       "t1",
		Type:     "welding",
		Priority: domain.PriorityQualityCritical,
		Requirements: []domain.Requirement{
			{Type: "welding", MinProficiency: 0.8, Weight: 1},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var d domain.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if d.AgentID != "robot-001" {
		t.Fatalf("assigned %s, want robot-001", d.AgentID)
	}
}

func TestHandleRouteValidationError(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/route", domain.Task{
		ID:       "t1",
		Type:     "welding",
		Priority: "urgent",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %s, want VALIDATION_ERROR", resp.Code)
	}
}

func TestHandleRouteMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/route", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRouteBulk(t *testing.T) {
	srv, reg := newTestServer(t)
	seedWelder(t, reg, "robot-001")
	seedWelder(t, reg, "robot-002")

	rec := postJSON(t, srv.Handler(), "/api/route/bulk", map[string]interface{}{
		"tasks": []domain.Task{
			{ID: "b1", Type: "welding-a", Priority: domain.PriorityStandard, ComplexityScore: 0.1,
				Requirements: []domain.Requirement{{Type: "welding", MinProficiency: 0.8, Weight: 1}}},
			{ID: "b2", Type: "welding-b", Priority: domain.PriorityStandard, ComplexityScore: 0.1,
				Requirements: []domain.Requirement{{Type: "welding", MinProficiency: 0.8, Weight: 1}}},
			{ID: "b3", Type: "welding", Priority: "urgent"},
		},
		"options": services.BulkOptions{MaxConcurrent: 2},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res services.BulkResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Successful != 2 || res.Failed != 1 {
		t.Fatalf("successful/failed = %d/%d, want 2/1", res.Successful, res.Failed)
	}
}

func TestHandleRouteBulkEmptyTasks(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/route/bulk", map[string]interface{}{"tasks": []domain.Task{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/agents", domain.Agent{
		ID:     "robot-001",
		Type:   domain.AgentTypeRobot,
		Status: domain.AgentStatusAvailable,
		Capabilities: map[string]domain.Capability{
			"welding": {Proficiency: 0.9, Confidence: 0.9},
		},
		SafetyRating: 0.95,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/agents/robot-001", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/agents/ghost", nil)
	missRec := httptest.NewRecorder()
	h.ServeHTTP(missRec, req)
	if missRec.Code != http.StatusNotFound {
		t.Fatalf("get unknown status = %d, want 404", missRec.Code)
	}

	hbRec := postJSON(t, h, "/api/agents/robot-001/heartbeat", map[string]string{})
	if hbRec.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d, body = %s", hbRec.Code, hbRec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/agents/robot-001", nil)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, req)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delRec.Code)
	}
}

func TestRecentDecisionsEndpoint(t *testing.T) {
	srv, reg := newTestServer(t)
	seedWelder(t, reg, "robot-001")

	rec := postJSON(t, srv.Handler(), "/api/route", domain.Task{
		ID:       "t1",
		Type:     "welding",
		Priority: domain.PriorityStandard,
		Requirements: []domain.Requirement{
			{Type: "welding", MinProficiency: 0.8, Weight: 1},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("route status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/decisions/recent?limit=5", nil)
	listRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRec, req)
	if listRec.Code != http.StatusOK {
		t.Fatalf("status = %d", listRec.Code)
	}
	var decisions []domain.Decision
	if err := json.Unmarshal(listRec.Body.Bytes(), &decisions); err != nil {
		t.Fatalf("decode decisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].TaskID != "t1" {
		t.Fatalf("decisions = %+v", decisions)
	}
}

func TestListFailedEscalationsWithoutLog(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/escalations/failed", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body == "" || body[0] != '[' {
		t.Fatalf("expected JSON array, got %s", body)
	}
}

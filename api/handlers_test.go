package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptlane/promptlane/internal/engine"
	"github.com/promptlane/promptlane/internal/store"
	"github.com/promptlane/promptlane/internal/suite"
)

func TestHandlers_Health(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field: got %v want %q", body["status"], "ok")
	}
}

func TestHandlers_ListSuites(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/suites", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusOK)
	}

	var out []suite.Suite
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(suites): got %d want %d", len(out), 1)
	}
	if out[0].Name != "basic" {
		t.Fatalf("suite[0].Name: got %q want %q", out[0].Name, "basic")
	}
}

func TestHandlers_GetSuite(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/suites/basic", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/suites/missing", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandlers_StartRun(t *testing.T) {
	var saved *engine.TestRun
	st := &fakeStore{
		SaveRunFunc: func(ctx context.Context, run *engine.TestRun) error {
			saved = run
			return nil
		},
	}
	s := newTestServer(t, st, nil)

	body := `{"suite": "basic", "note": "smoke"}`
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
	}

	var run engine.TestRun
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if run.Status != engine.StatusCompleted {
		t.Fatalf("Status: got %q want %q", run.Status, engine.StatusCompleted)
	}
	if run.SuiteName != "basic" || run.TriggeredBy != "api" || run.Note != "smoke" {
		t.Fatalf("Run metadata: got %+v", run)
	}
	if run.Summary.Total != 1 || run.Summary.Passed != 1 {
		t.Fatalf("Summary: got %+v", run.Summary)
	}
	if saved == nil || saved.ID != run.ID {
		t.Fatalf("SaveRun: got %+v", saved)
	}
}

func TestHandlers_StartRun_Validation(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "missing suite", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown suite", body: `{"suite": "nope"}`, want: http.StatusNotFound},
		{name: "bad iterations", body: `{"suite": "basic", "iterations": -1}`, want: http.StatusBadRequest},
		{name: "bad concurrency", body: `{"suite": "basic", "concurrency": -1}`, want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Fatalf("%s: status got %d want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestHandlers_ListRuns_Filter(t *testing.T) {
	var gotFilter store.RunFilter
	st := &fakeStore{
		ListRunsFunc: func(ctx context.Context, filter store.RunFilter) ([]*engine.TestRun, error) {
			gotFilter = filter
			return []*engine.TestRun{{ID: "run_1", SuiteName: "basic"}}, nil
		},
	}
	s := newTestServer(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?suite=basic&status=completed&limit=5&since=2026-01-01", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
	}
	if gotFilter.SuiteName != "basic" || gotFilter.Status != "completed" || gotFilter.Limit != 5 {
		t.Fatalf("filter: got %+v", gotFilter)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !gotFilter.Since.Equal(want) {
		t.Fatalf("filter.Since: got %v want %v", gotFilter.Since, want)
	}

	var out []engine.TestRun
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "run_1" {
		t.Fatalf("runs: got %+v", out)
	}
}

func TestHandlers_ListRuns_BadParams(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)

	for _, target := range []string{
		"/api/runs?limit=zero",
		"/api/runs?limit=0",
		"/api/runs?since=not-a-time",
		"/api/runs?until=not-a-time",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status got %d want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestHandlers_GetRun(t *testing.T) {
	st := &fakeStore{
		GetRunFunc: func(ctx context.Context, id string) (*engine.TestRun, error) {
			if id == "run_1" {
				return &engine.TestRun{ID: "run_1", SuiteName: "basic"}, nil
			}
			return nil, sql.ErrNoRows
		},
	}
	s := newTestServer(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run_1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandlers_SuiteHistory(t *testing.T) {
	var gotSuite string
	var gotLimit int
	st := &fakeStore{
		SuiteHistoryFunc: func(ctx context.Context, suiteName string, limit int) ([]*engine.TestRun, error) {
			gotSuite = suiteName
			gotLimit = limit
			return []*engine.TestRun{{ID: "run_1"}, {ID: "run_2"}}, nil
		},
	}
	s := newTestServer(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history/basic?limit=2", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if gotSuite != "basic" || gotLimit != 2 {
		t.Fatalf("history args: got %q/%d", gotSuite, gotLimit)
	}

	var out []engine.TestRun
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(history): got %d want %d", len(out), 2)
	}
}

func TestRegisterRoutes_AuthRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("PROMPTLANE_API_KEY", "")
	t.Setenv("PROMPTLANE_DISABLE_AUTH", "")

	s := &Server{router: gin.New()}
	if err := s.registerRoutes(); err == nil {
		t.Fatalf("registerRoutes: expected error without auth config")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("PROMPTLANE_API_KEY", "secret")
	t.Setenv("PROMPTLANE_DISABLE_AUTH", "")

	s := &Server{router: gin.New()}
	if err := s.registerRoutes(); err != nil {
		t.Fatalf("registerRoutes: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without key: got %d want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status with key: got %d want %d", rec.Code, http.StatusOK)
	}
}

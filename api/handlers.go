package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptlane/promptlane/internal/engine"
	"github.com/promptlane/promptlane/internal/store"
	"github.com/promptlane/promptlane/internal/suite"
)

type runRequest struct {
	Suite       string `json:"suite"`
	Version     string `json:"version,omitempty"`
	Iterations  *int   `json:"iterations,omitempty"`
	Parallel    *bool  `json:"parallel,omitempty"`
	Concurrency *int   `json:"concurrency,omitempty"`
	Model       string `json:"model,omitempty"`
	Note        string `json:"note,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) suitesDir() string {
	if s != nil && s.config != nil && strings.TrimSpace(s.config.SuitesDir) != "" {
		return s.config.SuitesDir
	}
	return "suites"
}

func (s *Server) handleListSuites(c *gin.Context) {
	suites, err := suite.LoadFromDir(s.suitesDir())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	sort.Slice(suites, func(i, j int) bool {
		return strings.ToLower(suites[i].Name) < strings.ToLower(suites[j].Name)
	})

	c.JSON(http.StatusOK, suites)
}

func (s *Server) handleGetSuite(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing suite name"))
		return
	}

	sv, err := s.loadSuite(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if sv == nil {
		respondError(c, http.StatusNotFound, fmt.Errorf("suite %q not found", name))
		return
	}

	c.JSON(http.StatusOK, sv)
}

func (s *Server) handleStartRun(c *gin.Context) {
	if s == nil || s.store == nil || s.executor == nil || s.config == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	params, ok := s.bindRunParams(c)
	if !ok {
		return
	}

	run, _ := s.executor.Run(c.Request.Context(), params, engine.Callbacks{})

	if err := s.store.SaveRun(c.Request.Context(), run); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// bindRunParams parses and validates the run request body, resolving the
// named suite from disk. On failure it writes the error response itself.
func (s *Server) bindRunParams(c *gin.Context) (engine.RunParams, bool) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return engine.RunParams{}, false
	}

	name := strings.TrimSpace(req.Suite)
	if name == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing suite name"))
		return engine.RunParams{}, false
	}

	iterations := s.config.Execution.Iterations
	if req.Iterations != nil {
		iterations = *req.Iterations
	}
	if iterations <= 0 {
		respondError(c, http.StatusBadRequest, fmt.Errorf("iterations must be > 0 (got %d)", iterations))
		return engine.RunParams{}, false
	}

	parallel := s.config.Execution.Parallel
	if req.Parallel != nil {
		parallel = *req.Parallel
	}

	concurrency := s.config.Execution.MaxConcurrency
	if req.Concurrency != nil {
		concurrency = *req.Concurrency
	}
	if concurrency <= 0 {
		respondError(c, http.StatusBadRequest, fmt.Errorf("concurrency must be > 0 (got %d)", concurrency))
		return engine.RunParams{}, false
	}

	sv, err := s.loadSuite(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return engine.RunParams{}, false
	}
	if sv == nil {
		respondError(c, http.StatusNotFound, fmt.Errorf("suite %q not found", name))
		return engine.RunParams{}, false
	}

	return engine.RunParams{
		Suite:          sv,
		TriggeredBy:    "api",
		Note:           strings.TrimSpace(req.Note),
		Iterations:     iterations,
		ModelOverride:  strings.TrimSpace(req.Model),
		TargetVersion:  strings.TrimSpace(req.Version),
		Parallel:       parallel,
		MaxConcurrency: concurrency,
	}, true
}

func (s *Server) loadSuite(name string) (*suite.Suite, error) {
	suites, err := suite.LoadFromDir(s.suitesDir())
	if err != nil {
		return nil, err
	}
	for _, sv := range suites {
		if sv == nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(sv.Name), name) {
			return sv, nil
		}
	}
	return nil, nil
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	limit, err := parseLimitParam(c.Query("limit"), 20)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	since, err := parseTimeParam(c.Query("since"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	until, err := parseTimeParam(c.Query("until"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	filter := store.RunFilter{
		SuiteName: strings.TrimSpace(c.Query("suite")),
		Status:    strings.TrimSpace(c.Query("status")),
		Since:     since,
		Until:     until,
		Limit:     limit,
	}

	runs, err := s.store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, fmt.Errorf("run %q not found", id))
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (s *Server) handleSuiteHistory(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	suiteName := strings.TrimSpace(c.Param("suite"))
	if suiteName == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing suite name"))
		return
	}

	limit, err := parseLimitParam(c.Query("limit"), 20)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	runs, err := s.store.SuiteHistory(c.Request.Context(), suiteName, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, runs)
}

func respondError(c *gin.Context, status int, err error) {
	if err == nil {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseLimitParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("limit must be > 0")
	}
	return v, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	layouts := []string{time.RFC3339, "2006-01-02"}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (expected RFC3339 or YYYY-MM-DD)", raw)
}

package api

import (
	"errors"
	"os"
	"strings"
)

func (s *Server) registerRoutes() error {
	if s == nil || s.router == nil {
		return nil
	}

	api := s.router.Group("/api")
	apiKey := strings.TrimSpace(os.Getenv("PROMPTLANE_API_KEY"))
	if apiKey != "" {
		api.Use(apiKeyAuthMiddleware(apiKey))
	} else if strings.EqualFold(strings.TrimSpace(os.Getenv("PROMPTLANE_DISABLE_AUTH")), "true") {
		// Explicitly allow unauthenticated access.
	} else {
		return errors.New("api: missing auth configuration: set PROMPTLANE_API_KEY or set PROMPTLANE_DISABLE_AUTH=true")
	}

	api.GET("/health", s.handleHealth)

	api.GET("/suites", s.handleListSuites)
	api.GET("/suites/:name", s.handleGetSuite)

	api.POST("/runs", s.handleStartRun)
	api.POST("/runs/stream", s.handleStreamRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)

	api.GET("/history/:suite", s.handleSuiteHistory)

	return nil
}

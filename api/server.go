// Package api exposes the test execution engine over HTTP: suite listing,
// blocking and streaming run endpoints, and run history backed by the store.
package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/promptlane/promptlane/internal/config"
	"github.com/promptlane/promptlane/internal/engine"
	"github.com/promptlane/promptlane/internal/store"
)

type Server struct {
	router   *gin.Engine
	store    store.Store
	executor *engine.Executor
	config   *config.Config
}

func NewServer(cfg *config.Config, st store.Store, exec *engine.Executor) (*Server, error) {
	r := gin.New()
	s := &Server{
		router:   r,
		store:    st,
		executor: exec,
		config:   cfg,
	}
	s.registerMiddleware()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Run(addr string) error {
	if s == nil || s.router == nil {
		return errors.New("api: nil server")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8085"
	}
	return s.router.Run(addr)
}

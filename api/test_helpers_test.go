package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/promptlane/promptlane/internal/config"
	"github.com/promptlane/promptlane/internal/engine"
	"github.com/promptlane/promptlane/internal/llm"
	"github.com/promptlane/promptlane/internal/store"
)

type fakeStore struct {
	SaveRunFunc      func(ctx context.Context, run *engine.TestRun) error
	GetRunFunc       func(ctx context.Context, id string) (*engine.TestRun, error)
	ListRunsFunc     func(ctx context.Context, filter store.RunFilter) ([]*engine.TestRun, error)
	SuiteHistoryFunc func(ctx context.Context, suiteName string, limit int) ([]*engine.TestRun, error)
	CloseFunc        func() error
}

func (s *fakeStore) SaveRun(ctx context.Context, run *engine.TestRun) error {
	if s.SaveRunFunc != nil {
		return s.SaveRunFunc(ctx, run)
	}
	return nil
}

func (s *fakeStore) GetRun(ctx context.Context, id string) (*engine.TestRun, error) {
	if s.GetRunFunc != nil {
		return s.GetRunFunc(ctx, id)
	}
	return nil, nil
}

func (s *fakeStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]*engine.TestRun, error) {
	if s.ListRunsFunc != nil {
		return s.ListRunsFunc(ctx, filter)
	}
	return nil, nil
}

func (s *fakeStore) SuiteHistory(ctx context.Context, suiteName string, limit int) ([]*engine.TestRun, error) {
	if s.SuiteHistoryFunc != nil {
		return s.SuiteHistoryFunc(ctx, suiteName, limit)
	}
	return nil, nil
}

func (s *fakeStore) Close() error {
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}
	return nil
}

type fakeCompleter struct {
	CompleteFunc func(ctx context.Context, req *llm.Request, creds llm.Credentials) (*llm.Response, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req *llm.Request, creds llm.Credentials) (*llm.Response, error) {
	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, req, creds)
	}
	return &llm.Response{Content: "hello there"}, nil
}

const testSuiteYAML = `
suite: basic
target: prompt
prompt:
  name: greeter
  versions:
    - version: v1
      content: "Say hello to {{name}}"
validation_rules:
  - type: contains
    value: hello
cases:
  - id: c1
    name: Basic greeting
    inputs:
      name: World
`

func writeSuitesDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "basic.yaml"), []byte(testSuiteYAML), 0o644); err != nil {
		t.Fatalf("WriteFile suite: %v", err)
	}
	return dir
}

func newTestServer(t *testing.T, st store.Store, comp llm.Completer) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	t.Setenv("PROMPTLANE_API_KEY", "")
	t.Setenv("PROMPTLANE_DISABLE_AUTH", "true")

	cfg := config.Default()
	cfg.SuitesDir = writeSuitesDir(t)

	if comp == nil {
		comp = &fakeCompleter{}
	}
	exec := &engine.Executor{Completer: comp}

	s, err := NewServer(cfg, st, exec)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

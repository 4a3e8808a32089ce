package main

import (
	"net/http"

	"github.com/promptlane/promptlane/internal/config"
	"github.com/promptlane/promptlane/internal/engine"
	"github.com/promptlane/promptlane/internal/llm"
)

// newExecutor builds the engine with all configured providers registered.
func newExecutor(cfg *config.Config) *engine.Executor {
	reg := llm.NewRegistry()

	claude := cfg.LLM.Providers["claude"]
	reg.Register(llm.NewClaudeProvider(claude.BaseURL, claude.Model))

	openai := cfg.LLM.Providers["openai"]
	reg.Register(llm.NewOpenAIProvider(openai.BaseURL, openai.Model))

	reg.SetDefault(cfg.LLM.DefaultProvider)

	var client *http.Client
	if cfg.Execution.Timeout > 0 {
		client = &http.Client{Timeout: cfg.Execution.Timeout}
	}

	return &engine.Executor{
		Completer:   reg,
		HTTPClient:  client,
		Credentials: cfg.Credentials(),
	}
}

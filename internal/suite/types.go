// Package suite defines YAML test suite, case, turn, and target types
// plus loading and validation.
package suite

import (
	"github.com/promptlane/promptlane/internal/judge"
	"github.com/promptlane/promptlane/internal/session"
	"github.com/promptlane/promptlane/internal/validation"
)

// TargetType selects what a suite executes against.
type TargetType string

const (
	TargetPrompt   TargetType = "prompt"
	TargetEndpoint TargetType = "endpoint"
)

// ValidationMode controls when conversation rules are evaluated.
type ValidationMode string

const (
	ValidatePerTurn   ValidationMode = "per_turn"
	ValidateFinalOnly ValidationMode = "final_only"
)

// Suite is a named batch of test cases against one target.
type Suite struct {
	Name            string            `yaml:"suite"`
	Description     string            `yaml:"description,omitempty"`
	Target          TargetType        `yaml:"target"`
	Prompt          *PromptTarget     `yaml:"prompt,omitempty"`
	Endpoint        *EndpointTarget   `yaml:"endpoint,omitempty"`
	ValidationRules []validation.Rule `yaml:"validation_rules,omitempty"`
	Judge           *judge.Config     `yaml:"judge,omitempty"`
	Cases           []TestCase        `yaml:"cases"`
}

// TestCase defines a single evaluation case. A case with conversation
// turns runs as a multi-turn conversation; otherwise it is single-shot.
type TestCase struct {
	ID              string                 `yaml:"id"`
	Name            string                 `yaml:"name"`
	Inputs          map[string]string      `yaml:"inputs,omitempty"`
	ExpectedOutput  string                 `yaml:"expected_output,omitempty"`
	Tags            []string               `yaml:"tags,omitempty"`
	Enabled         *bool                  `yaml:"enabled,omitempty"` // nil means enabled
	ValidationRules []validation.Rule      `yaml:"validation_rules,omitempty"`
	ValidationMode  ValidationMode         `yaml:"validation_mode,omitempty"`
	JudgeRules      []judge.ValidationRule `yaml:"judge_rules,omitempty"`
	Conversation    []Turn                 `yaml:"conversation,omitempty"`
	Session         *session.Config        `yaml:"session,omitempty"`
}

// IsEnabled reports whether the case should run; unset defaults to true.
func (c *TestCase) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Conversational reports whether the case runs as a multi-turn conversation.
func (c *TestCase) Conversational() bool {
	return len(c.Conversation) > 0
}

// Turn is one step of a conversation.
type Turn struct {
	Role              string                 `yaml:"role"` // user or assistant
	Content           string                 `yaml:"content"`
	Inputs            map[string]string      `yaml:"inputs,omitempty"` // per-turn overrides
	SimulatedResponse string                 `yaml:"simulated_response,omitempty"`
	ValidationRules   []validation.Rule      `yaml:"validation_rules,omitempty"`
	JudgeRules        []judge.ValidationRule `yaml:"judge_rules,omitempty"`
}

// PromptTarget is a versioned prompt executed through an LLM provider.
type PromptTarget struct {
	Name     string          `yaml:"name"`
	Versions []PromptVersion `yaml:"versions"`
}

// PromptVersion is one concrete revision of a prompt.
type PromptVersion struct {
	Version  string `yaml:"version"`
	Content  string `yaml:"content"`
	System   string `yaml:"system,omitempty"`
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// Resolve returns the version matching the requested label, falling back
// to the most recent (last listed) version when absent.
func (p *PromptTarget) Resolve(version string) *PromptVersion {
	if p == nil || len(p.Versions) == 0 {
		return nil
	}
	if version != "" {
		for i := range p.Versions {
			if p.Versions[i].Version == version {
				return &p.Versions[i]
			}
		}
	}
	return &p.Versions[len(p.Versions)-1]
}

// EndpointTarget is an HTTP endpoint under test.
type EndpointTarget struct {
	URL          string            `yaml:"url"`
	Method       string            `yaml:"method,omitempty"` // default POST
	Headers      map[string]string `yaml:"headers,omitempty"`
	ContentType  string            `yaml:"content_type,omitempty"` // default application/json
	BodyTemplate string            `yaml:"body_template,omitempty"`
	ResponsePath string            `yaml:"response_path,omitempty"`
	Auth         *EndpointAuth     `yaml:"auth,omitempty"`
}

// EndpointAuth configures request authentication.
type EndpointAuth struct {
	Type     string `yaml:"type"` // bearer, api_key, or basic
	Token    string `yaml:"token,omitempty"`
	Header   string `yaml:"header,omitempty"` // api_key header name, default X-API-Key
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

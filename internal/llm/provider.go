// Package llm defines the narrow completion interface the execution engine
// depends on, plus concrete Claude and OpenAI providers.
package llm

import "context"

// Message is a single role/content exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request. Provider selects which
// registered provider handles the call; an empty value uses the registry
// default.
type Request struct {
	Provider    string
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is the completion result the engine consumes.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// Credentials maps provider names to API keys. The engine treats it as an
// opaque per-organization value supplied by the caller.
type Credentials map[string]string

// Completer issues one completion call. The execution engine and the judge
// depend only on this interface.
type Completer interface {
	Complete(ctx context.Context, req *Request, creds Credentials) (*Response, error)
}

// Provider is a concrete model API client.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request, apiKey string) (*Response, error)
}

// SimpleComplete issues a single-shot completion with an optional system
// prompt and one user message, returning just the text content.
func SimpleComplete(ctx context.Context, c Completer, provider, model, system, userMessage string, creds Credentials) (string, error) {
	resp, err := c.Complete(ctx, &Request{
		Provider: provider,
		Model:    model,
		System:   system,
		Messages: []Message{{Role: "user", Content: userMessage}},
	}, creds)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

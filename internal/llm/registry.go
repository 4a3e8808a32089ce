package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Registry stores providers by name and dispatches completion requests.
// It implements Completer.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	if r == nil {
		panic("llm: register on nil registry")
	}
	if p == nil {
		panic("llm: register nil provider")
	}
	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		panic("llm: provider has empty name")
	}
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[name] = p
}

// SetDefault sets the provider used when a request does not name one.
func (r *Registry) SetDefault(name string) {
	if r == nil {
		return
	}
	r.defaultName = strings.ToLower(strings.TrimSpace(name))
}

// Get returns a named provider if present.
func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil || r.providers == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Complete resolves the request's provider and issues the call with that
// provider's credential.
func (r *Registry) Complete(ctx context.Context, req *Request, creds Credentials) (*Response, error) {
	if r == nil {
		return nil, errors.New("llm: nil registry")
	}
	if req == nil {
		return nil, errors.New("llm: nil request")
	}

	name := strings.ToLower(strings.TrimSpace(req.Provider))
	if name == "" {
		name = r.defaultName
	}
	if name == "" && len(r.providers) == 1 {
		for k := range r.providers {
			name = k
		}
	}

	p, ok := r.Get(name)
	if !ok {
		available := make([]string, 0, len(r.providers))
		for k := range r.providers {
			available = append(available, k)
		}
		sort.Strings(available)
		return nil, fmt.Errorf("llm: provider %q not configured (available: %s)", name, strings.Join(available, ", "))
	}

	return p.Complete(ctx, req, creds[name])
}

// Package session holds per-conversation state extracted from HTTP
// responses (cookies, a bearer-style token, named variables) and injects it
// into subsequent requests.
package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/promptlane/promptlane/internal/vars"
)

// Token injection targets.
const (
	InjectHeader = "header"
	InjectBody   = "body"
	InjectQuery  = "query"
)

// Config controls what a Manager extracts and where it injects.
type Config struct {
	Enabled             bool                 `yaml:"enabled" json:"enabled"`
	PersistCookies      bool                 `yaml:"persist_cookies,omitempty" json:"persistCookies,omitempty"`
	TokenExtraction     *TokenExtraction     `yaml:"token_extraction,omitempty" json:"tokenExtraction,omitempty"`
	VariableExtractions []VariableExtraction `yaml:"variable_extractions,omitempty" json:"variableExtractions,omitempty"`
}

// TokenExtraction describes how to pull a token out of a response body and
// where to inject it on later requests.
type TokenExtraction struct {
	Path       string `yaml:"path" json:"path"`
	InjectInto string `yaml:"inject_into" json:"injectInto"` // header, body, or query
	Name       string `yaml:"name" json:"name"`              // header name, body path, or query parameter
	Prefix     string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// VariableExtraction names a JSON path to harvest into the variable store.
type VariableExtraction struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// Manager is the mutable per-conversation store. It is owned by one
// conversation execution and never shared across concurrent test cases.
type Manager struct {
	cfg Config

	cookies   map[string]string
	token     string
	variables map[string]any
}

// NewManager creates a Manager for one conversation.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		cookies:   make(map[string]string),
		variables: make(map[string]any),
	}
}

// ProcessResponse harvests cookies, the token, and configured variables from
// a response. Missing extraction paths are silently skipped.
func (m *Manager) ProcessResponse(headers http.Header, parsedBody any) {
	if m == nil || !m.cfg.Enabled {
		return
	}

	if m.cfg.PersistCookies && headers != nil {
		for _, raw := range headers.Values("Set-Cookie") {
			name, value, ok := parseSetCookie(raw)
			if !ok {
				continue
			}
			m.cookies[name] = value
		}
	}

	if te := m.cfg.TokenExtraction; te != nil && strings.TrimSpace(te.Path) != "" {
		if v, ok := vars.GetPath(parsedBody, te.Path); ok && v != nil {
			m.token = vars.Stringify(v)
		}
	}

	for _, ve := range m.cfg.VariableExtractions {
		if strings.TrimSpace(ve.Name) == "" || strings.TrimSpace(ve.Path) == "" {
			continue
		}
		if v, ok := vars.GetPath(parsedBody, ve.Path); ok {
			m.variables[ve.Name] = v
		}
	}
}

// ApplyToRequest injects accumulated session state into an outgoing request
// and returns the possibly rewritten headers, body, and URL. Headers are
// mutated in place; the map is returned for call-site convenience.
func (m *Manager) ApplyToRequest(headers map[string]string, body string, rawURL string) (map[string]string, string, string) {
	if m == nil || !m.cfg.Enabled {
		return headers, body, rawURL
	}
	if headers == nil {
		headers = make(map[string]string)
	}

	if len(m.cookies) > 0 {
		headers["Cookie"] = mergeCookieHeader(headers["Cookie"], m.cookies)
	}

	if m.token != "" && m.cfg.TokenExtraction != nil {
		te := m.cfg.TokenExtraction
		value := te.Prefix + m.token
		switch strings.ToLower(strings.TrimSpace(te.InjectInto)) {
		case InjectHeader:
			headers[te.Name] = value
		case InjectBody:
			if rewritten, ok := injectBodyPath(body, te.Name, value); ok {
				body = rewritten
			}
		case InjectQuery:
			if rewritten, ok := injectQueryParam(rawURL, te.Name, value); ok {
				rawURL = rewritten
			}
		}
	}

	return headers, body, rawURL
}

// Variables returns a copy of the extracted variable store.
func (m *Manager) Variables() map[string]any {
	if m == nil || len(m.variables) == 0 {
		return nil
	}
	out := make(map[string]any, len(m.variables))
	for k, v := range m.variables {
		out[k] = v
	}
	return out
}

// Token returns the extracted token, if any.
func (m *Manager) Token() string {
	if m == nil {
		return ""
	}
	return m.token
}

// Reset clears cookies, the token, and extracted variables.
func (m *Manager) Reset() {
	if m == nil {
		return
	}
	m.cookies = make(map[string]string)
	m.token = ""
	m.variables = make(map[string]any)
}

// parseSetCookie extracts "name=value" before the first ";".
func parseSetCookie(raw string) (string, string, bool) {
	pair := raw
	if idx := strings.Index(pair, ";"); idx >= 0 {
		pair = pair[:idx]
	}
	name, value, found := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(value), true
}

// mergeCookieHeader appends jar cookies to an existing Cookie header,
// preserving caller-supplied cookies.
func mergeCookieHeader(existing string, jar map[string]string) string {
	parts := make([]string, 0, len(jar)+1)
	if strings.TrimSpace(existing) != "" {
		parts = append(parts, strings.TrimSpace(existing))
	}

	names := make([]string, 0, len(jar))
	for name := range jar {
		names = append(names, name)
	}
	// Stable order keeps the header deterministic.
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+jar[name])
	}
	return strings.Join(parts, "; ")
}

var indexSegment = regexp.MustCompile(`^([^\[\]]*)(?:\[(\d+)\])?$`)

// injectBodyPath parses body as JSON, sets a nested path (creating
// intermediate objects and arrays as needed), and re-serializes. A body that
// is not valid JSON is left untouched.
func injectBodyPath(body, path, value string) (string, bool) {
	var root any
	if err := json.Unmarshal([]byte(body), &root); err != nil {
		return "", false
	}

	root = setPath(root, strings.Split(path, "."), value)

	out, err := json.Marshal(root)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func setPath(node any, segments []string, value string) any {
	if len(segments) == 0 {
		return value
	}

	m := indexSegment.FindStringSubmatch(segments[0])
	if m == nil {
		return node
	}
	key := m[1]
	idx := -1
	if m[2] != "" {
		if n, err := strconv.Atoi(m[2]); err == nil {
			idx = n
		}
	}

	if key == "" && idx >= 0 {
		arr, _ := node.([]any)
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		arr[idx] = setPath(arr[idx], segments[1:], value)
		return arr
	}

	obj, ok := node.(map[string]any)
	if !ok {
		obj = make(map[string]any)
	}

	if idx >= 0 {
		arr, _ := obj[key].([]any)
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		arr[idx] = setPath(arr[idx], segments[1:], value)
		obj[key] = arr
		return obj
	}

	obj[key] = setPath(obj[key], segments[1:], value)
	return obj
}

// injectQueryParam sets or replaces a query parameter on the URL.
func injectQueryParam(rawURL, name, value string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String(), true
}

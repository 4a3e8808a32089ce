package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/promptlane/promptlane/internal/session"
	"github.com/promptlane/promptlane/internal/suite"
	"github.com/promptlane/promptlane/internal/vars"
)

// endpointResponse is a parsed HTTP call outcome.
type endpointResponse struct {
	Body   string
	Parsed any // nil when the body is not JSON
	Header http.Header
}

// callEndpoint builds and issues one HTTP request against the target,
// substituting inputs into the body template. The session manager, when
// non-nil, injects cookies/token/variables into the outgoing request and
// harvests from the response. A non-2xx status is an error carrying the
// response body.
func (e *Executor) callEndpoint(ctx context.Context, target *suite.EndpointTarget, inputs map[string]any, sess *session.Manager) (*endpointResponse, error) {
	if target == nil {
		return nil, fmt.Errorf("engine: nil endpoint target")
	}

	contentType := target.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	headers := make(map[string]string, len(target.Headers)+2)
	headers["Content-Type"] = contentType
	for k, v := range target.Headers {
		headers[k] = v
	}
	applyAuth(headers, target.Auth)

	body := vars.Substitute(target.BodyTemplate, inputs, isJSONContentType(contentType))
	rawURL := target.URL
	if sess != nil {
		headers, body, rawURL = sess.ApplyToRequest(headers, body, rawURL)
	}

	method := target.Method
	if method == "" {
		method = http.MethodPost
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: call %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engine: read response: %w", err)
	}

	out := &endpointResponse{Body: string(respBody), Header: resp.Header}
	var parsed any
	if json.Unmarshal(respBody, &parsed) == nil {
		out.Parsed = parsed
	}

	if sess != nil {
		sess.ProcessResponse(resp.Header, out.Parsed)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("engine: endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(out.Body))
	}
	return out, nil
}

// extractContent narrows a response to the configured sub-path and
// stringifies non-string values for downstream validation.
func extractContent(resp *endpointResponse, responsePath string) string {
	if resp == nil {
		return ""
	}
	if responsePath == "" || resp.Parsed == nil {
		return resp.Body
	}
	v, ok := vars.GetPath(resp.Parsed, responsePath)
	if !ok || v == nil {
		return resp.Body
	}
	return vars.Stringify(v)
}

func applyAuth(headers map[string]string, auth *suite.EndpointAuth) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "bearer":
		headers["Authorization"] = "Bearer " + auth.Token
	case "api_key":
		name := auth.Header
		if name == "" {
			name = "X-API-Key"
		}
		headers[name] = auth.Token
	case "basic":
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers["Authorization"] = "Basic " + cred
	}
}

func isJSONContentType(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "json")
}

func (e *Executor) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

const (
	defaultClaudeModel = "claude-sonnet-4-5-20250929"
	claudeAPIVersion   = "2023-06-01"

	defaultMaxTokens = 4096
)

// ClaudeProvider calls the Anthropic messages API.
type ClaudeProvider struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewClaudeProvider creates a Claude provider. baseURL and defaultModel may
// be empty to use the API defaults.
func NewClaudeProvider(baseURL, defaultModel string) *ClaudeProvider {
	p := &ClaudeProvider{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		defaultModel: strings.TrimSpace(defaultModel),
		httpClient:   &http.Client{},
	}
	if p.baseURL == "" {
		if env := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); env != "" {
			p.baseURL = strings.TrimRight(env, "/")
		}
	}
	return p
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

// APIError represents a non-2xx response from a model API.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "llm: api error <nil>"
	}
	msg := strings.TrimSpace(e.Message)
	switch {
	case e.Type != "" && msg != "":
		return fmt.Sprintf("%s: api error (%d): %s: %s", e.Provider, e.StatusCode, e.Type, msg)
	case msg != "":
		return fmt.Sprintf("%s: api error (%d): %s", e.Provider, e.StatusCode, msg)
	default:
		return fmt.Sprintf("%s: api error (%d)", e.Provider, e.StatusCode)
	}
}

func (p *ClaudeProvider) Complete(ctx context.Context, req *Request, apiKey string) (*Response, error) {
	if p == nil {
		return nil, errors.New("llm: claude: nil provider")
	}
	if ctx == nil {
		return nil, errors.New("llm: claude: nil context")
	}
	if req == nil {
		return nil, errors.New("llm: claude: nil request")
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("llm: claude: missing api key")
	}

	sdk := p.newSDKClient(apiKey)
	msg, err := sdk.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, normalizeClaudeError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	return &Response{
		Content:      sb.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
	}, nil
}

func (p *ClaudeProvider) newSDKClient(apiKey string) *anthropic.Client {
	opts := make([]option.RequestOption, 0, 5)
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(p.baseURL, "/v1")))
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	// Provider failures are surfaced to the engine as test failures, so the
	// SDK must not retry on its own.
	opts = append(opts, option.WithMaxRetries(0))
	opts = append(opts, option.WithHeader("anthropic-version", claudeAPIVersion))

	client := anthropic.NewClient(opts...)
	return &client
}

func (p *ClaudeProvider) buildParams(req *Request) anthropic.MessageNewParams {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		model = defaultClaudeModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := anthropic.MessageParamRoleUser
		if strings.EqualFold(strings.TrimSpace(m.Role), "assistant") {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	return params
}

type claudeErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeClaudeError(err error) error {
	if err == nil {
		return nil
	}
	var sdkErr *anthropic.Error
	if !errors.As(err, &sdkErr) {
		return err
	}

	apiErr := &APIError{
		Provider:   "claude",
		StatusCode: sdkErr.StatusCode,
	}
	if raw := strings.TrimSpace(sdkErr.RawJSON()); raw != "" {
		var env claudeErrorEnvelope
		if json.Unmarshal([]byte(raw), &env) == nil {
			apiErr.Type = env.Error.Type
			apiErr.Message = env.Error.Message
		}
	}
	return apiErr
}

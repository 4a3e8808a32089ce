package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/promptlane/promptlane/internal/judge"
	"github.com/promptlane/promptlane/internal/llm"
	"github.com/promptlane/promptlane/internal/session"
	"github.com/promptlane/promptlane/internal/suite"
	"github.com/promptlane/promptlane/internal/validation"
)

func TestConversation_PromptHistoryThreading(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{
		respond: func(call int, req *llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: fmt.Sprintf("response %d", call)}, nil
		},
	}
	e := &Executor{Completer: stub}

	p := promptParams(&suite.TestCase{
		ID:     "c1",
		Name:   "convo",
		Inputs: map[string]string{"name": "Ada"},
		Conversation: []suite.Turn{
			{Role: "user", Content: "Hi, I'm {{name}}"},
			{Role: "assistant", SimulatedResponse: "Noted."},
			{Role: "user", Content: "What's my name?"},
		},
	})

	res := e.ExecuteCase(context.Background(), p)
	if res.Error != "" {
		t.Fatalf("Error: got %q", res.Error)
	}
	if res.TurnCount != 3 || len(res.Turns) != 3 {
		t.Fatalf("turns: got count %d len %d", res.TurnCount, len(res.Turns))
	}
	if res.Turns[0].Input != "Hi, I'm Ada" {
		t.Fatalf("Turns[0].Input: got %q", res.Turns[0].Input)
	}
	if res.Turns[1].Output != "Noted." {
		t.Fatalf("Turns[1].Output: got %q", res.Turns[1].Output)
	}
	if res.Output != "response 2" {
		t.Fatalf("Output: got %q", res.Output)
	}

	reqs := stub.requests()
	if len(reqs) != 2 {
		t.Fatalf("calls: got %d want 2", len(reqs))
	}
	if len(reqs[0].Messages) != 1 {
		t.Fatalf("call 1 history: got %d messages", len(reqs[0].Messages))
	}
	// Second call carries the full history: user, assistant reply,
	// simulated assistant, new user.
	roles := make([]string, 0, len(reqs[1].Messages))
	for _, m := range reqs[1].Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("call 2 history: got %v want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("call 2 history: got %v want %v", roles, want)
		}
	}
}

func TestConversation_PerTurnValidation(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{
		respond: func(call int, req *llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: "completely wrong"}, nil
		},
	}
	e := &Executor{Completer: stub}

	p := promptParams(&suite.TestCase{
		ID:             "c1",
		Name:           "convo",
		ValidationMode: suite.ValidatePerTurn,
		Conversation: []suite.Turn{
			{Role: "user", Content: "first", ValidationRules: []validation.Rule{
				{Type: validation.RuleContains, Value: "expected phrase"},
			}},
			{Role: "user", Content: "second"},
		},
	})

	res := e.ExecuteCase(context.Background(), p)
	if res.Error != "" {
		t.Fatalf("Error: got %q", res.Error)
	}
	if res.ValidationPassed {
		t.Fatalf("ValidationPassed: got true")
	}
	if len(res.ValidationErrors) != 1 || !strings.HasPrefix(res.ValidationErrors[0], "Turn 1: ") {
		t.Fatalf("ValidationErrors: got %v", res.ValidationErrors)
	}
	if res.Turns[0].Passed == nil || *res.Turns[0].Passed {
		t.Fatalf("Turns[0].Passed: got %v", res.Turns[0].Passed)
	}
	if res.Turns[1].Passed == nil || !*res.Turns[1].Passed {
		t.Fatalf("Turns[1].Passed: got %v", res.Turns[1].Passed)
	}
}

func TestConversation_FinalOnlyValidatesLastTurn(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{
		respond: func(call int, req *llm.Request) (*llm.Response, error) {
			if call == 1 {
				return &llm.Response{Content: "garbage"}, nil
			}
			return &llm.Response{Content: "final answer"}, nil
		},
	}
	e := &Executor{Completer: stub}

	p := promptParams(&suite.TestCase{
		ID:   "c1",
		Name: "convo",
		ValidationRules: []validation.Rule{
			{Type: validation.RuleContains, Value: "final"},
		},
		Conversation: []suite.Turn{
			{Role: "user", Content: "first"},
			{Role: "user", Content: "second"},
		},
	})

	res := e.ExecuteCase(context.Background(), p)
	if !res.ValidationPassed {
		t.Fatalf("ValidationPassed: got false (%v)", res.ValidationErrors)
	}
	// Intermediate turns are not validated in final-only mode.
	if res.Turns[0].Passed != nil {
		t.Fatalf("Turns[0].Passed: got %v want nil", res.Turns[0].Passed)
	}
}

func TestConversation_EndpointSession(t *testing.T) {
	t.Parallel()

	type seen struct {
		cookie string
		auth   string
		body   string
	}
	var mu sync.Mutex
	var calls []seen

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, seen{
			cookie: r.Header.Get("Cookie"),
			auth:   r.Header.Get("Authorization"),
			body:   string(b),
		})
		n := len(calls)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Header().Add("Set-Cookie", "sid=abc123; Path=/; HttpOnly")
			json.NewEncoder(w).Encode(map[string]any{
				"auth":  map[string]any{"token": "tok-1"},
				"user":  map[string]any{"id": "u42"},
				"reply": "hello",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"reply": "again"})
	}))
	defer srv.Close()

	e := &Executor{HTTPClient: srv.Client()}
	p := CaseParams{
		Case: &suite.TestCase{
			ID:   "c1",
			Name: "session convo",
			Session: &session.Config{
				Enabled:        true,
				PersistCookies: true,
				TokenExtraction: &session.TokenExtraction{
					Path:       "auth.token",
					InjectInto: session.InjectHeader,
					Name:       "Authorization",
					Prefix:     "Bearer ",
				},
				VariableExtractions: []session.VariableExtraction{
					{Name: "userId", Path: "user.id"},
				},
			},
			Conversation: []suite.Turn{
				{Role: "user", Content: "log me in"},
				{Role: "user", Content: "who am I?"},
			},
		},
		Target: suite.TargetEndpoint,
		Endpoint: &suite.EndpointTarget{
			URL:          srv.URL,
			BodyTemplate: `{"message": "{{message}}", "user": "{{userId}}"}`,
			ResponsePath: "reply",
		},
	}

	res := e.ExecuteCase(context.Background(), p)
	if res.Error != "" {
		t.Fatalf("Error: got %q", res.Error)
	}
	if res.Output != "again" {
		t.Fatalf("Output: got %q", res.Output)
	}

	if len(calls) != 2 {
		t.Fatalf("calls: got %d want 2", len(calls))
	}
	// No session state yet on the first call; the userId marker stays
	// verbatim.
	if calls[0].auth != "" || calls[0].cookie != "" {
		t.Fatalf("call 1: got auth %q cookie %q", calls[0].auth, calls[0].cookie)
	}
	if !strings.Contains(calls[0].body, "{{userId}}") {
		t.Fatalf("call 1 body: got %q", calls[0].body)
	}
	// The second call carries everything harvested from the first.
	if calls[1].cookie != "sid=abc123" {
		t.Fatalf("call 2 cookie: got %q", calls[1].cookie)
	}
	if calls[1].auth != "Bearer tok-1" {
		t.Fatalf("call 2 auth: got %q", calls[1].auth)
	}
	if !strings.Contains(calls[1].body, `"user": "u42"`) {
		t.Fatalf("call 2 body: got %q", calls[1].body)
	}
	if res.Turns[0].Variables["userId"] != "u42" {
		t.Fatalf("Turns[0].Variables: got %v", res.Turns[0].Variables)
	}
}

func TestConversation_ErrorAbortsRemainingTurns(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n == 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"reply": "ok"})
	}))
	defer srv.Close()

	e := &Executor{HTTPClient: srv.Client()}
	p := CaseParams{
		Case: &suite.TestCase{
			ID:   "c1",
			Name: "aborting convo",
			Conversation: []suite.Turn{
				{Role: "user", Content: "one"},
				{Role: "user", Content: "two"},
				{Role: "user", Content: "three"},
			},
		},
		Target:   suite.TargetEndpoint,
		Endpoint: &suite.EndpointTarget{URL: srv.URL, ResponsePath: "reply"},
	}

	res := e.ExecuteCase(context.Background(), p)
	if res.Error == "" || !strings.Contains(res.Error, "500") {
		t.Fatalf("Error: got %q", res.Error)
	}
	if res.ValidationPassed {
		t.Fatalf("ValidationPassed: got true")
	}
	// The partial transcript is kept; the third turn never ran.
	if len(res.Turns) != 2 {
		t.Fatalf("Turns: got %d want 2", len(res.Turns))
	}
	if res.Turns[0].Output != "ok" {
		t.Fatalf("Turns[0].Output: got %q", res.Turns[0].Output)
	}
	if res.Turns[1].Error == "" {
		t.Fatalf("Turns[1].Error: got empty")
	}
	if count != 2 {
		t.Fatalf("endpoint calls: got %d want 2", count)
	}
}

func TestConversation_JudgeRunsOnceOnTranscript(t *testing.T) {
	t.Parallel()

	var judgePrompts []string
	stub := &stubCompleter{}
	stub.respond = func(call int, req *llm.Request) (*llm.Response, error) {
		// Judge calls are capped at 1024 tokens; target calls are not.
		if req.MaxTokens == 1024 {
			judgePrompts = append(judgePrompts, req.Messages[0].Content)
			return &llm.Response{Content: `{"criteria": [{"name": "flow", "score": 9, "reason": "good"}]}`}, nil
		}
		return &llm.Response{Content: fmt.Sprintf("reply %d", call)}, nil
	}
	e := &Executor{Completer: stub}

	p := promptParams(&suite.TestCase{
		ID:     "c1",
		Name:   "judged convo",
		Inputs: map[string]string{"topic": "weather"},
		Conversation: []suite.Turn{
			{Role: "user", Content: "tell me about {{topic}}"},
			{Role: "user", Content: "more"},
		},
	})
	p.Judge = &judge.Config{
		Enabled:  true,
		Criteria: []judge.Criterion{{Name: "flow", Weight: 1}},
	}

	res := e.ExecuteCase(context.Background(), p)
	if res.Error != "" {
		t.Fatalf("Error: got %q", res.Error)
	}
	if res.JudgeScore == nil || *res.JudgeScore != 0.9 {
		t.Fatalf("JudgeScore: got %v", res.JudgeScore)
	}
	if len(judgePrompts) != 1 {
		t.Fatalf("judge calls: got %d want 1", len(judgePrompts))
	}
	// The judged output is the synthesized transcript, not one turn.
	if !strings.Contains(judgePrompts[0], "User: tell me about weather") ||
		!strings.Contains(judgePrompts[0], "reply 1") ||
		!strings.Contains(judgePrompts[0], "reply 2") {
		t.Fatalf("judge prompt missing transcript: %q", judgePrompts[0])
	}
}

package common

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cmdbridge/internal/core"
	"cmdbridge/internal/modules/greeting"
	"cmdbridge/internal/modules/guess"
	"cmdbridge/internal/storage"
)

type memorySink struct {
	mu     sync.Mutex
	events []storage.AuditEvent
}

func (m *memorySink) Write(ctx context.Context, ev storage.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memorySink) last(t *testing.T) storage.AuditEvent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		t.Fatalf("no audit events")
	}
	return m.events[len(m.events)-1]
}

func newService(t *testing.T, allow map[string][]string, limiter *RateLimiter) (*Service, *memorySink) {
	t.Helper()
	r := core.NewRegistry()
	ctx := context.Background()
	judge, err := guess.NewJudge(1, 100, func(lo, hi int) int { return 50 })
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	for _, m := range []core.CommandProvider{&greeting.Module{}, &guess.Module{Judge: judge}} {
		if err := r.Register(ctx, m); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	r.Seal()
	sink := &memorySink{}
	return &Service{
		Source:      "test",
		Registry:    r,
		Authorizer:  core.NewAllowlistAuthorizer(allow),
		RateLimiter: limiter,
		AuditSink:   sink,
	}, sink
}

func TestServiceExecute(t *testing.T) {
	svc, sink := newService(t, map[string][]string{"test": {"u1"}}, nil)
	ctx := WithRequestID(context.Background(), "req-1")

	resp, err := svc.Execute(ctx, "u1", greeting.CommandName, json.RawMessage(`{"message":"world"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != core.StatusOK || resp.Data != "Hello world" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	ev := sink.last(t)
	if ev.Status != "ok" || ev.RequestID != "req-1" || ev.Action != greeting.CommandName || ev.Source != "test" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload["module"] != "greeting" {
		t.Fatalf("unexpected audit payload: %s (%v)", ev.Payload, err)
	}
}

func TestServiceCommandFailureIsAuditedAsError(t *testing.T) {
	svc, sink := newService(t, map[string][]string{"test": {"*"}}, nil)
	resp, err := svc.Execute(context.Background(), "u1", guess.CommandName, json.RawMessage(`{"guess":99}`))
	if err != nil {
		t.Fatalf("verdict must not be a pipeline error: %v", err)
	}
	if resp.ErrorCode != "too_high" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if ev := sink.last(t); ev.Status != "error" || ev.RequestID == "" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}
}

func TestServiceDenied(t *testing.T) {
	svc, sink := newService(t, map[string][]string{"test": {"u1:" + greeting.CommandName}}, nil)
	resp, err := svc.Execute(context.Background(), "u1", guess.CommandName, json.RawMessage(`{"guess":1}`))
	if !IsAccessDenied(err) || resp.ErrorCode != CodeAccessDenied {
		t.Fatalf("expected access denied, got %#v, %v", resp, err)
	}
	if ev := sink.last(t); ev.Status != "denied" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}
	if _, err := svc.Execute(context.Background(), "u2", greeting.CommandName, json.RawMessage(`{"message":"x"}`)); !IsAccessDenied(err) {
		t.Fatalf("unknown subject must be denied, got %v", err)
	}
}

func TestServiceRateLimited(t *testing.T) {
	svc, sink := newService(t, map[string][]string{"test": {"*"}}, NewRateLimiter(1, time.Minute))
	args := json.RawMessage(`{"message":"x"}`)
	if _, err := svc.Execute(context.Background(), "u1", greeting.CommandName, args); err != nil {
		t.Fatalf("first call: %v", err)
	}
	resp, err := svc.Execute(context.Background(), "u1", greeting.CommandName, args)
	if !IsRateLimited(err) || resp.ErrorCode != CodeRateLimited {
		t.Fatalf("expected rate limit, got %#v, %v", resp, err)
	}
	if ev := sink.last(t); ev.Status != "rate_limited" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}
}

func TestServiceUnknownCommand(t *testing.T) {
	svc, sink := newService(t, map[string][]string{"test": {"*"}}, nil)
	resp, err := svc.Execute(context.Background(), "u1", "format-disk", nil)
	if !core.IsUnknownCommand(err) || resp.ErrorCode != core.CodeUnknownCommand {
		t.Fatalf("expected unknown command, got %#v, %v", resp, err)
	}
	if ev := sink.last(t); ev.Status != "error" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}
}

func TestServiceExecuteText(t *testing.T) {
	svc, _ := newService(t, map[string][]string{"test": {"*"}}, nil)
	ctx := context.Background()

	resp, err := svc.ExecuteText(ctx, "u1", `custom-greeting "big world"`)
	if err != nil || resp.Data != "Hello big world" {
		t.Fatalf("unexpected response: %#v, %v", resp, err)
	}
	resp, err = svc.ExecuteText(ctx, "u1", `/guess-number {"guess": 50}`)
	if err != nil || resp.Status != core.StatusOK {
		t.Fatalf("unexpected response: %#v, %v", resp, err)
	}
	resp, err = svc.ExecuteText(ctx, "u1", `guess-number fifty`)
	if !core.IsInvalidArguments(err) || resp.ErrorCode != core.CodeInvalidArguments {
		t.Fatalf("expected invalid arguments, got %#v, %v", resp, err)
	}
	resp, err = svc.ExecuteText(ctx, "u1", "   ")
	if err == nil || resp.ErrorCode != CodeBadCommand {
		t.Fatalf("expected bad command, got %#v, %v", resp, err)
	}
}

func TestServiceTokenBindFailureIsAudited(t *testing.T) {
	svc, sink := newService(t, map[string][]string{"test": {"u1"}}, nil)
	resp, err := svc.ExecuteTokens(context.Background(), "u1", guess.CommandName, []string{"abc"})
	if !core.IsInvalidArguments(err) || resp.ErrorCode != core.CodeInvalidArguments {
		t.Fatalf("expected invalid arguments, got %#v, %v", resp, err)
	}
	if ev := sink.last(t); ev.Status != "error" || ev.Action != guess.CommandName || ev.RequestID == "" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}

	// Разбор аргументов не обходит authz.
	resp, err = svc.ExecuteTokens(context.Background(), "u2", guess.CommandName, []string{"abc"})
	if !IsAccessDenied(err) || resp.ErrorCode != CodeAccessDenied {
		t.Fatalf("expected access denied, got %#v, %v", resp, err)
	}
	if ev := sink.last(t); ev.Status != "denied" || ev.Subject != "u2" {
		t.Fatalf("unexpected audit event: %#v", ev)
	}
}

func TestParseTextCommand(t *testing.T) {
	tc, err := ParseTextCommand(`/run-process ls -la "/tmp/with space"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.Name != "run-process" || len(tc.Tokens) != 2 || tc.Tokens[1] != "/tmp/with space" {
		t.Fatalf("unexpected parsed command: %#v", tc)
	}

	tc, err = ParseTextCommand(`run-process {"program":"ls"}`)
	if err != nil || string(tc.JSON) != `{"program":"ls"}` || tc.Tokens != nil {
		t.Fatalf("unexpected parsed command: %#v, %v", tc, err)
	}
}

func TestParseTextCommandInvalid(t *testing.T) {
	for _, text := range []string{"", "/", `run-process {"program":`, `greet "unterminated`} {
		if _, err := ParseTextCommand(text); err == nil {
			t.Fatalf("expected parse error for %q", text)
		}
	}
}

func TestSanitizeRequestID(t *testing.T) {
	if got := SanitizeRequestID(" abc-123:x "); got != "abc-123:x" {
		t.Fatalf("unexpected id: %q", got)
	}
	if got := SanitizeRequestID("bad id"); got != "" {
		t.Fatalf("expected rejection, got %q", got)
	}
	if NewRequestID() == NewRequestID() {
		t.Fatalf("request ids must differ")
	}
}

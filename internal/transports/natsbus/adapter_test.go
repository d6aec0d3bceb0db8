package natsbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"cmdbridge/internal/core"
	"cmdbridge/internal/modules/greeting"
	"cmdbridge/internal/storage"
	"cmdbridge/internal/transports/common"
)

// fakeRequest реализует нужную часть micro.Request без сервера NATS.
type fakeRequest struct {
	micro.Request
	data    []byte
	headers nats.Header

	respond   []byte
	errCode   string
	errDesc   string
	errorBody []byte
}

func (r *fakeRequest) Data() []byte           { return r.data }
func (r *fakeRequest) Headers() micro.Headers { return micro.Headers(r.headers) }
func (r *fakeRequest) Respond(data []byte, _ ...micro.RespondOpt) error {
	r.respond = data
	return nil
}
func (r *fakeRequest) Error(code, description string, data []byte, _ ...micro.RespondOpt) error {
	r.errCode, r.errDesc, r.errorBody = code, description, data
	return nil
}

type captureSink struct{ events []storage.AuditEvent }

func (s *captureSink) Write(ctx context.Context, ev storage.AuditEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *captureSink) {
	t.Helper()
	r := core.NewRegistry()
	if err := r.Register(context.Background(), &greeting.Module{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Seal()
	sink := &captureSink{}
	svc := &common.Service{
		Source:     "nats",
		Registry:   r,
		Authorizer: core.NewAllowlistAuthorizer(map[string][]string{"nats": {"svc-a"}}),
		AuditSink:  sink,
	}
	return NewAdapter(svc, Config{Prefix: "TEST", Version: "dev"}, nil), sink
}

func TestHandleResponds(t *testing.T) {
	a, sink := newTestAdapter(t)
	req := &fakeRequest{
		data:    []byte(`{"message":"bus"}`),
		headers: nats.Header{HeaderSubjectID: {"svc-a"}, HeaderRequestID: {"nats-1"}},
	}
	a.handle(greeting.CommandName)(req)

	if req.errCode != "" {
		t.Fatalf("unexpected error reply: %s %s", req.errCode, req.errDesc)
	}
	var resp core.Response
	if err := json.Unmarshal(req.respond, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != core.StatusOK || resp.Data != "Hello bus" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if len(sink.events) != 1 || sink.events[0].RequestID != "nats-1" || sink.events[0].Subject != "svc-a" {
		t.Fatalf("unexpected audit: %#v", sink.events)
	}
}

func TestHandlePipelineErrorUsesServiceError(t *testing.T) {
	a, sink := newTestAdapter(t)
	req := &fakeRequest{data: []byte(`{"message":"x"}`), headers: nats.Header{}}
	a.handle(greeting.CommandName)(req)

	if req.errCode != common.CodeAccessDenied || req.respond != nil {
		t.Fatalf("expected access denied error reply, got %q", req.errCode)
	}
	var resp core.Response
	if err := json.Unmarshal(req.errorBody, &resp); err != nil || resp.ErrorCode != common.CodeAccessDenied {
		t.Fatalf("unexpected error body: %s (%v)", req.errorBody, err)
	}
	if sink.events[0].Subject != AnonymousSubject {
		t.Fatalf("expected anonymous subject, got %q", sink.events[0].Subject)
	}
}

func TestSubjectAndDefaults(t *testing.T) {
	a, _ := newTestAdapter(t)
	if got := a.Subject("run-process"); got != "TEST.run-process" {
		t.Fatalf("unexpected subject %q", got)
	}
	if a.cfg.Version != "0.0.0" || a.cfg.Name != "cmdbridge" || a.cfg.URL != nats.DefaultURL {
		t.Fatalf("unexpected defaults: %#v", a.cfg)
	}
	for v, want := range map[string]bool{
		"1.2.3": true, "0.1.0-rc.1": true, "1.2.3+build.7": true,
		"1.2": false, "x.y.z": false, "01.2.3": false, "": false,
	} {
		if got := isSemver(v); got != want {
			t.Fatalf("isSemver(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

package core

import "testing"

func TestAllowlistAuthorizerAuthorize(t *testing.T) {
	a := NewAllowlistAuthorizer(map[string][]string{
		"web": {"1001", "1002"},
	})
	if err := a.Authorize(Subject{Source: "web", ID: "1001"}, Action{Command: "run-process"}); err != nil {
		t.Fatalf("expected allow, got error: %v", err)
	}
}

func TestAllowlistAuthorizerDenyUnknownID(t *testing.T) {
	a := NewAllowlistAuthorizer(map[string][]string{
		"web": {"1001"},
	})
	if err := a.Authorize(Subject{Source: "web", ID: "9999"}, Action{Command: "run-process"}); err == nil {
		t.Fatalf("expected deny")
	}
}

func TestAllowlistAuthorizerDenyUnknownSource(t *testing.T) {
	a := NewAllowlistAuthorizer(map[string][]string{
		"web": {"1001"},
	})
	if err := a.Authorize(Subject{Source: "nats", ID: "1001"}, Action{Command: "run-process"}); err == nil {
		t.Fatalf("expected deny")
	}
}

func TestAllowlistAuthorizerWildcardSubject(t *testing.T) {
	a := NewAllowlistAuthorizer(map[string][]string{
		"ipc": {"*"},
	})
	if err := a.Authorize(Subject{Source: "ipc", ID: "window-1"}, Action{Command: "custom-greeting"}); err != nil {
		t.Fatalf("expected allow, got error: %v", err)
	}
}

func TestAllowlistAuthorizerCommandScopedRule(t *testing.T) {
	a := NewAllowlistAuthorizer(map[string][]string{
		"web": {"viewer:custom-greeting"},
	})
	if err := a.Authorize(Subject{Source: "web", ID: "viewer"}, Action{Command: "custom-greeting"}); err != nil {
		t.Fatalf("expected allow, got error: %v", err)
	}
	if err := a.Authorize(Subject{Source: "web", ID: "viewer"}, Action{Command: "terminate"}); err == nil {
		t.Fatalf("expected deny for command outside rule")
	}
}

func TestAllowlistAuthorizerEmptySubject(t *testing.T) {
	a := NewAllowlistAuthorizer(map[string][]string{"web": {"*"}})
	if err := a.Authorize(Subject{Source: "web"}, Action{Command: "terminate"}); err == nil {
		t.Fatalf("expected deny for empty subject id")
	}
}

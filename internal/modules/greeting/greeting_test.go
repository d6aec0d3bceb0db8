package greeting

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"cmdbridge/internal/core"
	"cmdbridge/internal/i18n"
)

func newRegistry(t *testing.T, m *Module) *core.Registry {
	t.Helper()
	r := core.NewRegistry()
	if err := r.Register(context.Background(), m); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestGreetingContainsMessage(t *testing.T) {
	cat, err := i18n.LoadEmbedded()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	r := newRegistry(t, &Module{Text: cat.Localizer("en-US")})

	for _, msg := range []string{"", "world", "100% sure", "多语言", `quote " and \ slash`} {
		raw, _ := json.Marshal(map[string]string{"message": msg})
		resp, err := r.Execute(context.Background(), CommandName, raw)
		if err != nil {
			t.Fatalf("execute %q: %v", msg, err)
		}
		text, ok := resp.Data.(string)
		if !ok || !strings.Contains(text, msg) {
			t.Fatalf("greeting %q does not contain %q", resp.Data, msg)
		}
		again, _ := r.Execute(context.Background(), CommandName, raw)
		if again.Data != resp.Data {
			t.Fatalf("greeting is not deterministic: %q vs %q", resp.Data, again.Data)
		}
	}
}

func TestGreetingFormat(t *testing.T) {
	m := &Module{}
	if got := m.Greet("Tauri"); got != "Hello Tauri" {
		t.Fatalf("unexpected greeting: %q", got)
	}
}

func TestGreetingRejectsMissingMessage(t *testing.T) {
	r := newRegistry(t, &Module{})
	resp, err := r.Execute(context.Background(), CommandName, json.RawMessage(`{}`))
	if err == nil || resp.ErrorCode != core.CodeInvalidArguments {
		t.Fatalf("expected invalid arguments, got %#v, %v", resp, err)
	}
}

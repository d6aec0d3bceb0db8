package resource

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"cmdbridge/internal/core"
)

func TestReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	want := make([]byte, 4096)
	if _, err := rand.Read(want); err != nil {
		t.Fatalf("random: %v", err)
	}
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := core.NewRegistry()
	if err := r.Register(context.Background(), &Module{Path: path}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := r.Execute(context.Background(), CommandName, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, ok := resp.Data.([]byte)
	if !ok {
		t.Fatalf("expected []byte payload, got %T", resp.Data)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload differs from file contents")
	}
}

func TestReadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := &Module{Path: path}
	data, err := m.Read(context.Background())
	if err != nil || len(data) != 0 {
		t.Fatalf("expected empty payload, got %d bytes, %v", len(data), err)
	}
}

func TestReadMissingIsTypedFailure(t *testing.T) {
	m := &Module{Path: filepath.Join(t.TempDir(), "missing")}
	r := core.NewRegistry()
	if err := r.Register(context.Background(), m); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := r.Execute(context.Background(), CommandName, nil)
	if err != nil {
		t.Fatalf("handler failure must not be a router error: %v", err)
	}
	if resp.ErrorCode != CodeReadFailed || resp.Message == "" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestReadRejectsArguments(t *testing.T) {
	r := core.NewRegistry()
	if err := r.Register(context.Background(), &Module{Path: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Execute(context.Background(), CommandName, []byte(`{"path":"/etc/shadow"}`)); !core.IsInvalidArguments(err) {
		t.Fatalf("expected invalid arguments, got %v", err)
	}
}

func TestInitRequiresPath(t *testing.T) {
	if err := (&Module{}).Init(context.Background()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

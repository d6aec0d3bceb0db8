package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cmdbridge/internal/storage"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAuditRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []storage.AuditEvent{
		{Subject: "alice", Action: "guess-number", Source: "web", Status: "ok", RequestID: "r1", Payload: []byte(`{"guess":5}`), TS: base},
		{Subject: "bob", Action: "run-process", Source: "cli", Status: "error", RequestID: "r2", TS: base.Add(time.Minute)},
		{Subject: "alice", Action: "run-process", Source: "ipc", Status: "ok", RequestID: "r3", TS: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := s.Write(ctx, ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := s.QueryAudit(ctx, storage.AuditQuery{Subject: "alice", To: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].RequestID != "r3" || got[1].RequestID != "r1" {
		t.Fatalf("unexpected events: %#v", got)
	}
	if !got[1].TS.Equal(base) || string(got[1].Payload) != `{"guess":5}` {
		t.Fatalf("event not preserved: %#v", got[1])
	}

	got, err = s.QueryAudit(ctx, storage.AuditQuery{Action: "run-process", To: base.Add(time.Hour), Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "r3" {
		t.Fatalf("unexpected events: %#v", got)
	}
}

func TestAuditStatsAndPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []string{"ok", "ok", "error"} {
		ev := storage.AuditEvent{Action: "guess-number", Status: status, TS: base.Add(time.Duration(i) * 24 * time.Hour)}
		if err := s.SaveAudit(ctx, ev); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	stats, err := s.Stats(ctx, base)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Status != "error" || stats[0].Count != 1 || stats[1].Count != 2 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	prune := storage.PruneFunc(s, 36*time.Hour, func() time.Time { return base.Add(2 * 24 * time.Hour) })
	n, err := prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one pruned event, got %d", n)
	}
	left, err := s.QueryAudit(ctx, storage.AuditQuery{To: base.Add(72 * time.Hour)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("expected two events after prune, got %d", len(left))
	}
}

func TestAuditDefaultsTimestamp(t *testing.T) {
	s := openTemp(t)
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	if err := s.SaveAudit(context.Background(), storage.AuditEvent{Action: "terminate"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.QueryAudit(context.Background(), storage.AuditQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || !got[0].TS.Equal(fixed) {
		t.Fatalf("unexpected events: %#v", got)
	}
}

package storage

import (
	"context"
	"time"
)

// AuditWriter позволяет использовать Store как AuditSink.
type AuditWriter interface {
	Write(ctx context.Context, ev AuditEvent) error
}

// PruneFunc возвращает задачу планировщика, удаляющую события старше retention.
func PruneFunc(store Store, retention time.Duration, now func() time.Time) func(ctx context.Context) (int64, error) {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (int64, error) {
		return store.PruneAudit(ctx, now().Add(-retention))
	}
}

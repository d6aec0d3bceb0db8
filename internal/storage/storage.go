// Package storage описывает журнал вызовов команд.
package storage

import (
	"context"
	"time"
)

// AuditEvent фиксирует один вызов команды через транспорт.
type AuditEvent struct {
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Payload   []byte    `json:"payload,omitempty"`
	TS        time.Time `json:"ts"`
}

// AuditQuery задает фильтры выборки аудита.
type AuditQuery struct {
	From    time.Time
	To      time.Time
	Subject string
	Action  string
	Limit   int
}

// Пределы выборки QueryAudit.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)

// Normalize подставляет значения по умолчанию и ограничивает Limit.
func (q AuditQuery) Normalize(now time.Time) AuditQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultAuditLimit
	case q.Limit > MaxAuditLimit:
		q.Limit = MaxAuditLimit
	}
	if q.From.IsZero() {
		q.From = time.Unix(0, 0).UTC()
	}
	if q.To.IsZero() {
		q.To = now.UTC()
	}
	return q
}

// CommandStat — число вызовов команды с данным статусом.
type CommandStat struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Store описывает операции хранилища аудита.
type Store interface {
	AuditWriter
	SaveAudit(ctx context.Context, ev AuditEvent) error
	QueryAudit(ctx context.Context, q AuditQuery) ([]AuditEvent, error)
	Stats(ctx context.Context, since time.Time) ([]CommandStat, error)
	// PruneAudit удаляет события старше before и возвращает их число.
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

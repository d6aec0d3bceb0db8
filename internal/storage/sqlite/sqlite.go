package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"cmdbridge/internal/storage"
)

// Store реализует storage.Store поверх SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open инициализирует соединение и выполняет миграции.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Время хранится в миллисекундах Unix, чтобы сравнение и сортировка шли по числу.
func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			payload BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_subject_ts ON audit_events(subject, ts_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action_ts ON audit_events(action, ts_ms);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveAudit сохраняет аудиторное событие.
func (s *Store) SaveAudit(ctx context.Context, ev storage.AuditEvent) error {
	ts := ev.TS
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_events(subject, action, source, status, request_id, payload, ts_ms) VALUES(?,?,?,?,?,?,?)`,
		ev.Subject, ev.Action, ev.Source, ev.Status, ev.RequestID, ev.Payload, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// QueryAudit возвращает аудит по фильтрам, новые события первыми.
func (s *Store) QueryAudit(ctx context.Context, q storage.AuditQuery) ([]storage.AuditEvent, error) {
	q = q.Normalize(s.now())
	rows, err := s.db.QueryContext(ctx, `
SELECT subject, action, source, status, request_id, payload, ts_ms
FROM audit_events
WHERE ts_ms >= ? AND ts_ms <= ?
  AND (? = '' OR subject = ?)
  AND (? = '' OR action = ?)
ORDER BY ts_ms DESC, id DESC
LIMIT ?`, q.From.UnixMilli(), q.To.UnixMilli(), q.Subject, q.Subject, q.Action, q.Action, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	events := make([]storage.AuditEvent, 0, q.Limit)
	for rows.Next() {
		var ev storage.AuditEvent
		var ms int64
		if err := rows.Scan(&ev.Subject, &ev.Action, &ev.Source, &ev.Status, &ev.RequestID, &ev.Payload, &ms); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		ev.TS = time.UnixMilli(ms).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return events, nil
}

// Stats считает вызовы по команде и статусу начиная с since.
func (s *Store) Stats(ctx context.Context, since time.Time) ([]storage.CommandStat, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT action, status, COUNT(*)
FROM audit_events
WHERE ts_ms >= ?
GROUP BY action, status
ORDER BY action, status`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []storage.CommandStat
	for rows.Next() {
		var st storage.CommandStat
		if err := rows.Scan(&st.Action, &st.Status, &st.Count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// PruneAudit удаляет события старше before.
func (s *Store) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE ts_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	return n, nil
}

// Write реализует общий AuditSink интерфейс.
func (s *Store) Write(ctx context.Context, ev storage.AuditEvent) error {
	return s.SaveAudit(ctx, ev)
}

// Close закрывает соединение.
func (s *Store) Close() error {
	return s.db.Close()
}

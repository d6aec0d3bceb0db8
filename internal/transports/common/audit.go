package common

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"cmdbridge/internal/storage"
)

// AuditSink записывает аудиторные события.
type AuditSink interface {
	Write(ctx context.Context, ev storage.AuditEvent) error
}

type requestIDKey struct{}

// NewRequestID возвращает новый идентификатор запроса.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID сохраняет идентификатор запроса в контексте.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext возвращает идентификатор запроса или пустую строку.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// SanitizeRequestID принимает клиентский идентификатор только из безопасных символов.
func SanitizeRequestID(v string) string {
	id := strings.TrimSpace(v)
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, ch := range id {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		switch ch {
		case '-', '_', '.', ':':
			continue
		default:
			return ""
		}
	}
	return id
}

func buildAuditPayload(module, command string, args json.RawMessage, errorCode string) []byte {
	body := map[string]interface{}{
		"module":  module,
		"command": command,
	}
	if len(args) > 0 && json.Valid(args) {
		body["args"] = args
	}
	if errorCode != "" {
		body["error_code"] = errorCode
	}
	payload, _ := json.Marshal(body)
	return payload
}

package logger

import (
	"io"
	"log/slog"
	"os"
)

// New возвращает JSON-логгер в stderr; уровень из LOG_LEVEL перекрывает level.
// Stdout остается за полезной нагрузкой команд.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter создает JSON-логгер поверх произвольного writer.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel разбирает уровень; LOG_LEVEL имеет приоритет, по умолчанию info.
func ParseLevel(level string) slog.Level {
	parsed := slog.LevelInfo
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		return parsed
	}
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

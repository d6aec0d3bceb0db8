package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/shlex"

	"cmdbridge/internal/core"
	"cmdbridge/internal/storage"
)

// Коды отказа пайплайна, общие для всех транспортов.
const (
	CodeBadCommand   = "bad_command"
	CodeAccessDenied = "access_denied"
	CodeRateLimited  = "rate_limited"
)

var (
	errEmptyCommand = errors.New("empty command")
	errAccessDenied = errors.New("access denied")
	errRateLimited  = errors.New("rate limit exceeded")
)

// IsAccessDenied сообщает, что вызов отклонен authorizer.
func IsAccessDenied(err error) bool { return errors.Is(err, errAccessDenied) }

// IsRateLimited сообщает, что вызов отклонен ограничителем частоты.
func IsRateLimited(err error) bool { return errors.Is(err, errRateLimited) }

// Service объединяет общий пайплайн command->authz->ratelimit->core.
type Service struct {
	Source      string
	Registry    *core.Registry
	Authorizer  core.Authorizer
	RateLimiter *RateLimiter
	AuditSink   AuditSink
	Logger      *slog.Logger
}

// Execute проверяет доступ и частоту, затем вызывает команду по имени.
// Ошибка дублирует отказ пайплайна или роутера; отказ самой команды
// приходит только в Response.
func (s *Service) Execute(ctx context.Context, subjectID, name string, args json.RawMessage) (core.Response, error) {
	return s.invoke(ctx, subjectID, name, args, nil)
}

// invoke проводит вызов через пайплайн. Ошибка разбора аргументов bindErr
// возвращается только после authz и лимита.
func (s *Service) invoke(ctx context.Context, subjectID, name string, args json.RawMessage, bindErr error) (core.Response, error) {
	start := time.Now()
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = NewRequestID()
		ctx = WithRequestID(ctx, requestID)
	}
	module, _ := s.Registry.Module(name)
	subject := core.Subject{Source: s.Source, ID: subjectID}
	action := core.Action{Module: module, Command: name}

	resp, err := s.execute(ctx, subject, action, args, bindErr)

	status := "ok"
	switch {
	case IsAccessDenied(err):
		status = "denied"
	case IsRateLimited(err):
		status = "rate_limited"
	case err != nil || resp.Failed():
		status = "error"
	}
	s.writeAudit(ctx, storage.AuditEvent{
		Subject:   subjectID,
		Action:    name,
		Source:    s.Source,
		Status:    status,
		RequestID: requestID,
		Payload:   buildAuditPayload(module, name, args, resp.ErrorCode),
	})
	s.logger().Info("command invoked",
		"source", s.Source,
		"subject", subjectID,
		"cmd", name,
		"status", status,
		"error_code", resp.ErrorCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

func (s *Service) execute(ctx context.Context, subject core.Subject, action core.Action, args json.RawMessage, bindErr error) (core.Response, error) {
	if s.Authorizer == nil {
		return core.Fail(CodeAccessDenied, "access denied"), fmt.Errorf("no authorizer: %w", errAccessDenied)
	}
	if err := s.Authorizer.Authorize(subject, action); err != nil {
		return core.Fail(CodeAccessDenied, "access denied"), fmt.Errorf("%w: %v", errAccessDenied, err)
	}
	if s.RateLimiter != nil && !s.RateLimiter.Allow(subject.Source+":"+subject.ID, time.Now()) {
		return core.Fail(CodeRateLimited, "rate limit exceeded"), errRateLimited
	}
	if bindErr != nil {
		return core.Fail(core.CodeInvalidArguments, bindErr.Error()), bindErr
	}
	return s.Registry.Execute(ctx, action.Command, args)
}

// ExecuteText разбирает строку вида "name arg1 arg2" или "name {json}"
// и вызывает команду через Execute.
func (s *Service) ExecuteText(ctx context.Context, subjectID, text string) (core.Response, error) {
	tc, err := ParseTextCommand(text)
	if err != nil {
		return core.Fail(CodeBadCommand, err.Error()), err
	}
	if tc.JSON != nil {
		return s.Execute(ctx, subjectID, tc.Name, tc.JSON)
	}
	return s.ExecuteTokens(ctx, subjectID, tc.Name, tc.Tokens)
}

// ExecuteTokens связывает позиционные токены с объявленными аргументами
// команды и вызывает ее через тот же пайплайн, что и Execute.
func (s *Service) ExecuteTokens(ctx context.Context, subjectID, name string, tokens []string) (core.Response, error) {
	var (
		args    json.RawMessage
		bindErr error
	)
	if params, err := s.Registry.Params(name); err == nil {
		args, bindErr = core.BindTokens(params, tokens)
	}
	return s.invoke(ctx, subjectID, name, args, bindErr)
}

func (s *Service) writeAudit(ctx context.Context, ev storage.AuditEvent) {
	if s.AuditSink == nil {
		return
	}
	if err := s.AuditSink.Write(context.WithoutCancel(ctx), ev); err != nil {
		s.logger().Warn("audit write failed", "cmd", ev.Action, "request_id", ev.RequestID, "err", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// TextCommand — разобранная текстовая команда.
// Заполнено либо Tokens, либо JSON.
type TextCommand struct {
	Name   string
	Tokens []string
	JSON   json.RawMessage
}

// ParseTextCommand переводит текст в имя команды и аргументы.
// Форматы: "name arg1 'arg 2'" (кавычки как в shell) и "name {json}".
func ParseTextCommand(text string) (TextCommand, error) {
	t := strings.TrimPrefix(strings.TrimSpace(text), "/")
	if t == "" {
		return TextCommand{}, errEmptyCommand
	}
	name, rest, _ := strings.Cut(t, " ")
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "{") {
		raw := []byte(rest)
		if !json.Valid(raw) {
			return TextCommand{}, fmt.Errorf("invalid json arguments for %s: %w", name, errEmptyCommand)
		}
		return TextCommand{Name: name, JSON: bytes.Clone(raw)}, nil
	}
	tokens, err := shlex.Split(t)
	if err != nil {
		return TextCommand{}, fmt.Errorf("split %q: %w", t, err)
	}
	if len(tokens) == 0 {
		return TextCommand{}, errEmptyCommand
	}
	return TextCommand{Name: tokens[0], Tokens: tokens[1:]}, nil
}

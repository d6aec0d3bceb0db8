package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	errProviderExists   = errors.New("provider already registered")
	errCommandExists    = errors.New("command already registered")
	errUnknownCommand   = errors.New("unknown command")
	errInvalidArguments = errors.New("invalid arguments")
	errSealed           = errors.New("registry is sealed")
	errHandlerPanic     = errors.New("handler panicked")
)

// IsUnknownCommand сообщает, что вызов адресован незарегистрированной команде.
func IsUnknownCommand(err error) bool { return errors.Is(err, errUnknownCommand) }

// IsInvalidArguments сообщает, что аргументы вызова не прошли проверку.
func IsInvalidArguments(err error) bool { return errors.Is(err, errInvalidArguments) }

type entry struct {
	module  string
	handler Handler
}

// Registry хранит таблицу команд и выполняет их по имени.
// После Seal таблица неизменяема и читается без блокировок.
type Registry struct {
	providers map[string]struct{}
	commands  map[string]entry
	sealed    bool
}

// NewRegistry создает пустой реестр команд.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]struct{}),
		commands:  make(map[string]entry),
	}
}

// Register добавляет модуль и все его команды; имена должны быть уникальны.
func (r *Registry) Register(ctx context.Context, provider CommandProvider) error {
	if r.sealed {
		return errSealed
	}
	if provider == nil {
		return fmt.Errorf("provider is nil: %w", errInvalidArguments)
	}
	name := provider.Name()
	if name == "" {
		return fmt.Errorf("provider name is empty: %w", errInvalidArguments)
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%s: %w", name, errProviderExists)
	}
	handlers := provider.Commands()
	seen := make(map[string]struct{}, len(handlers))
	for _, h := range handlers {
		if h == nil || h.Name() == "" {
			return fmt.Errorf("%s: command name is empty: %w", name, errInvalidArguments)
		}
		if _, exists := r.commands[h.Name()]; exists {
			return fmt.Errorf("%s: %w", h.Name(), errCommandExists)
		}
		if _, exists := seen[h.Name()]; exists {
			return fmt.Errorf("%s: %w", h.Name(), errCommandExists)
		}
		seen[h.Name()] = struct{}{}
	}
	if err := provider.Init(ctx); err != nil {
		return fmt.Errorf("init %s: %w", name, err)
	}
	r.providers[name] = struct{}{}
	for _, h := range handlers {
		r.commands[h.Name()] = entry{module: name, handler: h}
	}
	return nil
}

// Seal замораживает таблицу команд.
func (r *Registry) Seal() { r.sealed = true }

// Execute вызывает команду по точному имени.
// Ошибка возвращается только для сбоев уровня роутера; отказ обработчика
// передается вариантом ошибки в Response.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (resp Response, err error) {
	e, ok := r.commands[name]
	if !ok {
		return Fail(CodeUnknownCommand, fmt.Sprintf("unknown command %q", name)), fmt.Errorf("%s: %w", name, errUnknownCommand)
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp = Fail(CodeInternal, fmt.Sprintf("command %s failed", name))
			err = fmt.Errorf("%s: %v: %w", name, rec, errHandlerPanic)
		}
	}()

	resp = e.handler.Invoke(ctx, args)
	if resp.Status == StatusError && resp.ErrorCode == CodeInvalidArguments {
		return resp, fmt.Errorf("%s: %s: %w", name, resp.Message, errInvalidArguments)
	}
	return resp, nil
}

// Params возвращает объявленные аргументы команды.
func (r *Registry) Params(name string) ([]Param, error) {
	e, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, errUnknownCommand)
	}
	return e.handler.Params(), nil
}

// Module возвращает имя модуля, которому принадлежит команда.
func (r *Registry) Module(name string) (string, bool) {
	e, ok := r.commands[name]
	return e.module, ok
}

// Commands возвращает отсортированный список зарегистрированных команд.
func (r *Registry) Commands() []CommandInfo {
	out := make([]CommandInfo, 0, len(r.commands))
	for name, e := range r.commands {
		out = append(out, CommandInfo{Name: name, Module: e.module, Params: e.handler.Params()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Providers возвращает список зарегистрированных модулей.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

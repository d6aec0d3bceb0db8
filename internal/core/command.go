package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CommandFunc исполняет команду с уже разобранными аргументами.
type CommandFunc[A any] func(ctx context.Context, args A) Response

type command[A any] struct {
	name   string
	params []Param
	fn     CommandFunc[A]
}

// Command связывает типизированную структуру аргументов A с обработчиком.
// Аргументы проверяются по params до вызова fn.
func Command[A any](name string, params []Param, fn CommandFunc[A]) Handler {
	return &command[A]{name: name, params: params, fn: fn}
}

func (c *command[A]) Name() string { return c.name }

func (c *command[A]) Params() []Param {
	return append([]Param(nil), c.params...)
}

func (c *command[A]) Invoke(ctx context.Context, raw json.RawMessage) Response {
	args, err := decodeArgs[A](raw, c.params)
	if err != nil {
		return Fail(CodeInvalidArguments, err.Error())
	}
	return c.fn(ctx, args)
}

func decodeArgs[A any](raw json.RawMessage, params []Param) (A, error) {
	var args A
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return args, fmt.Errorf("arguments must be a JSON object: %w", errInvalidArguments)
	}
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p.Name] = struct{}{}
		value, ok := fields[p.Name]
		if !ok {
			if !p.Optional {
				return args, fmt.Errorf("missing argument %q: %w", p.Name, errInvalidArguments)
			}
			continue
		}
		// null допустим только для необязательного списка строк.
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) && (!p.Optional || p.Kind != KindStrings) {
			return args, fmt.Errorf("argument %q must be %s, got null: %w", p.Name, p.Kind, errInvalidArguments)
		}
	}
	for name := range fields {
		if _, ok := known[name]; !ok {
			return args, fmt.Errorf("unknown argument %q: %w", name, errInvalidArguments)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return args, fmt.Errorf("argument %q must be %s: %w", typeErr.Field, typeErr.Type, errInvalidArguments)
		}
		return args, fmt.Errorf("decode arguments: %w", errInvalidArguments)
	}
	return args, nil
}

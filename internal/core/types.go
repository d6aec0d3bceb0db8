package core

import (
	"context"
	"encoding/json"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Коды ошибок уровня роутера.
const (
	CodeUnknownCommand   = "unknown_command"
	CodeInvalidArguments = "invalid_arguments"
	CodeInternal         = "internal_error"
)

// Response описывает унифицированный результат выполнения команды.
// Заполнен ровно один вариант: Data при ok, ErrorCode и Message при error.
type Response struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// OK возвращает успешный ответ с полезной нагрузкой.
func OK(data interface{}) Response {
	return Response{Status: StatusOK, Data: data}
}

// Fail возвращает ответ-ошибку; пустое сообщение заменяется кодом.
func Fail(code, message string) Response {
	if message == "" {
		message = code
	}
	return Response{Status: StatusError, ErrorCode: code, Message: message}
}

// Failed сообщает, что ответ несет вариант ошибки.
func (r Response) Failed() bool { return r.Status != StatusOK }

// Invocation описывает один вызов команды по имени.
type Invocation struct {
	Name string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ParamKind задает тип аргумента команды.
type ParamKind int

const (
	KindString ParamKind = iota
	KindInt
	KindStrings
)

func (k ParamKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindStrings:
		return "[]string"
	default:
		return "unknown"
	}
}

// Param описывает объявленный аргумент команды.
type Param struct {
	Name     string    `json:"name"`
	Kind     ParamKind `json:"-"`
	Optional bool      `json:"optional,omitempty"`
}

// MarshalJSON отдает тип аргумента строкой.
func (p Param) MarshalJSON() ([]byte, error) {
	type alias Param
	return json.Marshal(struct {
		alias
		Type string `json:"type"`
	}{alias: alias(p), Type: p.Kind.String()})
}

// Handler реализует одну именованную команду.
type Handler interface {
	Name() string
	Params() []Param
	Invoke(ctx context.Context, args json.RawMessage) Response
}

// CommandProvider определяет контракт для модулей.
type CommandProvider interface {
	Name() string
	Init(ctx context.Context) error
	Commands() []Handler
}

// CommandInfo описывает зарегистрированную команду.
type CommandInfo struct {
	Name   string  `json:"name"`
	Module string  `json:"module"`
	Params []Param `json:"params"`
}

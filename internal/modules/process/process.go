package process

import (
	"context"
	"errors"

	"cmdbridge/internal/core"
	"cmdbridge/internal/i18n"
)

// CommandName — имя команды запуска процесса.
const CommandName = "run-process"

// Коды отказа run-process.
const (
	CodeSpawnFailed       = "spawn_failed"
	CodeDecodeError       = "decode_error"
	CodeTimeout           = "timeout"
	CodeProgramNotAllowed = "program_not_allowed"
	CodeCanceled          = "canceled"
	CodeExecFailed        = "exec_failed"
)

// Module публикует Executor как команду run-process.
type Module struct {
	Exec *Executor
	Text *i18n.Localizer
}

type args struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

func (m *Module) Name() string { return "process" }

func (m *Module) Init(ctx context.Context) error {
	if m.Exec == nil {
		ex, err := NewExecutor(Options{})
		if err != nil {
			return err
		}
		m.Exec = ex
	}
	return nil
}

func (m *Module) Commands() []core.Handler {
	return []core.Handler{
		core.Command(CommandName, []core.Param{
			{Name: "program", Kind: core.KindString},
			{Name: "args", Kind: core.KindStrings, Optional: true},
		}, m.run),
	}
}

func (m *Module) run(ctx context.Context, a args) core.Response {
	out, err := m.Exec.Run(ctx, Spec{Program: a.Program, Args: a.Args})
	if err != nil {
		return m.failure(err)
	}
	return core.OK(out)
}

// failure переводит ошибку исполнителя в текст для клиента, без сырых структур ОС.
func (m *Module) failure(err error) core.Response {
	var spawnErr *SpawnError
	switch {
	case errors.As(err, &spawnErr):
		return core.Fail(CodeSpawnFailed, spawnErr.Error())
	case errors.Is(err, ErrDecode):
		msg := ErrDecode.Error()
		if m.Text != nil {
			msg = m.Text.Text(i18n.KeyDecodeError)
		}
		return core.Fail(CodeDecodeError, msg)
	case errors.Is(err, ErrTimeout):
		return core.Fail(CodeTimeout, err.Error())
	case errors.Is(err, ErrNotAllowed):
		return core.Fail(CodeProgramNotAllowed, err.Error())
	case errors.Is(err, context.Canceled):
		return core.Fail(CodeCanceled, err.Error())
	default:
		return core.Fail(CodeExecFailed, err.Error())
	}
}

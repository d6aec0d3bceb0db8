// Package lifecycle завершает процесс моста по команде клиента.
package lifecycle

import (
	"context"
	"os"

	"cmdbridge/internal/core"
)

// CommandName — имя команды завершения.
const CommandName = "terminate"

// ExitCode передается функции выхода.
const ExitCode = 0

// Module публикует команду terminate.
type Module struct {
	// Exit завершает процесс; по умолчанию os.Exit.
	Exit func(code int)
}

func (m *Module) Name() string { return "lifecycle" }

func (m *Module) Init(ctx context.Context) error {
	if m.Exit == nil {
		m.Exit = os.Exit
	}
	return nil
}

func (m *Module) Commands() []core.Handler {
	return []core.Handler{
		core.Command(CommandName, nil, m.terminate),
	}
}

// Terminate завершает процесс без сброса буферов и не возвращает управление.
func (m *Module) Terminate() {
	m.Exit(ExitCode)
	panic("lifecycle: exit function returned")
}

func (m *Module) terminate(ctx context.Context, _ struct{}) core.Response {
	m.Terminate()
	return core.Response{}
}

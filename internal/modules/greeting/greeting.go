package greeting

import (
	"context"

	"cmdbridge/internal/core"
	"cmdbridge/internal/i18n"
)

// CommandName — имя команды приветствия.
const CommandName = "custom-greeting"

// Module отдает приветствие с сообщением клиента.
type Module struct {
	Text *i18n.Localizer
}

type args struct {
	Message string `json:"message"`
}

func (m *Module) Name() string { return "greeting" }

func (m *Module) Init(ctx context.Context) error {
	return nil
}

func (m *Module) Commands() []core.Handler {
	return []core.Handler{
		core.Command(CommandName, []core.Param{{Name: "message", Kind: core.KindString}}, m.greet),
	}
}

// Greet форматирует приветствие; результат всегда содержит message.
func (m *Module) Greet(message string) string {
	if m.Text == nil {
		return "Hello " + message
	}
	return m.Text.Text(i18n.KeyGreeting, message)
}

func (m *Module) greet(ctx context.Context, a args) core.Response {
	return core.OK(m.Greet(a.Message))
}

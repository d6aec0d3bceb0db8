package guess

import (
	"context"

	"cmdbridge/internal/core"
	"cmdbridge/internal/i18n"
)

// CommandName — имя команды угадывания числа.
const CommandName = "guess-number"

// Module публикует Judge как команду. Отображение Verdict на ok/error
// живет здесь, доменная часть о нем не знает.
type Module struct {
	Judge *Judge
	Text  *i18n.Localizer
}

type args struct {
	Guess int `json:"guess"`
}

func (m *Module) Name() string { return "guess" }

func (m *Module) Init(ctx context.Context) error {
	if m.Judge == nil {
		j, err := NewJudge(1, 100, nil)
		if err != nil {
			return err
		}
		m.Judge = j
	}
	return nil
}

func (m *Module) Commands() []core.Handler {
	return []core.Handler{
		core.Command(CommandName, []core.Param{{Name: "guess", Kind: core.KindInt}}, m.guess),
	}
}

func (m *Module) guess(ctx context.Context, a args) core.Response {
	return m.Respond(m.Judge.Judge(a.Guess))
}

// Respond переводит вердикт в ответ границы: только Correct успешен.
func (m *Module) Respond(v Verdict) core.Response {
	switch v {
	case Correct:
		return core.OK(m.text(i18n.KeyCorrect, "correct"))
	case TooHigh:
		return core.Fail(v.String(), m.text(i18n.KeyTooHigh, "too high"))
	default:
		return core.Fail(TooLow.String(), m.text(i18n.KeyTooLow, "too low"))
	}
}

func (m *Module) text(key, fallback string) string {
	if m.Text == nil {
		return fallback
	}
	return m.Text.Text(key)
}

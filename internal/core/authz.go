package core

import (
	"fmt"
	"strings"
)

// Wildcard в allowlist разрешает любой subject источника.
const Wildcard = "*"

// Subject описывает источник вызова и его идентификатор.
type Subject struct {
	Source string
	ID     string
}

// Action описывает вызываемую команду.
type Action struct {
	Module  string
	Command string
}

// Authorizer отвечает за решение доступа к команде.
type Authorizer interface {
	Authorize(subject Subject, action Action) error
}

// AllowlistAuthorizer реализует deny-by-default по source/id.
// Запись вида "id:command" ограничивает subject одной командой.
type AllowlistAuthorizer struct {
	allowed map[string]map[string]map[string]struct{}
}

// NewAllowlistAuthorizer создает authorizer из map[source][]rule.
func NewAllowlistAuthorizer(src map[string][]string) *AllowlistAuthorizer {
	allowed := make(map[string]map[string]map[string]struct{}, len(src))
	for source, rules := range src {
		ids := make(map[string]map[string]struct{}, len(rules))
		for _, rule := range rules {
			id, cmd := splitRule(rule)
			if id == "" {
				continue
			}
			cmds, ok := ids[id]
			if !ok {
				cmds = make(map[string]struct{})
				ids[id] = cmds
			}
			cmds[cmd] = struct{}{}
		}
		allowed[source] = ids
	}
	return &AllowlistAuthorizer{allowed: allowed}
}

func splitRule(rule string) (string, string) {
	id, cmd, ok := strings.Cut(strings.TrimSpace(rule), ":")
	if !ok || cmd == "" {
		return id, Wildcard
	}
	return id, cmd
}

// Authorize возвращает ошибку, если subject не в allowlist.
func (a *AllowlistAuthorizer) Authorize(subject Subject, action Action) error {
	if subject.Source == "" || subject.ID == "" {
		return fmt.Errorf("empty subject: %w", errInvalidArguments)
	}
	bySource, ok := a.allowed[subject.Source]
	if !ok {
		return fmt.Errorf("source %s is not allowed", subject.Source)
	}
	for _, id := range []string{subject.ID, Wildcard} {
		cmds, ok := bySource[id]
		if !ok {
			continue
		}
		if _, ok := cmds[Wildcard]; ok {
			return nil
		}
		if _, ok := cmds[action.Command]; ok {
			return nil
		}
	}
	return fmt.Errorf("subject %s/%s is not allowed to call %s", subject.Source, subject.ID, action.Command)
}

package core

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// BindTokens переводит позиционные токены (CLI, shell) в JSON-объект аргументов.
// Параметр KindStrings забирает все оставшиеся токены.
func BindTokens(params []Param, tokens []string) (json.RawMessage, error) {
	out := make(map[string]interface{}, len(params))
	i := 0
	for _, p := range params {
		if p.Kind == KindStrings {
			rest := append([]string{}, tokens[i:]...)
			out[p.Name] = rest
			i = len(tokens)
			continue
		}
		if i >= len(tokens) {
			if p.Optional {
				continue
			}
			return nil, fmt.Errorf("missing argument %q: %w", p.Name, errInvalidArguments)
		}
		tok := tokens[i]
		i++
		switch p.Kind {
		case KindInt:
			n, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("argument %q must be int: %w", p.Name, errInvalidArguments)
			}
			out[p.Name] = n
		default:
			out[p.Name] = tok
		}
	}
	if i < len(tokens) {
		return nil, fmt.Errorf("unexpected argument %q: %w", tokens[i], errInvalidArguments)
	}
	return json.Marshal(out)
}

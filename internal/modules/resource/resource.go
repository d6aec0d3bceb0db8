package resource

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cmdbridge/internal/core"
)

// CommandName — имя команды чтения ресурса.
const CommandName = "read-resource"

// CodeReadFailed — код отказа чтения ресурса.
const CodeReadFailed = "read_failed"

var errPathEmpty = errors.New("resource path is empty")

// Module читает заранее известный файл целиком и отдает байты как есть.
type Module struct {
	Path string
}

func (m *Module) Name() string { return "resource" }

// Init не проверяет наличие файла: ресурс может появиться позже.
func (m *Module) Init(ctx context.Context) error {
	if m.Path == "" {
		return errPathEmpty
	}
	return nil
}

func (m *Module) Commands() []core.Handler {
	return []core.Handler{
		core.Command(CommandName, nil, m.read),
	}
}

// Read возвращает содержимое ресурса байт в байт.
func (m *Module) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("read resource: %w", err)
	}
	return data, nil
}

func (m *Module) read(ctx context.Context, _ struct{}) core.Response {
	data, err := m.Read(ctx)
	if err != nil {
		return core.Fail(CodeReadFailed, err.Error())
	}
	return core.OK(data)
}

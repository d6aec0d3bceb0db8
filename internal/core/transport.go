package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	errTransportExists  = errors.New("transport already registered")
	errUnknownTransport = errors.New("unknown transport")
)

// TransportAdapter определяет жизненный цикл входного транспорта.
type TransportAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TransportManager управляет запуском и остановкой транспортов.
// Транспорты стартуют в порядке регистрации и останавливаются в обратном.
type TransportManager struct {
	mu         sync.Mutex
	order      []string
	transports map[string]TransportAdapter
}

// NewTransportManager создает пустой менеджер транспортов.
func NewTransportManager() *TransportManager {
	return &TransportManager{transports: make(map[string]TransportAdapter)}
}

// Register добавляет транспорт; имена должны быть уникальны.
func (m *TransportManager) Register(adapter TransportAdapter) error {
	if adapter == nil {
		return fmt.Errorf("transport is nil: %w", errInvalidArguments)
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("transport name is empty: %w", errInvalidArguments)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transports[name]; exists {
		return fmt.Errorf("%s: %w", name, errTransportExists)
	}
	m.transports[name] = adapter
	m.order = append(m.order, name)
	return nil
}

// Names возвращает имена транспортов в порядке регистрации.
func (m *TransportManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *TransportManager) snapshot() []TransportAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]TransportAdapter, 0, len(m.order))
	for _, name := range m.order {
		list = append(list, m.transports[name])
	}
	return list
}

// StartAll запускает все зарегистрированные транспорты.
// При ошибке уже запущенные транспорты останавливаются.
func (m *TransportManager) StartAll(ctx context.Context) error {
	list := m.snapshot()
	for i, tr := range list {
		if err := tr.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = list[j].Stop(ctx)
			}
			return fmt.Errorf("start transport %s: %w", tr.Name(), err)
		}
	}
	return nil
}

// StopAll останавливает все транспорты; возвращает объединенную ошибку.
func (m *TransportManager) StopAll(ctx context.Context) error {
	list := m.snapshot()
	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		if err := list[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop transport %s: %w", list[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// StopOne останавливает конкретный транспорт по имени.
func (m *TransportManager) StopOne(ctx context.Context, name string) error {
	m.mu.Lock()
	tr, ok := m.transports[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, errUnknownTransport)
	}
	if err := tr.Stop(ctx); err != nil {
		return fmt.Errorf("stop transport %s: %w", tr.Name(), err)
	}
	return nil
}

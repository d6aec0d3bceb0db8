// Package natsbus публикует команды реестра как сервис NATS micro.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"golang.org/x/mod/semver"

	"cmdbridge/internal/core"
	"cmdbridge/internal/transports/common"
)

// Заголовки запроса, которые читает адаптер.
const (
	HeaderSubjectID = "Subject-ID"
	HeaderRequestID = "Request-ID"
)

// AnonymousSubject используется, когда запрос пришел без Subject-ID.
const AnonymousSubject = "anonymous"

// Config определяет параметры NATS-транспорта.
type Config struct {
	URL       string
	Prefix    string
	CredsFile string
	Name      string
	Version   string
}

// Adapter поднимает по одному endpoint'у на команду: <prefix>.<name>.
type Adapter struct {
	svc    *common.Service
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	nc    *nats.Conn
	micro micro.Service
}

// NewAdapter создает NATS transport.
func NewAdapter(svc *common.Service, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "BRIDGE"
	}
	if cfg.Name == "" {
		cfg.Name = "cmdbridge"
	}
	cfg.Version = strings.TrimPrefix(cfg.Version, "v")
	if !isSemver(cfg.Version) {
		cfg.Version = "0.0.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{svc: svc, cfg: cfg, logger: logger}
}

func (a *Adapter) Name() string { return "nats" }

// Start подключается к NATS и регистрирует endpoint'ы команд.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nc != nil {
		return errors.New("nats transport already started")
	}

	opts := []nats.Option{nats.Name(a.cfg.Name)}
	if a.cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(a.cfg.CredsFile))
	}
	nc, err := nats.Connect(a.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", a.cfg.URL, err)
	}

	svc, err := micro.AddService(nc, micro.Config{
		Name:        a.cfg.Name,
		Description: "Native command bridge",
		Version:     a.cfg.Version,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("add nats micro service: %w", err)
	}

	for _, info := range a.svc.Registry.Commands() {
		params, _ := json.Marshal(info.Params)
		err := svc.AddEndpoint(info.Name,
			micro.HandlerFunc(a.handle(info.Name)),
			micro.WithEndpointSubject(a.Subject(info.Name)),
			micro.WithEndpointMetadata(map[string]string{
				"module": info.Module,
				"params": string(params),
			}),
		)
		if err != nil {
			_ = svc.Stop()
			nc.Close()
			return fmt.Errorf("add endpoint %s: %w", info.Name, err)
		}
	}

	a.nc, a.micro = nc, svc
	a.logger.Info("nats transport started", "url", a.cfg.URL, "prefix", a.cfg.Prefix)
	go func() {
		<-ctx.Done()
		_ = a.Stop(context.Background())
	}()
	return nil
}

// Stop снимает endpoint'ы и закрывает соединение, дождавшись ответов.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	nc, svc := a.nc, a.micro
	a.nc, a.micro = nil, nil
	a.mu.Unlock()
	if nc == nil {
		return nil
	}
	var errs []error
	if svc != nil {
		errs = append(errs, svc.Stop())
	}
	errs = append(errs, nc.Drain())
	return errors.Join(errs...)
}

// Subject возвращает subject endpoint'а команды.
func (a *Adapter) Subject(command string) string {
	return a.cfg.Prefix + "." + command
}

func (a *Adapter) handle(name string) func(micro.Request) {
	return func(r micro.Request) {
		headers := r.Headers()
		subjectID := strings.TrimSpace(headers.Get(HeaderSubjectID))
		if subjectID == "" {
			subjectID = AnonymousSubject
		}
		requestID := common.SanitizeRequestID(headers.Get(HeaderRequestID))
		if requestID == "" {
			requestID = common.NewRequestID()
		}
		ctx := common.WithRequestID(context.Background(), requestID)

		resp, err := a.svc.Execute(ctx, subjectID, name, r.Data())
		body, mErr := json.Marshal(resp)
		if mErr != nil {
			a.logger.Error("nats response marshal failed", "cmd", name, "request_id", requestID, "err", mErr)
			_ = r.Error(core.CodeInternal, "response is not serializable", nil)
			return
		}
		if err != nil {
			// Отказ пайплайна помечается заголовком Nats-Service-Error, тело остается Response.
			err = r.Error(resp.ErrorCode, resp.Message, body)
		} else {
			err = r.Respond(body)
		}
		if err != nil {
			a.logger.Warn("nats respond failed", "cmd", name, "request_id", requestID, "err", err)
		}
	}
}

// isSemver проверяет версию в форме, которую принимает micro.AddService:
// полная тройка MAJOR.MINOR.PATCH без префикса "v".
func isSemver(v string) bool {
	sv := "v" + v
	base, _, _ := strings.Cut(sv, "+")
	return semver.IsValid(sv) && semver.Canonical(sv) == base
}

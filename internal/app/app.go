package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cmdbridge/internal/config"
	"cmdbridge/internal/core"
	"cmdbridge/internal/i18n"
	"cmdbridge/internal/modules/greeting"
	"cmdbridge/internal/modules/guess"
	"cmdbridge/internal/modules/lifecycle"
	"cmdbridge/internal/modules/process"
	"cmdbridge/internal/modules/resource"
	"cmdbridge/internal/storage"
	"cmdbridge/internal/storage/sqlite"
	"cmdbridge/internal/transports/common"
	"cmdbridge/internal/transports/natsbus"
	"cmdbridge/internal/transports/web"
)

// Источники вызовов для authorizer и аудита.
const (
	SourceCLI  = "cli"
	SourceWeb  = "web"
	SourceIPC  = "ipc"
	SourceNATS = "nats"
)

// App агрегирует зависимости ядра.
type App struct {
	Registry   *core.Registry
	Transports *core.TransportManager
	Authorizer core.Authorizer
	Limiter    *common.RateLimiter
	Store      storage.Store
	Config     config.Config
	Logger     *slog.Logger
	Version    string
}

// Options позволяют подменить части приложения.
type Options struct {
	Version string
	Logger  *slog.Logger
	// Exit завершает процесс по команде terminate; по умолчанию os.Exit.
	Exit func(code int)
}

// NewApp строит приложение: реестр модулей, хранилище аудита и транспорты.
func NewApp(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r, err := buildRegistry(ctx, cfg, logger, opts.Exit)
	if err != nil {
		return nil, err
	}

	a := &App{
		Registry:   r,
		Transports: core.NewTransportManager(),
		Authorizer: core.NewAllowlistAuthorizer(cfg.Security.AuthAllowlist),
		Config:     cfg,
		Logger:     logger,
		Version:    opts.Version,
	}

	if cfg.Security.RateLimit > 0 {
		a.Limiter = common.NewRateLimiter(cfg.Security.RateLimit, time.Duration(cfg.Security.RateWindowMS)*time.Millisecond)
	}
	if cfg.SQLite.Path != "" {
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.Store = st
	}

	if err := a.registerTransports(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func buildRegistry(ctx context.Context, cfg config.Config, logger *slog.Logger, exit func(int)) (*core.Registry, error) {
	cat, err := i18n.LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("load message catalog: %w", err)
	}
	text := cat.Localizer(cfg.Agent.Locale)

	judge, err := guess.NewJudge(cfg.Judge.Min, cfg.Judge.Max, nil)
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}
	executor, err := process.NewExecutor(process.Options{
		Timeout:   time.Duration(cfg.Process.TimeoutMS) * time.Millisecond,
		Encoding:  cfg.Process.OutputEncoding,
		Allowlist: cfg.Security.ExecAllowlist,
		Logger:    logger.With("module", "process"),
	})
	if err != nil {
		return nil, fmt.Errorf("process executor: %w", err)
	}

	r := core.NewRegistry()
	modules := []core.CommandProvider{
		&greeting.Module{Text: text},
		&guess.Module{Judge: judge, Text: text},
		&resource.Module{Path: cfg.Resource.Path},
		&process.Module{Exec: executor, Text: text},
		&lifecycle.Module{Exit: exit},
	}
	for _, m := range modules {
		if err := r.Register(ctx, m); err != nil {
			return nil, fmt.Errorf("register %s module: %w", m.Name(), err)
		}
	}
	r.Seal()
	logger.Debug("registry sealed", "modules", r.Providers(), "locale", text.Locale())
	return r, nil
}

// NewService возвращает пайплайн вызовов для источника.
func (a *App) NewService(source string) *common.Service {
	svc := &common.Service{
		Source:      source,
		Registry:    a.Registry,
		Authorizer:  a.Authorizer,
		RateLimiter: a.Limiter,
		Logger:      a.Logger.With("transport", source),
	}
	if a.Store != nil {
		svc.AuditSink = a.Store
	}
	return svc
}

// Service возвращает пайплайн CLI.
func (a *App) Service() *common.Service {
	return a.NewService(SourceCLI)
}

func (a *App) registerTransports() error {
	cfg := a.Config
	if cfg.Web.Enabled {
		tokens := make([]web.TokenEntry, 0, len(cfg.Web.Auth.Tokens))
		for _, token := range cfg.Web.Auth.Tokens {
			tokens = append(tokens, web.TokenEntry{
				ID:          token.ID,
				TokenSHA256: token.TokenSHA256,
				Subject:     token.Subject,
				Roles:       token.Roles,
				Enabled:     token.Enabled,
			})
		}
		webAdapter := web.NewAdapter(a.NewService(SourceWeb), a.NewService(SourceIPC), a.Store, web.Config{
			ListenAddr:               cfg.Web.ListenAddr,
			ReadTimeout:              time.Duration(cfg.Web.ReadTimeoutMS) * time.Millisecond,
			WriteTimeout:             time.Duration(cfg.Web.WriteTimeoutMS) * time.Millisecond,
			RequestTimeout:           time.Duration(cfg.Web.RequestTimeoutMS) * time.Millisecond,
			ShutdownTimeout:          time.Duration(cfg.Web.ShutdownTimeoutS) * time.Second,
			MaxRequestBody:           cfg.Web.MaxBodyBytes,
			AllowLegacySubjectHeader: cfg.Web.Auth.AllowLegacySubjectHeader,
			Tokens:                   tokens,
			CORSAllowedOrigins:       cfg.Web.CORS.AllowedOrigins,
		}, a.Logger.With("transport", SourceWeb))
		if err := a.Transports.Register(webAdapter); err != nil {
			return fmt.Errorf("register web transport: %w", err)
		}
	}
	if cfg.NATS.Enabled {
		natsAdapter := natsbus.NewAdapter(a.NewService(SourceNATS), natsbus.Config{
			URL:       cfg.NATS.URL,
			Prefix:    cfg.NATS.Prefix,
			CredsFile: cfg.NATS.CredsFile,
			Version:   a.Version,
		}, a.Logger.With("transport", SourceNATS))
		if err := a.Transports.Register(natsAdapter); err != nil {
			return fmt.Errorf("register nats transport: %w", err)
		}
	}
	return nil
}

// Close высвобождает ресурсы приложения.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// Serve запускает транспорты и планировщик обслуживания до отмены ctx.
func (a *App) Serve(ctx context.Context) error {
	if len(a.Transports.Names()) == 0 {
		a.Logger.Warn("no network transports enabled")
	}
	if err := a.Transports.StartAll(ctx); err != nil {
		return fmt.Errorf("start transports: %w", err)
	}
	a.Logger.Info("serving", "transports", a.Transports.Names(), "version", a.Version)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Transports.StopAll(stopCtx); err != nil {
			a.Logger.Warn("stop transports", "err", err)
		}
	}()

	interval := time.Duration(a.Config.Scheduler.IntervalSeconds) * time.Second
	sched := core.NewScheduler(interval, a.Logger.With("component", "scheduler"))
	if job := a.pruneJob(); job != nil {
		sched.Add("audit_prune", job)
	}
	if a.Limiter != nil {
		sched.Add("limiter_sweep", func(ctx context.Context) error {
			if n := a.Limiter.Sweep(time.Now()); n > 0 {
				a.Logger.Debug("rate limiter swept", "keys", n)
			}
			return nil
		})
	}
	sched.Start(ctx)
	return ctx.Err()
}

// pruneJob удаляет аудит старше sqlite.retention_days.
func (a *App) pruneJob() core.Job {
	if a.Store == nil || a.Config.SQLite.RetentionDays <= 0 {
		return nil
	}
	retention := time.Duration(a.Config.SQLite.RetentionDays) * 24 * time.Hour
	prune := storage.PruneFunc(a.Store, retention, nil)
	return func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n, err := prune(runCtx)
		if err != nil {
			return fmt.Errorf("prune audit: %w", err)
		}
		if n > 0 {
			a.Logger.Info("audit pruned", "events", n, "retention_days", a.Config.SQLite.RetentionDays)
		}
		return nil
	}
}

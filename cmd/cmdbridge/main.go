package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cmdbridge/internal/app"
	"cmdbridge/internal/config"
	"cmdbridge/internal/transports/cli"
	"cmdbridge/pkg/logger"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := buildVersion()
	load := func(ctx context.Context, path string) (cli.Runtime, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		lg := logger.New(cfg.Agent.LogLevel)
		a, err := app.NewApp(ctx, cfg, app.Options{Version: v, Logger: lg})
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	root := cli.New(load, v)
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		config.Exitf("cmdbridge: %v", err)
	}
}

func buildVersion() string {
	v := version
	if commit != "" {
		v += " (" + commit + ")"
	}
	if date != "" {
		v += " " + date
	}
	return v
}

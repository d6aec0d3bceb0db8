package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// WebToken описывает bearer-токен web-транспорта.
type WebToken struct {
	ID          string   `yaml:"id"`
	TokenSHA256 string   `yaml:"token_sha256"`
	Subject     string   `yaml:"subject"`
	Roles       []string `yaml:"roles"`
	Enabled     bool     `yaml:"enabled"`
}

// Config описывает параметры моста команд.
type Config struct {
	Agent struct {
		LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
		Locale   string `yaml:"locale" env:"LOCALE"`
	} `yaml:"agent" envPrefix:"AGENT_"`
	Security struct {
		ExecAllowlist []string            `yaml:"exec_allowlist" env:"EXEC_ALLOWLIST" envSeparator:","`
		AuthAllowlist map[string][]string `yaml:"auth_allowlist"`
		RateLimit     int                 `yaml:"rate_limit" env:"RATE_LIMIT"`
		RateWindowMS  int                 `yaml:"rate_window_ms" env:"RATE_WINDOW_MS"`
	} `yaml:"security" envPrefix:"SECURITY_"`
	Process struct {
		TimeoutMS      int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
		OutputEncoding string `yaml:"output_encoding" env:"OUTPUT_ENCODING"`
	} `yaml:"process" envPrefix:"PROCESS_"`
	Resource struct {
		Path string `yaml:"path" env:"PATH"`
	} `yaml:"resource" envPrefix:"RESOURCE_"`
	Judge struct {
		Min int `yaml:"min" env:"MIN"`
		Max int `yaml:"max" env:"MAX"`
	} `yaml:"judge" envPrefix:"JUDGE_"`
	SQLite struct {
		Path          string `yaml:"path" env:"PATH"`
		RetentionDays int    `yaml:"retention_days" env:"RETENTION_DAYS"`
	} `yaml:"sqlite" envPrefix:"SQLITE_"`
	Scheduler struct {
		IntervalSeconds int `yaml:"interval_seconds" env:"INTERVAL_SECONDS"`
	} `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Web struct {
		Enabled          bool   `yaml:"enabled" env:"ENABLED"`
		ListenAddr       string `yaml:"listen_addr" env:"LISTEN_ADDR"`
		ReadTimeoutMS    int    `yaml:"read_timeout_ms" env:"READ_TIMEOUT_MS"`
		WriteTimeoutMS   int    `yaml:"write_timeout_ms" env:"WRITE_TIMEOUT_MS"`
		RequestTimeoutMS int    `yaml:"request_timeout_ms" env:"REQUEST_TIMEOUT_MS"`
		ShutdownTimeoutS int    `yaml:"shutdown_timeout_s" env:"SHUTDOWN_TIMEOUT_S"`
		MaxBodyBytes     int64  `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
		Auth             struct {
			AllowLegacySubjectHeader bool       `yaml:"allow_legacy_subject_header" env:"ALLOW_LEGACY_SUBJECT_HEADER"`
			Tokens                   []WebToken `yaml:"tokens"`
		} `yaml:"auth" envPrefix:"AUTH_"`
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
		} `yaml:"cors" envPrefix:"CORS_"`
	} `yaml:"web" envPrefix:"WEB_"`
	NATS struct {
		Enabled   bool   `yaml:"enabled" env:"ENABLED"`
		URL       string `yaml:"url" env:"URL"`
		Prefix    string `yaml:"prefix" env:"PREFIX"`
		CredsFile string `yaml:"creds_file" env:"CREDS_FILE"`
	} `yaml:"nats" envPrefix:"NATS_"`
}

// EnvPrefix — префикс переменных окружения, перекрывающих файл.
const EnvPrefix = "CMDBRIDGE_"

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	var cfg Config
	cfg.Agent.LogLevel = "info"
	cfg.Agent.Locale = "en-US"
	cfg.Process.TimeoutMS = 30000
	cfg.Process.OutputEncoding = "utf-8"
	cfg.Resource.Path = "resource.bin"
	cfg.Judge.Min = 1
	cfg.Judge.Max = 100
	cfg.SQLite.Path = "cmdbridge.db"
	cfg.SQLite.RetentionDays = 30
	cfg.Scheduler.IntervalSeconds = 3600
	cfg.Web.Enabled = false
	cfg.Web.ListenAddr = "127.0.0.1:8080"
	cfg.Web.ReadTimeoutMS = 2000
	cfg.Web.WriteTimeoutMS = 35000
	cfg.Web.RequestTimeoutMS = 31000
	cfg.Web.ShutdownTimeoutS = 5
	cfg.Web.MaxBodyBytes = 1 << 20
	cfg.NATS.URL = "nats://127.0.0.1:4222"
	cfg.NATS.Prefix = "BRIDGE"
	cfg.Security.RateLimit = 20
	cfg.Security.RateWindowMS = 1000
	cfg.Security.AuthAllowlist = map[string][]string{"cli": {"*"}, "web": {}, "ipc": {}, "nats": {}}
	return cfg
}

// Load читает конфиг из файла YAML поверх значений по умолчанию,
// затем применяет переменные окружения CMDBRIDGE_*.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- путь к конфигу задается доверенным оператором.
		if err != nil {
			return cfg, err
		}
		if len(data) == 0 {
			return cfg, errors.New("config file is empty")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	var errs []error
	if c.Judge.Max-c.Judge.Min < 1 {
		errs = append(errs, fmt.Errorf("judge range [%d, %d) is empty", c.Judge.Min, c.Judge.Max))
	}
	if c.Process.TimeoutMS < 0 {
		errs = append(errs, errors.New("process.timeout_ms must not be negative"))
	}
	if enc := strings.TrimSpace(c.Process.OutputEncoding); enc != "" {
		if _, err := htmlindex.Get(enc); err != nil {
			errs = append(errs, fmt.Errorf("process.output_encoding %q: %w", enc, err))
		}
	}
	if c.Security.RateLimit < 0 || c.Security.RateWindowMS < 0 {
		errs = append(errs, errors.New("security.rate_limit and security.rate_window_ms must not be negative"))
	}
	if c.Resource.Path == "" {
		errs = append(errs, errors.New("resource.path is required"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	return errors.Join(errs...)
}

// Package config loads inboxrules settings from a TOML file, a .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/retry"
	"github.com/joshsymonds/inboxrules/internal/search"
)

// Config is the full runtime configuration.
type Config struct {
	DryRun   bool           `toml:"dry_run"`
	Gmail    GmailConfig    `toml:"gmail"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Search   SearchConfig   `toml:"search"`
	Retry    RetryConfig    `toml:"retry"`
	Rate     RateConfig     `toml:"rate"`
	SMTP     SMTPConfig     `toml:"smtp"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`
}

// GmailConfig selects the mailbox and credentials. With ConfigDir empty,
// CredentialsPath is a service account key delegated to UserEmail. Otherwise
// ConfigDir is a gmailctl config directory holding credentials.json (the
// OAuth client secret) and token.json (the cached user token).
type GmailConfig struct {
	UserEmail       string `toml:"user_email"`
	CredentialsPath string `toml:"credentials_path"`
	ConfigDir       string `toml:"config_dir"`
}

// UserCredentialsFile is the client secret file expected inside ConfigDir.
const UserCredentialsFile = "credentials.json"

// ServiceAccount reports whether service-account delegation is used.
func (g GmailConfig) ServiceAccount() bool { return g.ConfigDir == "" }

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Dir, when set, receives an append-only inboxrules.log instead of stderr.
	Dir string `toml:"dir"`
}

type SearchConfig struct {
	MaxResults int `toml:"max_results"`
	PageSize   int `toml:"page_size"`
}

type RetryConfig struct {
	InitialInterval string  `toml:"initial_interval"`
	MaxInterval     string  `toml:"max_interval"`
	MaxElapsed      string  `toml:"max_elapsed"`
	Multiplier      float64 `toml:"multiplier"`
	MaxRetries      int     `toml:"max_retries"`
}

type RateConfig struct {
	RequestsPerSecond int `toml:"requests_per_second"`
	Burst             int `toml:"burst"`
}

type SMTPConfig struct {
	Enabled  bool     `toml:"enabled"`
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	From     string   `toml:"from"`
	To       []string `toml:"to"`
	// TLS is "starttls", "tls" or "none".
	TLS string `toml:"tls"`
}

type MetricsConfig struct {
	// TextfilePath, when set, receives run metrics in Prometheus text format
	// for the node_exporter textfile collector.
	TextfilePath string `toml:"textfile_path"`
}

type TracingConfig struct {
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Gmail: GmailConfig{
			CredentialsPath: "credentials.json",
		},
		Database: DatabaseConfig{Path: "data/inboxrules.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Search: SearchConfig{
			MaxResults: search.DefaultMaxResults,
			PageSize:   search.DefaultPageSize,
		},
		Retry: RetryConfig{
			InitialInterval: "500ms",
			MaxInterval:     "30s",
			MaxElapsed:      "2m",
			Multiplier:      2.0,
			MaxRetries:      5,
		},
		Rate: RateConfig{RequestsPerSecond: rate.DefaultRPS, Burst: rate.DefaultRPS},
		SMTP: SMTPConfig{Port: 587, TLS: "starttls"},
		Tracing: TracingConfig{
			ServiceName: "inboxrules",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (when
// it exists or was named explicitly), then envFile, then the process
// environment.
func Load(path, envFile string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if path == "" {
		path = os.Getenv("INBOXRULES_CONFIG")
	}

	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			logger.Warn("unknown config key ignored", slog.String("file", path), slog.String("key", key.String()))
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var result *multierror.Error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("GMAIL_USER_EMAIL", &cfg.Gmail.UserEmail)
	str("GOOGLE_CREDENTIALS_PATH", &cfg.Gmail.CredentialsPath)
	str("GMAIL_CONFIG_DIR", &cfg.Gmail.ConfigDir)
	str("DATABASE_PATH", &cfg.Database.Path)
	str("LOG_PATH", &cfg.Logging.Dir)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	boolean("DRY_RUN", &cfg.DryRun)
	integer("MAX_SEARCH_RESULTS", &cfg.Search.MaxResults)
	boolean("SMTP_ENABLED", &cfg.SMTP.Enabled)
	str("SMTP_HOST", &cfg.SMTP.Host)
	integer("SMTP_PORT", &cfg.SMTP.Port)
	str("SMTP_USER", &cfg.SMTP.Username)
	str("SMTP_PASSWORD", &cfg.SMTP.Password)
	str("SMTP_FROM", &cfg.SMTP.From)
	str("SMTP_TLS", &cfg.SMTP.TLS)
	if v, ok := lookup("SMTP_TO"); ok {
		cfg.SMTP.To = splitList(v)
	}
	str("METRICS_TEXTFILE", &cfg.Metrics.TextfilePath)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	return result.ErrorOrNil()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every configuration problem at once. Mailbox credentials
// are only checked when needMailbox is set; local commands such as rule
// management work without them.
func (c Config) Validate(needMailbox bool) error {
	var result *multierror.Error
	if needMailbox {
		switch {
		case !c.Gmail.ServiceAccount():
			creds := filepath.Join(c.Gmail.ConfigDir, UserCredentialsFile)
			if _, err := os.Stat(creds); err != nil {
				result = multierror.Append(result, fmt.Errorf("credentials file not found: %s", creds))
			}
		case c.Gmail.CredentialsPath == "":
			result = multierror.Append(result, errors.New("credentials path is not set"))
		default:
			if _, err := os.Stat(c.Gmail.CredentialsPath); err != nil {
				result = multierror.Append(result, fmt.Errorf("credentials file not found: %s", c.Gmail.CredentialsPath))
			}
		}
		if c.Gmail.ServiceAccount() && c.Gmail.UserEmail == "" {
			result = multierror.Append(result, errors.New("GMAIL_USER_EMAIL is required for service account credentials"))
		}
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		result = multierror.Append(result, errors.New("database path is not set"))
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 5000 {
		result = multierror.Append(result, fmt.Errorf("search.max_results must be in 1..5000, got %d", c.Search.MaxResults))
	}
	if c.Search.PageSize < 1 || c.Search.PageSize > 500 {
		result = multierror.Append(result, fmt.Errorf("search.page_size must be in 1..500, got %d", c.Search.PageSize))
	}
	if c.Rate.RequestsPerSecond < 1 {
		result = multierror.Append(result, fmt.Errorf("rate.requests_per_second must be >= 1, got %d", c.Rate.RequestsPerSecond))
	}
	if _, err := c.Retry.Policy(); err != nil {
		result = multierror.Append(result, err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			result = multierror.Append(result, errors.New("smtp.host is required when smtp is enabled"))
		}
		if c.SMTP.Port <= 0 {
			result = multierror.Append(result, fmt.Errorf("smtp.port must be > 0, got %d", c.SMTP.Port))
		}
		if c.SMTP.From == "" {
			result = multierror.Append(result, errors.New("smtp.from is required when smtp is enabled"))
		}
		if len(c.SMTP.To) == 0 {
			result = multierror.Append(result, errors.New("smtp.to is required when smtp is enabled"))
		}
		switch strings.ToLower(c.SMTP.TLS) {
		case "starttls", "tls", "none":
		default:
			result = multierror.Append(result, fmt.Errorf("smtp.tls must be starttls, tls or none, got %q", c.SMTP.TLS))
		}
	}
	return result.ErrorOrNil()
}

// Policy converts the retry section into a retry.Policy.
func (r RetryConfig) Policy() (retry.Policy, error) {
	p := retry.DefaultPolicy()
	var result *multierror.Error
	parse := func(name, s string, dst *time.Duration) {
		if s == "" {
			return
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("retry.%s: %w", name, err))
			return
		}
		*dst = d
	}
	parse("initial_interval", r.InitialInterval, &p.InitialInterval)
	parse("max_interval", r.MaxInterval, &p.MaxInterval)
	parse("max_elapsed", r.MaxElapsed, &p.MaxElapsed)
	if r.Multiplier != 0 {
		if r.Multiplier < 1 {
			result = multierror.Append(result, fmt.Errorf("retry.multiplier must be >= 1, got %g", r.Multiplier))
		}
		p.Multiplier = r.Multiplier
	}
	if r.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("retry.max_retries must be >= 0, got %d", r.MaxRetries))
	}
	p.MaxRetries = r.MaxRetries
	if err := result.ErrorOrNil(); err != nil {
		return retry.Policy{}, err
	}
	return p, nil
}

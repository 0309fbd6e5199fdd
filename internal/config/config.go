// Package config loads and validates validator configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/profile-validator/internal/classifier"
	"github.com/JakeFAU/profile-validator/internal/credential"
	"github.com/JakeFAU/profile-validator/internal/input"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

// EnvPrefix is prepended to every environment override, e.g.
// VALIDATOR_DISPATCH_CONCURRENCY=2.
const EnvPrefix = "VALIDATOR"

// Fetch modes.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input       InputConfig       `mapstructure:"input"`
	Output      OutputConfig      `mapstructure:"output"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Pacing      PacingConfig      `mapstructure:"pacing"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Classifier  classifier.Config `mapstructure:"classifier"`
	Sinks       SinksConfig       `mapstructure:"sinks"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// InputConfig selects and filters the work items.
type InputConfig struct {
	Path        string `mapstructure:"path"`
	Format      string `mapstructure:"format"`
	KeyField    string `mapstructure:"key_field"`
	TargetField string `mapstructure:"target_field"`
	HostFilter  string `mapstructure:"host_filter"`
	Start       int    `mapstructure:"start"`
	End         int    `mapstructure:"end"`
	Count       int    `mapstructure:"count"`
}

// OutputConfig names the local result file. Path wins over Dir and Prefix.
// RunID is optional; an empty value gets a fresh UUIDv7.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Prefix string `mapstructure:"prefix"`
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
	RunID  string `mapstructure:"run_id"`
}

// CredentialsConfig controls where sessions come from.
type CredentialsConfig struct {
	EnvPrefix    string               `mapstructure:"env_prefix"`
	DotEnv       string               `mapstructure:"dotenv"`
	Sessions     []credential.Session `mapstructure:"sessions"`
	CookieName   string               `mapstructure:"cookie_name"`
	CookieDomain string               `mapstructure:"cookie_domain"`
	CookieURL    string               `mapstructure:"cookie_url"`
	UserAgents   []string             `mapstructure:"user_agents"`
}

// PoolConfig sets the randomized soft cap range and window.
type PoolConfig struct {
	SoftCapMin int           `mapstructure:"soft_cap_min"`
	SoftCapMax int           `mapstructure:"soft_cap_max"`
	Window     time.Duration `mapstructure:"window"`
}

// PacingConfig sets the randomized delays and the global token bucket.
type PacingConfig struct {
	RequestDelayMin time.Duration `mapstructure:"request_delay_min"`
	RequestDelayMax time.Duration `mapstructure:"request_delay_max"`
	BatchDelayMin   time.Duration `mapstructure:"batch_delay_min"`
	BatchDelayMax   time.Duration `mapstructure:"batch_delay_max"`
	GlobalRPS       float64       `mapstructure:"global_rps"`
	GlobalBurst     int           `mapstructure:"global_burst"`
}

// DispatchConfig governs batching and flushing.
type DispatchConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	FlushEvery        int           `mapstructure:"flush_every"`
	FinalFlushTimeout time.Duration `mapstructure:"final_flush_timeout"`
}

// FetchConfig selects and tunes the fetch strategy.
type FetchConfig struct {
	Mode              string        `mapstructure:"mode"`
	Headless          bool          `mapstructure:"headless"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	MaxRedirects      int           `mapstructure:"max_redirects"`
	WarmupURL         string        `mapstructure:"warmup_url"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// SinksConfig enables the optional result sinks next to the local file.
type SinksConfig struct {
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	GCS      GCSSinkConfig      `mapstructure:"gcs"`
	PubSub   PubSubSinkConfig   `mapstructure:"pubsub"`
}

// PostgresSinkConfig enables the Postgres sink when DSN is set.
type PostgresSinkConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	CreateTable bool   `mapstructure:"create_table"`
}

// GCSSinkConfig enables the bucket mirror when Bucket is set.
type GCSSinkConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PubSubSinkConfig enables per-result notifications when Topic is set.
type PubSubSinkConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// NewViper returns a Viper instance with defaults and environment overrides
// wired, ready for flag binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return FromViper(NewViper(), path)
}

// FromViper reads the optional config file into v and decodes the result.
func FromViper(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, validator.NewConfigurationError("config", fmt.Errorf("read config: %w", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, validator.NewConfigurationError("config", fmt.Errorf("unmarshal config: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.format", "")
	v.SetDefault("input.key_field", "Expert ID")
	v.SetDefault("input.target_field", "Linkedin Profile")
	v.SetDefault("input.host_filter", "linkedin.com")
	v.SetDefault("output.prefix", "validation_results")
	v.SetDefault("output.run_id", "")
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "csv")
	v.SetDefault("credentials.env_prefix", "LINKEDIN_COOKIE")
	v.SetDefault("credentials.dotenv", ".env")
	v.SetDefault("credentials.cookie_name", "li_at")
	v.SetDefault("credentials.cookie_domain", ".linkedin.com")
	v.SetDefault("credentials.cookie_url", "https://www.linkedin.com")
	v.SetDefault("pool.soft_cap_min", 2)
	v.SetDefault("pool.soft_cap_max", 5)
	v.SetDefault("pool.window", "1h")
	v.SetDefault("pacing.request_delay_min", "5s")
	v.SetDefault("pacing.request_delay_max", "13s")
	v.SetDefault("pacing.batch_delay_min", "3s")
	v.SetDefault("pacing.batch_delay_max", "5s")
	v.SetDefault("pacing.global_rps", 0)
	v.SetDefault("pacing.global_burst", 1)
	v.SetDefault("dispatch.concurrency", 3)
	v.SetDefault("dispatch.flush_every", 5)
	v.SetDefault("dispatch.final_flush_timeout", "30s")
	v.SetDefault("fetch.mode", ModeHTTP)
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.page_timeout", "30s")
	v.SetDefault("fetch.navigation_timeout", "45s")
	v.SetDefault("fetch.settle_delay", "2s")
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("sinks.postgres.table", "validation_results")
	v.SetDefault("sinks.postgres.max_conns", 4)
	v.SetDefault("sinks.postgres.create_table", true)
	v.SetDefault("sinks.pubsub.project_id", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Every failure is a
// validator.ConfigurationError.
func (c Config) Validate() error {
	var errs []error
	fail := func(setting, format string, args ...any) {
		errs = append(errs, validator.NewConfigurationError(setting, fmt.Errorf(format, args...)))
	}

	if c.Pool.SoftCapMin <= 0 {
		fail("pool.soft_cap_min", "must be > 0")
	}
	if c.Pool.SoftCapMax < c.Pool.SoftCapMin {
		fail("pool.soft_cap_max", "must be >= pool.soft_cap_min (%d)", c.Pool.SoftCapMin)
	}
	if c.Pool.Window <= 0 {
		fail("pool.window", "must be > 0")
	}
	if c.Pacing.RequestDelayMin < 0 || c.Pacing.RequestDelayMax < c.Pacing.RequestDelayMin {
		fail("pacing.request_delay_max", "must be >= pacing.request_delay_min")
	}
	if c.Pacing.BatchDelayMin < 0 || c.Pacing.BatchDelayMax < c.Pacing.BatchDelayMin {
		fail("pacing.batch_delay_max", "must be >= pacing.batch_delay_min")
	}
	if c.Pacing.GlobalRPS < 0 {
		fail("pacing.global_rps", "must be >= 0")
	}
	if c.Dispatch.Concurrency <= 0 {
		fail("dispatch.concurrency", "must be > 0")
	}
	if c.Dispatch.FlushEvery <= 0 {
		fail("dispatch.flush_every", "must be > 0")
	}
	switch c.Fetch.Mode {
	case ModeHTTP, ModeBrowser:
	default:
		fail("fetch.mode", "must be %q or %q, got %q", ModeHTTP, ModeBrowser, c.Fetch.Mode)
	}
	if c.Fetch.PageTimeout <= 0 {
		fail("fetch.page_timeout", "must be > 0")
	}
	if c.Fetch.MaxRedirects < 0 {
		fail("fetch.max_redirects", "must be >= 0")
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "csv", "json":
	default:
		fail("output.format", "must be csv or json, got %q", c.Output.Format)
	}
	if err := c.Input.Range().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Sinks.PubSub.Topic != "" && c.Sinks.PubSub.ProjectID == "" {
		fail("sinks.pubsub.project_id", "must be set when sinks.pubsub.topic is set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		fail("server.port", "must be > 0")
	}
	return errors.Join(errs...)
}

// OutputPath resolves the local result file. An explicit output.path wins;
// otherwise the file is <dir>/<prefix>_<timestamp><ext>.
func (c Config) OutputPath(now time.Time, ext string) string {
	if c.Output.Path != "" {
		return c.Output.Path
	}
	dir := c.Output.Dir
	if dir == "" {
		dir = "."
	}
	prefix := c.Output.Prefix
	if prefix == "" {
		prefix = "validation_results"
	}
	return filepath.Join(dir, prefix+"_"+now.UTC().Format("20060102_150405")+ext)
}

// Range converts the 1-based slicing settings.
func (c InputConfig) Range() input.Range {
	return input.Range{Start: c.Start, End: c.End, Count: c.Count}
}

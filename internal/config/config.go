package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. UGOOD_STORE_DRIVER.
const EnvPrefix = "UGOOD"

// Config holds application configuration.
type Config struct {
	Trouble  TroubleConfig  `mapstructure:"trouble"`
	Match    MatchConfig    `mapstructure:"match"`
	Store    StoreConfig    `mapstructure:"store"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	MCP      MCPConfig      `mapstructure:"mcp"`

	location *time.Location
}

// TroubleConfig bounds user-submitted text.
type TroubleConfig struct {
	// MaxChars is the rune limit for trouble content and blessing captions
	MaxChars int `mapstructure:"max_chars" validate:"required|int|min:1|max:10000"`
}

// MatchConfig controls the matcher.
type MatchConfig struct {
	// Retries is how many times selection is retried after losing a claim race
	Retries int `mapstructure:"retries" validate:"int|min:0|max:10"`

	// Timezone defines the cycle day used for "one match per day" (IANA name)
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// StoreConfig selects and tunes the storage backend.
type StoreConfig struct {
	// Driver is "sqlite" (file under the base dir) or "postgres"
	Driver string `mapstructure:"driver" validate:"required|in:sqlite,postgres"`

	// PostgresDSN is required when Driver is "postgres"
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// Timeout bounds every operation's store calls
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxOpenConns limits open connections. 0 means driver default.
	// For SQLite, 1 serializes all access (reduces "database is locked" errors).
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"int|min:0"`

	// MaxIdleConns limits idle connections. 0 means driver default.
	MaxIdleConns int `mapstructure:"max_idle_conns" validate:"int|min:0"`
}

// HTTPConfig configures the JSON API server.
type HTTPConfig struct {
	Bind        string   `mapstructure:"bind" validate:"required"`
	Port        int      `mapstructure:"port" validate:"required|int|min:1|max:65535"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret of the identity provider
	JWTSecret string `mapstructure:"jwt_secret"`

	// Issuer, if set, must match the token's iss claim
	Issuer string `mapstructure:"issuer"`
}

// AudioConfig configures presigned blessing uploads.
type AudioConfig struct {
	Bucket     string        `mapstructure:"bucket" validate:"required"`
	Region     string        `mapstructure:"region"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required|in:trace,debug,info,warn,error"`
	Format string `mapstructure:"format" validate:"required|in:json,console"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScheduleConfig configures background jobs.
type ScheduleConfig struct {
	// Rollover is a cron spec for expiring the previous cycle's matches.
	// Empty disables the job.
	Rollover string `mapstructure:"rollover"`
}

// MCPConfig configures the MCP tool server.
type MCPConfig struct {
	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `mapstructure:"disabled_tools"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Trouble: TroubleConfig{MaxChars: 300},
		Match:   MatchConfig{Retries: 1, Timezone: "UTC"},
		Store:   StoreConfig{Driver: "sqlite", Timeout: 5 * time.Second},
		HTTP:    HTTPConfig{Bind: "127.0.0.1", Port: 8080},
		Audio: AudioConfig{
			Bucket:     "audio-files",
			KeyPrefix:  "blessings",
			PresignTTL: 5 * time.Minute,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Metrics:  MetricsConfig{Enabled: true},
		Schedule: ScheduleConfig{Rollover: "5 0 * * *"},
		location: time.UTC,
	}
}

// Load loads configuration from baseDir/config.json (or $UGOOD_CONFIG),
// applies UGOOD_* environment overrides and validates the result.
// A missing file yields defaults plus environment.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.ugood.
func Load(baseDir string) (*Config, error) {
	path := os.Getenv(EnvPrefix + "_CONFIG")
	if path == "" {
		path = filepath.Join(baseDir, "config.json")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("trouble.max_chars", d.Trouble.MaxChars)
	v.SetDefault("match.retries", d.Match.Retries)
	v.SetDefault("match.timezone", d.Match.Timezone)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)
	v.SetDefault("store.timeout", d.Store.Timeout)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("http.bind", d.HTTP.Bind)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.cors_origins", d.HTTP.CORSOrigins)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("audio.bucket", d.Audio.Bucket)
	v.SetDefault("audio.region", d.Audio.Region)
	v.SetDefault("audio.key_prefix", d.Audio.KeyPrefix)
	v.SetDefault("audio.presign_ttl", d.Audio.PresignTTL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("schedule.rollover", d.Schedule.Rollover)
	v.SetDefault("mcp.disabled_tools", d.MCP.DisabledTools)
}

// Validate checks field rules and cross-field constraints, and resolves the timezone.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		data any
	}{
		{"trouble", &c.Trouble},
		{"match", &c.Match},
		{"store", &c.Store},
		{"http", &c.HTTP},
		{"audio", &c.Audio},
		{"log", &c.Log},
	}
	for _, s := range sections {
		v := validate.Struct(s.data)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %s", s.name, v.Errors.One())
		}
	}

	if c.Store.Driver == "postgres" && strings.TrimSpace(c.Store.PostgresDSN) == "" {
		return errors.New("invalid store config: postgres_dsn is required when driver is postgres")
	}
	if c.Store.Timeout < 0 {
		return errors.New("invalid store config: timeout must be non-negative")
	}
	if c.Audio.PresignTTL < 0 {
		return errors.New("invalid audio config: presign_ttl must be non-negative")
	}

	loc, err := time.LoadLocation(c.Match.Timezone)
	if err != nil {
		return fmt.Errorf("invalid match config: timezone %q: %w", c.Match.Timezone, err)
	}
	c.location = loc
	return nil
}

// Location returns the cycle timezone. Defaults to UTC if the config was not validated.
func (c *Config) Location() *time.Location {
	if c == nil || c.location == nil {
		return time.UTC
	}
	return c.location
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Sessions   SessionsConfig   `mapstructure:"sessions"`
	Search     SearchConfig     `mapstructure:"search"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Env       string `mapstructure:"env"` // dev, prod
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
	LogFile   string `mapstructure:"log_file"`
}

// IsProd reports whether the service runs with production cookie/security settings.
func (g GeneralConfig) IsProd() bool {
	env := strings.ToLower(strings.TrimSpace(g.Env))
	return env == "prod" || env == "production"
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address == "" {
		s.Address = ":4000"
	}
	if s.Address[0] != ':' && !strings.Contains(s.Address, ":") {
		s.Address = ":" + s.Address
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	if s.MigrationsDir == "" {
		s.MigrationsDir = "file://migrations"
	}
	var origins []string
	for _, o := range s.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	s.AllowedOrigins = origins
	return s
}

// AuthConfig controls credential issuance and verification.
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	CookieName       string        `mapstructure:"cookie_name"`
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"` // 0 disables throttling
	LoginLockout     time.Duration `mapstructure:"login_lockout"`
}

func (a AuthConfig) Normalize() AuthConfig {
	if a.TokenTTL <= 0 {
		a.TokenTTL = time.Hour
	}
	if strings.TrimSpace(a.CookieName) == "" {
		a.CookieName = "token"
	}
	if a.LoginLockout <= 0 {
		a.LoginLockout = 15 * time.Minute
	}
	return a
}

func (a AuthConfig) Validate() error {
	if strings.TrimSpace(a.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret required")
	}
	if a.MaxLoginAttempts < 0 {
		return fmt.Errorf("auth.max_login_attempts cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// PaginationConfig controls cursor listing defaults.
type PaginationConfig struct {
	DefaultLimit int  `mapstructure:"default_limit"`
	MaxLimit     int  `mapstructure:"max_limit"`
	ExactHasMore bool `mapstructure:"exact_has_more"`
}

func (p PaginationConfig) Normalize() PaginationConfig {
	if p.DefaultLimit <= 0 {
		p.DefaultLimit = 12
	}
	if p.MaxLimit <= 0 {
		p.MaxLimit = 100
	}
	if p.DefaultLimit > p.MaxLimit {
		p.DefaultLimit = p.MaxLimit
	}
	return p
}

// SessionsConfig controls the session lifecycle policy.
type SessionsConfig struct {
	StrictPublish bool `mapstructure:"strict_publish"`
}

// SearchConfig controls the published-session search index.
type SearchConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RebuildCron string `mapstructure:"rebuild_cron"`
}

func (s SearchConfig) Validate() error {
	if !s.Enabled || s.RebuildCron == "" {
		return nil
	}
	if _, err := cronexpr.Parse(s.RebuildCron); err != nil {
		return fmt.Errorf("search.rebuild_cron: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.env", "dev")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":4000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.migrations_dir", "file://migrations")
	v.SetDefault("server.auto_migrate", false)
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.cookie_name", "token")
	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.login_lockout", "15m")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "wellsession")
	v.SetDefault("pagination.default_limit", 12)
	v.SetDefault("pagination.max_limit", 100)
	v.SetDefault("pagination.exact_has_more", true)
	v.SetDefault("sessions.strict_publish", true)
	v.SetDefault("search.enabled", true)
	v.SetDefault("search.rebuild_cron", "@hourly")
}

// LoadConfig loads and validates config from file and WELLSESSION_*
// environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads config without validating it. An empty path searches the
// usual locations; a missing file is tolerated so the service can be
// configured from the environment alone.
func Read(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("WELLSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server = cfg.Server.Normalize()
	cfg.Auth = cfg.Auth.Normalize()
	cfg.Pagination = cfg.Pagination.Normalize()
	return &cfg, nil
}

// Validate checks every section that has hard requirements.
func (c *Config) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Redis.Validate(); err != nil {
		return err
	}
	return c.Search.Validate()
}

// AutomaticEnv only resolves keys viper already knows about; keys without a
// default need an explicit binding to be settable from the environment.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"general.log_pretty",
		"general.log_file",
		"server.allowed_origins",
		"auth.jwt_secret",
		"storage.postgres.url",
		"storage.postgres.host",
		"storage.postgres.user",
		"storage.postgres.password",
		"storage.postgres.dbname",
		"storage.redis.host",
		"storage.redis.password",
		"storage.redis.db",
		"telemetry.otlp_endpoint",
	} {
		_ = v.BindEnv(key)
	}
}

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/database"
	splicehttp "github.com/sagarc03/splice/http"
	"github.com/sagarc03/splice/s3"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for splice.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Storage  StorageConfig         `mapstructure:"storage"`
	Finalize FinalizeConfig        `mapstructure:"finalize"`
	Database DatabaseConfig        `mapstructure:"database"`
	Cleanup  CleanupConfig         `mapstructure:"cleanup"`
	CORS     splicehttp.CORSConfig `mapstructure:"cors"`
	Metrics  MetricsConfig         `mapstructure:"metrics"`
	Log      LogConfig             `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	MaxChunkSize    int64         `mapstructure:"max_chunk_size" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Backend string   `mapstructure:"backend" validate:"required,oneof=filesystem s3"`
	Path    string   `mapstructure:"path"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object store settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// FinalizeConfig controls when and how completed sessions are assembled.
type FinalizeConfig struct {
	Mode          string        `mapstructure:"mode" validate:"required,oneof=deferred inline"`
	Workers       int           `mapstructure:"workers" validate:"min=1"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"min=0"`
	Attempts      int           `mapstructure:"attempts" validate:"min=1"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl" validate:"min=0"`
	RetryWindow   time.Duration `mapstructure:"retry_window" validate:"min=0"`
	Lock          string        `mapstructure:"lock" validate:"required,oneof=blob database"`
	ResumeOnStart bool          `mapstructure:"resume_on_start"`
}

// DatabaseConfig configures the SQL lease table used when finalize.lock is
// "database".
type DatabaseConfig struct {
	Type  string `mapstructure:"type" validate:"required,oneof=sqlite postgres"`
	DSN   string `mapstructure:"dsn" validate:"required"`
	Table string `mapstructure:"table" validate:"required"`
}

// CleanupConfig controls the periodic sweep of abandoned sessions.
type CleanupConfig struct {
	// Interval between sweeps. Zero disables the periodic sweep.
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json pretty"`
}

// Service returns the splice.ServiceConfig for these settings. The locker is
// left to the caller.
func (c *Config) Service() splice.ServiceConfig {
	return splice.ServiceConfig{
		DeferFinalize:   c.Finalize.Mode == "deferred",
		Workers:         c.Finalize.Workers,
		FinalizeTimeout: c.Finalize.Timeout,
		Attempts:        c.Finalize.Attempts,
		LeaseTTL:        c.Finalize.LeaseTTL,
		RetryWindow:     c.Finalize.RetryWindow,
	}
}

// LeaseDatabase returns the database.Config for the SQL lease backend.
func (c *Config) LeaseDatabase() database.Config {
	return database.Config{
		Type:  c.Database.Type,
		DSN:   c.Database.DSN,
		Table: c.Database.Table,
	}
}

func (c *Config) S3() s3.Config {
	return s3.Config{
		Endpoint:  c.Storage.S3.Endpoint,
		AccessKey: c.Storage.S3.AccessKey,
		SecretKey: c.Storage.S3.SecretKey,
		Bucket:    c.Storage.S3.Bucket,
		Region:    c.Storage.S3.Region,
		UseSSL:    c.Storage.S3.UseSSL,
	}
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"port":            "server.port",
	"storage-backend": "storage.backend",
	"storage-path":    "storage.path",
	"finalize-mode":   "finalize.mode",
	"workers":         "finalize.workers",
	"lock":            "finalize.lock",
	"db-type":         "database.type",
	"db-dsn":          "database.dsn",
	"older-than":      "cleanup.max_age",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance. Every key
// needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5708)
	v.SetDefault("server.max_chunk_size", 64<<20)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.path", "./storage")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.use_ssl", false)

	v.SetDefault("finalize.mode", "deferred")
	v.SetDefault("finalize.workers", 4)
	v.SetDefault("finalize.timeout", 10*time.Minute)
	v.SetDefault("finalize.attempts", 3)
	v.SetDefault("finalize.lease_ttl", splice.DefaultLeaseTTL)
	v.SetDefault("finalize.retry_window", splice.DefaultRetryWindow)
	v.SetDefault("finalize.lock", "blob")
	v.SetDefault("finalize.resume_on_start", true)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "splice.db")
	v.SetDefault("database.table", "splice_leases")

	v.SetDefault("cleanup.interval", time.Hour)
	v.SetDefault("cleanup.max_age", 24*time.Hour)

	v.SetDefault("cors.enabled", false)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// storageValidation checks the settings required by the selected backend.
func storageValidation(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)

	switch s.Backend {
	case "filesystem":
		if s.Path == "" {
			sl.ReportError(s.Path, "Path", "path", "required_for_filesystem", "")
		}
	case "s3":
		if s.S3.Endpoint == "" {
			sl.ReportError(s.S3.Endpoint, "S3.Endpoint", "endpoint", "required_for_s3", "")
		}
		if s.S3.Bucket == "" {
			sl.ReportError(s.S3.Bucket, "S3.Bucket", "bucket", "required_for_s3", "")
		}
	}
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("SPLICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	validate.RegisterStructValidation(storageValidation, StorageConfig{})
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Package config loads service settings from defaults, an optional config
// file, a .env file and SFD_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the backend.
type Config struct {
	Addr              string `mapstructure:"addr"`
	UploadsDir        string `mapstructure:"uploads_dir"`
	PublicDir         string `mapstructure:"public_dir"`
	MaxUploadSize     string `mapstructure:"max_upload_size"`
	CollisionAttempts int    `mapstructure:"collision_attempts"`
	RateLimit         int    `mapstructure:"rate_limit"` // POST /details per client IP per minute, 0 = off

	// TrustedProxies lists the addresses or CIDR ranges allowed to set
	// X-Forwarded-For and X-Real-IP.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	DatabaseURL string   `mapstructure:"database_url"`
	S3          S3Config `mapstructure:"s3"`

	Version string `mapstructure:"version"`
	Commit  string `mapstructure:"commit"`

	maxUploadBytes int64
	trustedProxies []netip.Prefix
}

// S3Config points at the bucket submissions are mirrored to. Either all
// fields are set or none.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

func (s S3Config) configured() int {
	n := 0
	for _, v := range []string{s.Endpoint, s.AccessKey, s.SecretKey, s.Bucket} {
		if v != "" {
			n++
		}
	}
	return n
}

// MaxUploadBytes is MaxUploadSize in bytes. Only meaningful after Validate.
func (c *Config) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

// TrustedProxyPrefixes is TrustedProxies parsed. Only meaningful after
// Validate.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	return c.trustedProxies
}

// CatalogEnabled reports whether submissions are indexed in Postgres.
func (c *Config) CatalogEnabled() bool {
	return c.DatabaseURL != ""
}

// MirrorEnabled reports whether submissions are copied to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.S3.configured() == 4
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":3000")
	v.SetDefault("uploads_dir", "uploads")
	v.SetDefault("public_dir", "public")
	v.SetDefault("max_upload_size", "32MB")
	v.SetDefault("collision_attempts", 0)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("database_url", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("version", "dev")
	v.SetDefault("commit", "unknown")
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SFD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database_url", "DATABASE_URL", "SFD_DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("s3.bucket", "SFD_S3_BUCKET", "SFD_BUCKET"); err != nil {
		return nil, err
	}

	if path := os.Getenv("SFD_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv imports SFD_ENV_FILE (default .env) when it exists. Variables
// already present in the environment win.
func loadDotEnv() error {
	path := os.Getenv("SFD_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

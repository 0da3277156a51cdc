package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harrylevesque/erpportal/internal/crypto"
)

// Config is the full portal configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	ERP     ERPConfig     `mapstructure:"erp"`
	Session SessionConfig `mapstructure:"session"`
	Spool   SpoolConfig   `mapstructure:"spool"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	CertWarnBefore  time.Duration `mapstructure:"cert_warn_before"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ERPConfig points at the upstream ERP API serving documents and logins.
type ERPConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// FallbackBaseURL is tried once after a network or server failure.
	// It may equal BaseURL.
	FallbackBaseURL  string            `mapstructure:"fallback_base_url"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	LoginPath        string            `mapstructure:"login_path"`
	MaxDocumentBytes int64             `mapstructure:"max_document_bytes"`
	Endpoints        map[string]string `mapstructure:"endpoints"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	Secret     string        `mapstructure:"secret"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	Secure     bool          `mapstructure:"secure"`
}

// SpoolConfig controls where materialized document handles live.
type SpoolConfig struct {
	Dir           string `mapstructure:"dir"`
	MasterKeyHex  string `mapstructure:"master_key_hex"`
	// MasterKeyFile holds the hex key written by "portal genkey".
	MasterKeyFile string `mapstructure:"master_key_file"`
}

// MasterKey returns the configured spool master key, or nil when none is set.
func (s SpoolConfig) MasterKey() ([]byte, error) {
	h := s.MasterKeyHex
	if h == "" && s.MasterKeyFile != "" {
		data, err := os.ReadFile(s.MasterKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read master key: %w", err)
		}
		h = string(data)
	}
	if h == "" {
		return nil, nil
	}
	return crypto.ParseMasterKey(h)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads defaults, then the YAML file at path (if any), then PORTAL_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
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

// Validate clamps out-of-range values and rejects unusable ones.
func (c *Config) Validate() error {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ERP.BaseURL == "" {
		return errors.New("erp.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.ERP.BaseURL); err != nil {
		return fmt.Errorf("erp.base_url: %w", err)
	}
	if c.ERP.FallbackBaseURL != "" {
		if _, err := url.ParseRequestURI(c.ERP.FallbackBaseURL); err != nil {
			return fmt.Errorf("erp.fallback_base_url: %w", err)
		}
	}
	c.ERP.BaseURL = strings.TrimRight(c.ERP.BaseURL, "/")
	c.ERP.FallbackBaseURL = strings.TrimRight(c.ERP.FallbackBaseURL, "/")

	if c.ERP.Timeout <= 0 {
		c.ERP.Timeout = DefaultTimeout
	}
	if c.ERP.Timeout > MaxTimeout {
		c.ERP.Timeout = MaxTimeout
	}
	if c.ERP.MaxDocumentBytes <= 0 {
		c.ERP.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if len(c.ERP.Endpoints) == 0 {
		c.ERP.Endpoints = DefaultEndpoints()
	}
	for kind, tmpl := range c.ERP.Endpoints {
		if !strings.Contains(tmpl, "{id}") {
			return fmt.Errorf("erp.endpoints.%s: template %q lacks {id}", kind, tmpl)
		}
	}
	if c.Session.Secret != "" && len(c.Session.Secret) < 32 {
		return errors.New("session.secret must be at least 32 characters")
	}
	if c.Session.MaxAge <= 0 {
		c.Session.MaxAge = DefaultSessionMaxAge
	}
	switch c.Log.Format {
	case "json", "text":
	case "":
		c.Log.Format = "json"
	default:
		return fmt.Errorf("log.format %q: want json or text", c.Log.Format)
	}
	return nil
}

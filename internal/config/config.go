// Package config resolves runtime settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the client and the presentation API need.
type Config struct {
	Analysis struct {
		BaseURL string        `yaml:"baseURL"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"analysis"`

	Workflow struct {
		ScanPhase time.Duration `yaml:"scanPhase"`
	} `yaml:"workflow"`

	Capture struct {
		Dir string `yaml:"dir"`
	} `yaml:"capture"`

	Server struct {
		Addr           string `yaml:"addr"`
		MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret   string `yaml:"jwtSecret"`
		JWTAudience string `yaml:"jwtAudience"`
	} `yaml:"auth"`
}

// Default returns the settings used when neither file nor environment provide a value.
func Default() *Config {
	cfg := &Config{}
	cfg.Analysis.BaseURL = "http://localhost:8000"
	cfg.Analysis.Timeout = 60 * time.Second
	cfg.Workflow.ScanPhase = 1500 * time.Millisecond
	cfg.Capture.Dir = os.TempDir()
	cfg.Server.Addr = ":8080"
	cfg.Server.MaxUploadBytes = 10 << 20
	return cfg
}

// Load reads path (optional, empty skips it), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Analysis.BaseURL, "ANALYSIS_BASE_URL")
	setString(&c.Capture.Dir, "CAPTURE_DIR")
	setString(&c.Server.Addr, "HTTP_ADDR")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.JWTAudience, "JWT_AUDIENCE")

	if err := setDuration(&c.Analysis.Timeout, "ANALYSIS_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Workflow.ScanPhase, "SCAN_PHASE"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.Server.MaxUploadBytes = n
	}
	return nil
}

// Validate checks the settings that cannot fall back to a default.
func (c *Config) Validate() error {
	if c.Analysis.BaseURL == "" {
		return errors.New("analysis base URL is required")
	}
	u, err := url.Parse(c.Analysis.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid analysis base URL %q", c.Analysis.BaseURL)
	}
	if c.Analysis.Timeout <= 0 {
		return errors.New("analysis timeout must be positive")
	}
	if c.Workflow.ScanPhase < 0 {
		return errors.New("scan phase must not be negative")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}
	return nil
}

// ValidateServer checks the settings the presentation API needs on top of Validate.
// There is no default signing secret; the API refuses to start without one.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwtSecret (JWT_SECRET) is required to serve the API")
	}
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

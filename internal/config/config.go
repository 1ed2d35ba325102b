package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitae-app/vitae/internal/domain"
)

// Runner names accepted in compiler.runner.
const (
	RunnerExec   = "exec"
	RunnerDocker = "docker"
)

// CompilerConfig defines how the typesetting engine is launched.
type CompilerConfig struct {
	Binary      string `json:"binary" yaml:"binary"`
	Runner      string `json:"runner" yaml:"runner"`
	DockerImage string `json:"docker_image" yaml:"docker_image"`
	// TimeoutSec bounds a single run; zero leaves runs unbounded.
	TimeoutSec int `json:"timeout_sec" yaml:"timeout_sec"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DataDir            string         `json:"data_dir" yaml:"data_dir"`
	DBPath             string         `json:"db_path" yaml:"db_path"`
	Workspace          string         `json:"workspace" yaml:"workspace"`
	Compiler           CompilerConfig `json:"compiler" yaml:"compiler"`
	ListenAddr         string         `json:"listen_addr" yaml:"listen_addr"`
	RedisAddr          string         `json:"redis_addr" yaml:"redis_addr"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	LogLevel           string         `json:"log_level" yaml:"log_level"`
	// AllowedOrigins lists the browser origins of front ends that may call the API.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	// TrustedProxies lists peer IPs whose X-Forwarded-For header is believed.
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
}

// Load reads a JSON or YAML config file, applies defaults, and validates.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a validated configuration rooted at dataDir.
func Default(dataDir string) (*Config, error) {
	cfg := Config{DataDir: dataDir}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultDataDir is the per-user application data directory.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "vitae"), nil
}

func (c *Config) applyDefaults() {
	if c.DataDir != "" {
		if c.DBPath == "" {
			c.DBPath = filepath.Join(c.DataDir, "vitae.db")
		}
		if c.Workspace == "" {
			c.Workspace = filepath.Join(c.DataDir, "temp")
		}
	}
	if c.Compiler.Binary == "" {
		c.Compiler.Binary = "pdflatex"
	}
	if c.Compiler.Runner == "" {
		c.Compiler.Runner = RunnerExec
	}
	if c.Compiler.DockerImage == "" {
		c.Compiler.DockerImage = "texlive/texlive:latest"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9810"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"tauri://localhost", "http://tauri.localhost"}
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path or data_dir is required")
	}
	if c.Workspace == "" {
		problems = append(problems, "workspace or data_dir is required")
	}
	if c.Compiler.Runner != RunnerExec && c.Compiler.Runner != RunnerDocker {
		problems = append(problems, fmt.Sprintf("compiler.runner must be %q or %q", RunnerExec, RunnerDocker))
	}
	if c.Compiler.TimeoutSec < 0 {
		problems = append(problems, "compiler.timeout_sec must not be negative")
	}
	if c.RateLimitPerMinute < 0 {
		problems = append(problems, "rate_limit_per_minute must not be negative")
	}
	for _, o := range c.AllowedOrigins {
		if strings.TrimSpace(o) == "*" {
			problems = append(problems, "allowed_origins must list origins, not \"*\"")
		}
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			problems = append(problems, fmt.Sprintf("trusted_proxies: %q is not an IP address", p))
		}
	}
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		problems = append(problems, "log_level must be one of debug, info, warn, error")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return logLevels[strings.ToLower(c.LogLevel)]
}

// CompileTimeout returns the per-run bound, or zero for none.
func (c *Config) CompileTimeout() time.Duration {
	return time.Duration(c.Compiler.TimeoutSec) * time.Second
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds client configuration loaded from YAML and env.
type Config struct {
	APIURL     string
	APITimeout time.Duration // 0 leaves the transport default (no timeout)

	SessionBackend string // "file", "memory" or "memcached"
	SessionPath    string
	SessionKey     string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	LogLevel string

	RecentLimit int

	ServerPort       string
	RequestTimeout   time.Duration
	RateLimitRPS     int
	RateLimitBurst   int
	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int

	ZipkinURL   string
	ServiceName string
}

type fileConfig struct {
	API struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`

	Session struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		Key       string `yaml:"key"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"session"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Dashboard struct {
		RecentLimit int `yaml:"recent_limit"`
	} `yaml:"dashboard"`

	Server struct {
		Port             string `yaml:"port"`
		RequestTimeout   string `yaml:"request_timeout"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"server"`

	Tracing struct {
		ZipkinURL   string `yaml:"zipkin_url"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

const (
	DefaultAPIURL     = "http://localhost:3000"
	DefaultSessionKey = "skywatch_token"
)

// Load reads config/{ENV_NAME}.yaml (default dev) relative to the working directory.
// A missing file is not an error; defaults and env overrides apply.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "config", env+".yaml"), false)
}

// LoadFile reads the YAML file at path. When required is false a missing file
// yields the defaults.
func LoadFile(path string, required bool) (*Config, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		if required {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.APIURL = strings.TrimSpace(fc.API.URL)
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APITimeout = parseDurationOrZero(fc.API.Timeout, 0)

	cfg.SessionBackend = strings.TrimSpace(strings.ToLower(fc.Session.Backend))
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "file"
	}
	cfg.SessionPath = strings.TrimSpace(fc.Session.Path)
	cfg.SessionKey = strings.TrimSpace(fc.Session.Key)
	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Session.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Session.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Session.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.LogLevel = fc.Log.Level

	cfg.RecentLimit = fc.Dashboard.RecentLimit
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8090"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 15*time.Second)
	cfg.RateLimitRPS = fc.Server.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Server.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 10*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Server.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Server.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ZipkinURL = strings.TrimSpace(fc.Tracing.ZipkinURL)
	cfg.ServiceName = strings.TrimSpace(fc.Tracing.ServiceName)
	if cfg.ServiceName == "" {
		cfg.ServiceName = "skywatch"
	}
	return cfg
}

// applyEnv lets the environment override the file for the settings people
// change per shell.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SKYWATCH_API_URL")); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("SESSION_BACKEND"))); v != "" {
		cfg.SessionBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_PATH")); v != "" {
		cfg.SessionPath = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("ZIPKIN_URL")); v != "" {
		cfg.ZipkinURL = v
	}
}

// DefaultSessionPath returns ~/.skywatch/session.yaml, or a relative path when
// the home directory is unknown.
func DefaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".skywatch", "session.yaml")
	}
	return filepath.Join(home, ".skywatch", "session.yaml")
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation and fills derived defaults.
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.url must be an absolute URL, got %q", cfg.APIURL)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.APITimeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	switch cfg.SessionBackend {
	case "file":
		if cfg.SessionPath == "" {
			cfg.SessionPath = DefaultSessionPath()
		}
	case "memory", "memcached":
		// valid
	default:
		return fmt.Errorf("session.backend must be file, memory or memcached, got %q", cfg.SessionBackend)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("server.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}

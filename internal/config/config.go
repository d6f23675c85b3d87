package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// IP versions accepted on the command line and in configuration
const (
	IPv4 = "ipv4"
	IPv6 = "ipv6"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Reporter ReporterConfig `yaml:"reporter"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	IPVersion             string `yaml:"ip_version"`
	Port                  int    `yaml:"port"`
	ReadBufferSize        int    `yaml:"read_buffer_size"`   // bytes per datagram read
	SocketBufferSize      int    `yaml:"socket_buffer_size"` // kernel receive buffer
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
	ReuseAddress          bool   `yaml:"reuse_address"`
}

// SessionConfig contains per-session streaming parameters
type SessionConfig struct {
	PacingInterval float64 `yaml:"pacing_interval"` // seconds
}

// ReporterConfig controls the periodic active-session report
type ReporterConfig struct {
	Interval float64 `yaml:"interval"` // seconds
}

// CatalogConfig selects the catalog source
type CatalogConfig struct {
	Path string `yaml:"path"` // empty means the embedded catalog
}

// HTTPConfig contains HTTP monitoring server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig controls the OpenTelemetry span exporter
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Output      string  `yaml:"output"`       // stdout, stderr or a file path
	SampleRatio float64 `yaml:"sample_ratio"` // fraction of sessions traced, 0..1
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			IPVersion:             IPv4,
			Port:                  5000,
			ReadBufferSize:        2048,
			SocketBufferSize:      65536,
			MaxConcurrentSessions: 64,
			ReuseAddress:          true,
		},
		Session: SessionConfig{
			PacingInterval: 3,
		},
		Reporter: ReporterConfig{
			Interval: 4,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Output:      "stdout",
			SampleRatio: 1,
		},
	}
}

// Load reads a configuration file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyArgs applies the positional "<ipv4|ipv6> <port>" arguments and revalidates
func (c *Config) ApplyArgs(ipVersion, port string) error {
	if err := ValidateIPVersion(ipVersion); err != nil {
		return err
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}

	c.Server.IPVersion = ipVersion
	c.Server.Port = p

	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Reporter.Validate(); err != nil {
		return fmt.Errorf("reporter config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}

	return nil
}

// ValidateIPVersion checks an IP version token
func ValidateIPVersion(v string) error {
	if v != IPv4 && v != IPv6 {
		return fmt.Errorf("ip version must be '%s' or '%s', got '%s'", IPv4, IPv6, v)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if err := ValidateIPVersion(s.IPVersion); err != nil {
		return err
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.ReadBufferSize < 64 {
		return fmt.Errorf("read_buffer_size must be at least 64 bytes, got %d", s.ReadBufferSize)
	}

	if s.SocketBufferSize < 0 {
		return fmt.Errorf("socket_buffer_size cannot be negative, got %d", s.SocketBufferSize)
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.PacingInterval < 0 {
		return fmt.Errorf("pacing_interval cannot be negative, got %f", s.PacingInterval)
	}
	return nil
}

// Validate validates reporter configuration
func (r *ReporterConfig) Validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %f", r.Interval)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path
	return nil
}

// Validate validates tracing configuration
func (t *TracingConfig) Validate() error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1, got %f", t.SampleRatio)
	}

	if t.Enabled && t.Output == "" {
		return fmt.Errorf("output cannot be empty when tracing is enabled")
	}

	return nil
}

// Network returns the Go network name for the configured IP version
func (s *ServerConfig) Network() string {
	if s.IPVersion == IPv6 {
		return "udp6"
	}
	return "udp4"
}

// GetPacingInterval returns the delay between fragments as a time.Duration
func (s *SessionConfig) GetPacingInterval() time.Duration {
	return time.Duration(s.PacingInterval * float64(time.Second))
}

// GetInterval returns the report interval as a time.Duration
func (r *ReporterConfig) GetInterval() time.Duration {
	return time.Duration(r.Interval * float64(time.Second))
}

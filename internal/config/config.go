// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/tjamescouch/agentauth/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/agentauth/config.toml",
	"agentauth.toml",
}

// ReservedPrefix is the first path segment owned by the proxy itself.
// No backend may use it as a name.
const ReservedPrefix = "agentauth"

// HealthPath is the built-in health endpoint.
const HealthPath = "/" + ReservedPrefix + "/health"

// envRefPattern matches ${NAME} references in header values. Bare $NAME is
// left alone so secrets containing '$' survive untouched.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string           `kong:"short='c',help='Path to TOML or YAML config file.',env='AGENTAUTH_CONFIG'"`
	Host     string           `kong:"help='Listen host (overrides config).',env='AGENTAUTH_HOST'"`
	Port     int              `kong:"short='p',help='Listen port (overrides config).',env='AGENTAUTH_PORT'"`
	AuditLog string           `kong:"help='Audit log file (overrides config).',env='AGENTAUTH_AUDIT_LOG'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='AGENTAUTH_LOG_LEVEL'"`
	Version  kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig             `toml:"server" yaml:"server"`
	Upstream UpstreamConfig           `toml:"upstream" yaml:"upstream"`
	Audit    AuditConfig              `toml:"audit" yaml:"audit"`
	Log      LogConfig                `toml:"log" yaml:"log"`
	Metrics  MetricsConfig            `toml:"metrics" yaml:"metrics"`
	Backends map[string]BackendConfig `toml:"backends" yaml:"backends"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"` // 0 means "use default" (8787)
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	// TimeoutSeconds bounds the wait for upstream response headers. 0 disables it.
	TimeoutSeconds  int `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections" yaml:"idle_connections"`
}

// AuditConfig selects where audit entries go.
type AuditConfig struct {
	// Path of the JSON Lines audit file. Empty sends entries to the logger.
	Path string `toml:"path" yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// BackendConfig defines one upstream API as written in the config file.
type BackendConfig struct {
	Target string `toml:"target" yaml:"target"`
	// Headers are injected into every upstream request. Values may reference
	// environment variables as ${NAME}.
	Headers      map[string]string `toml:"headers" yaml:"headers"`
	AllowedPaths []string          `toml:"allowed_paths" yaml:"allowed_paths"`
	MaxBodyBytes int64             `toml:"max_body_bytes" yaml:"max_body_bytes"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or AGENTAUTH_CONFIG), it searches
// /etc/agentauth/config.toml then ./agentauth.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	// Build once so unresolved ${VAR} references fail at startup, not per request.
	if _, err := cfg.BackendTable(); err != nil {
		return nil, fmt.Errorf("config: backends: %w", err)
	}

	return &cfg, nil
}

// unmarshal decodes YAML for .yaml/.yml files and TOML otherwise.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.AuditLog != "" {
		c.Audit.Path = cli.AuditLog
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for name, b := range c.Backends {
		if err := validateBackend(name, b); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "pretty", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text, pretty; got %q", c.Log.Format)
	}

	// Metrics live under the reserved prefix so they can never shadow a backend.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, "/"+ReservedPrefix+"/") {
			return fmt.Errorf("metrics.path must start with %q; got %q", "/"+ReservedPrefix+"/", p)
		}
		if p == HealthPath {
			return fmt.Errorf("metrics.path %q conflicts with the health endpoint", p)
		}
	}

	return nil
}

func validateBackend(name string, b BackendConfig) error {
	switch {
	case name == "":
		return fmt.Errorf("backend name must not be empty")
	case strings.Contains(name, "/"):
		return fmt.Errorf("backends.%s: name must not contain '/'", name)
	case name == ReservedPrefix:
		return fmt.Errorf("backends.%s: name is reserved", name)
	}

	if b.Target == "" {
		return fmt.Errorf("backends.%s.target is required", name)
	}
	u, err := url.Parse(b.Target)
	if err != nil {
		return fmt.Errorf("backends.%s.target is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backends.%s.target must use http or https; got %q", name, b.Target)
	}
	if u.Host == "" {
		return fmt.Errorf("backends.%s.target has no host; got %q", name, b.Target)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("backends.%s.target must be an origin (scheme://host[:port]); got %q", name, b.Target)
	}

	if b.MaxBodyBytes < 0 {
		return fmt.Errorf("backends.%s.max_body_bytes must be non-negative; got %d", name, b.MaxBodyBytes)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because the file formats cannot
// distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8787
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/" + ReservedPrefix + "/metrics"
	}
}

// BackendTable resolves ${VAR} references in backend headers and returns the
// immutable table the proxy serves from.
func (c *Config) BackendTable() (*model.BackendTable, error) {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	slices.Sort(names)

	backends := make([]model.Backend, 0, len(names))
	for _, name := range names {
		b := c.Backends[name]

		target, err := url.Parse(b.Target)
		if err != nil {
			return nil, fmt.Errorf("backends.%s.target: %w", name, err)
		}

		headers := make(map[string]string, len(b.Headers))
		for header, raw := range b.Headers {
			value, err := expandEnv(raw)
			if err != nil {
				return nil, fmt.Errorf("backends.%s.headers.%s: %w", name, header, err)
			}
			headers[header] = value
		}

		backends = append(backends, model.Backend{
			Name:         name,
			Target:       target,
			Headers:      headers,
			AllowedPaths: b.AllowedPaths,
			MaxBodyBytes: b.MaxBodyBytes,
		})
	}
	return model.NewBackendTable(backends...)
}

// expandEnv replaces ${NAME} references with environment values.
// Unset variables are an error; an empty credential is never what was meant.
func expandEnv(s string) (string, error) {
	var missing []string
	out := envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable(s) not set: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// IsLoopback reports whether the listen host only accepts local connections.
func (c *ServerConfig) IsLoopback() bool {
	if strings.EqualFold(c.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsLoopback()
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnExposure logs a warning when the proxy listens beyond loopback.
// Anything that can reach the port can spend the configured credentials.
func (c *Config) WarnExposure(logger *slog.Logger) {
	if c.Server.IsLoopback() {
		return
	}
	logger.Warn("listening on a non-loopback address; any host that can reach it can use the configured credentials",
		"addr", c.Server.Addr(),
	)
}

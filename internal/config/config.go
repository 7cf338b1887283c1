// Package config handles command-line flags, optional TOML configuration and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mitchellh/go-homedir"
	toml "github.com/pelletier/go-toml/v2"
)

// CanonicalBackend is the hosted game server the client was built for.
const CanonicalBackend = "https://screeps.com"

// InternalPrefix is the path namespace reserved for the proxy's own endpoints.
const InternalPrefix = "/_proxy"

// ErrNoPackage is returned when no client archive path was given and none of
// the platform default locations exist.
var ErrNoPackage = errors.New("could not find package.nw; pass --package")

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/screeps-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Package         string           `kong:"help='Path to the client package.nw archive.',env='SCREEPS_PACKAGE',type='path'"`
	Host            string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Backend         string           `kong:"help='Pin every request to this backend origin.',env='SCREEPS_BACKEND'"`
	InternalBackend string           `kong:"help='Origin dialed when forwarding, if it differs from the public one.',env='SCREEPS_INTERNAL_BACKEND'"`
	Beautify        bool             `kong:"help='Reformat served JavaScript assets.'"`
	Open            bool             `kong:"help='Open the client in the default browser once listening.'"`
	LogLevel        string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version         kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Backend  BackendConfig  `toml:"backend"`
	Assets   AssetsConfig   `toml:"assets"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	// OpenBrowser is only settable from the command line.
	OpenBrowser bool `toml:"-"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ArchiveConfig locates the client package and controls freshness metadata.
type ArchiveConfig struct {
	Path string `toml:"path"`
	// LastModifiedPrecision is "minute" or "second".
	LastModifiedPrecision string `toml:"last_modified_precision"`
}

// BackendConfig controls backend selection.
type BackendConfig struct {
	// Fixed pins every request to one origin and disables path-embedded selection.
	Fixed string `toml:"fixed"`
	// Internal is the origin actually dialed; the selected origin stays visible
	// to the client and to content rewrites.
	Internal string `toml:"internal"`
}

// AssetsConfig controls archive-served content.
type AssetsConfig struct {
	Beautify bool `toml:"beautify"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"` // 0 disables the client timeout
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file, applies CLI overrides and resolves
// the client archive path. When no explicit path is given (via --config or
// CONFIG_PATH), it searches /etc/screeps-proxy/config.toml then
// configs/config.toml; finding neither is not an error.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.Backend.Fixed = trimOrigin(cfg.Backend.Fixed)
	cfg.Backend.Internal = trimOrigin(cfg.Backend.Internal)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if cfg.Archive.Path == "" {
		p, err := findPackage()
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Archive.Path = p
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Package != "" {
		c.Archive.Path = cli.Package
	}
	if cli.Backend != "" {
		c.Backend.Fixed = cli.Backend
	}
	if cli.InternalBackend != "" {
		c.Backend.Internal = cli.InternalBackend
	}
	if cli.Beautify {
		c.Assets.Beautify = true
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	c.OpenBrowser = cli.Open
}

func (c *Config) validate() error {
	rateLimit := c.Server.RateLimit
	return validation.Errors{
		"server.port":           validation.Validate(c.Server.Port, validation.Min(0), validation.Max(65535)),
		"server.body_max_bytes": validation.Validate(c.Server.BodyMaxBytes, validation.Min(int64(0))),
		"server.rate_limit.requests_per_second": validation.Validate(rateLimit.RequestsPerSecond,
			validation.When(rateLimit.Enabled, validation.Required, validation.Min(0.0).Exclusive()),
		),
		"archive.last_modified_precision": validation.Validate(strings.ToLower(c.Archive.LastModifiedPrecision),
			validation.In("minute", "second"),
		),
		"backend.fixed":             validation.Validate(c.Backend.Fixed, validation.By(validateOrigin)),
		"backend.internal":          validation.Validate(c.Backend.Internal, validation.By(validateOrigin)),
		"upstream.timeout_seconds":  validation.Validate(c.Upstream.TimeoutSeconds, validation.Min(0)),
		"upstream.idle_connections": validation.Validate(c.Upstream.IdleConnections, validation.Min(0)),
		"log.level": validation.Validate(strings.ToLower(c.Log.Level),
			validation.In("debug", "info", "warn", "error"),
		),
		"log.format": validation.Validate(strings.ToLower(c.Log.Format),
			validation.In("json", "text"),
		),
		"metrics.path": validation.Validate(c.Metrics.Path,
			validation.When(c.Metrics.Enabled, validation.By(validateMetricsPath)),
		),
	}.Filter()
}

// validateOrigin accepts an empty value or an absolute http(s) URL.
func validateOrigin(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}
	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}
	return nil
}

func validateMetricsPath(value interface{}) error {
	p, _ := value.(string)
	if p == "" {
		return nil
	}
	if p[0] != '/' {
		return validation.NewError("validation_metrics_path", "must start with '/'")
	}
	if strings.HasPrefix(p, "/(") {
		return validation.NewError("validation_metrics_path", "conflicts with backend-selector paths")
	}
	for _, reserved := range []string{InternalPrefix + "/healthz", InternalPrefix + "/status"} {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return validation.NewError("validation_metrics_path", fmt.Sprintf("conflicts with reserved route %q", reserved))
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Archive.LastModifiedPrecision == "" {
		c.Archive.LastModifiedPrecision = "minute"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = InternalPrefix + "/metrics"
	}
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

// findPackage returns the first platform default archive location that exists.
func findPackage() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		home = ""
	}
	return findPackageIn(defaultPackagePaths(runtime.GOOS, home))
}

func findPackageIn(candidates []string) (string, error) {
	if p := findConfigInPaths(candidates); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w (searched %v)", ErrNoPackage, candidates)
}

// defaultPackagePaths lists where Steam installs the client on each platform.
func defaultPackagePaths(goos, home string) []string {
	const rel = "steamapps/common/Screeps/package.nw"
	switch goos {
	case "darwin":
		if home == "" {
			return nil
		}
		return []string{filepath.Join(home, "Library/Application Support/Steam", rel)}
	case "windows":
		return []string{`C:\Program Files (x86)\Steam\steamapps\common\Screeps\package.nw`}
	default:
		if home == "" {
			return nil
		}
		return []string{
			filepath.Join(home, ".local/share/Steam", rel),
			filepath.Join(home, ".steam/steam", rel),
		}
	}
}

// trimOrigin strips trailing slashes from a configured origin.
func trimOrigin(origin string) string {
	return strings.TrimRight(origin, "/")
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Target returns the origin to dial for a selected backend.
func (c *BackendConfig) Target(selected string) string {
	if c.Internal != "" {
		return c.Internal
	}
	return selected
}

// Precision returns the granularity applied to archive modification times.
func (c *ArchiveConfig) Precision() time.Duration {
	if strings.EqualFold(c.LastModifiedPrecision, "second") {
		return time.Second
	}
	return time.Minute
}

// ListenURL returns the URL a browser should open to reach the client.
func (c *Config) ListenURL() string {
	u := fmt.Sprintf("http://%s/", c.Server.Addr())
	if c.Backend.Fixed == "" {
		u += "(" + CanonicalBackend + ")/"
	}
	return u
}

// FilePath returns the config file that was loaded, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

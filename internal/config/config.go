package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the main configuration structure for the LegalCheck client.
type Config struct {
	Version       int                 `yaml:"version"`
	API           APIConfig           `yaml:"api"`
	Auth          AuthConfig          `yaml:"auth"`
	Chat          ChatConfig          `yaml:"chat"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type APIConfig struct {
	// BaseURL is the REST root, e.g. "http://localhost:8000/api/v1/".
	BaseURL string `yaml:"base_url"`

	// WSURL is the websocket root. Derived from BaseURL when empty.
	WSURL string `yaml:"ws_url"`

	Timeout           time.Duration `yaml:"timeout"`
	DebugRequests     bool          `yaml:"debug_requests"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// AuthMode selects how the websocket handshake carries the session token.
type AuthMode string

const (
	// AuthModeQuery passes the token as a ?token= query parameter.
	AuthModeQuery AuthMode = "query"
	// AuthModeCookie sends the token as the session cookie.
	AuthModeCookie AuthMode = "cookie"
)

type AuthConfig struct {
	Mode       AuthMode `yaml:"mode"`
	Token      string   `yaml:"token"`
	TokenFile  string   `yaml:"token_file"`
	CookieName string   `yaml:"cookie_name"`
}

type ChatConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`
	ReconcileWindow time.Duration `yaml:"reconcile_window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	MetricsAddr   string  `yaml:"metrics_addr"`
	TraceEndpoint string  `yaml:"trace_endpoint"`
	TraceInsecure bool    `yaml:"trace_insecure"`
	SamplingRate  float64 `yaml:"sampling_rate"`
}

const (
	DefaultBaseURL         = "http://localhost:8000/api/v1/"
	DefaultCookieName      = "legalcheck_access_token"
	DefaultTimeout         = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultCloseTimeout    = 2 * time.Second
	DefaultReconcileWindow = 30 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

// Load reads, merges, decodes and validates the configuration file. A .env
// file next to it is loaded first so ${VAR} references can resolve to it.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	// godotenv.Load does not override variables that are already set.
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.API.WSURL) == "" {
		cfg.API.WSURL = DeriveWSURL(cfg.API.BaseURL)
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = DefaultTimeout
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 1
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeQuery
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = DefaultCookieName
	}
	if cfg.Chat.ConnectTimeout == 0 {
		cfg.Chat.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Chat.CloseTimeout == 0 {
		cfg.Chat.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.Chat.ReconcileWindow == 0 {
		cfg.Chat.ReconcileWindow = DefaultReconcileWindow
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var issues []string

	if err := checkURL(c.API.BaseURL, "http", "https"); err != nil {
		issues = append(issues, fmt.Sprintf("api.base_url: %v", err))
	}
	if err := checkURL(c.API.WSURL, "ws", "wss"); err != nil {
		issues = append(issues, fmt.Sprintf("api.ws_url: %v", err))
	}
	if c.API.Timeout < 0 {
		issues = append(issues, "api.timeout must not be negative")
	}
	if c.API.RequestsPerSecond < 0 {
		issues = append(issues, "api.requests_per_second must not be negative")
	}
	if c.API.Burst < 0 {
		issues = append(issues, "api.burst must not be negative")
	}
	switch c.Auth.Mode {
	case AuthModeQuery, AuthModeCookie:
	default:
		issues = append(issues, fmt.Sprintf("auth.mode must be %q or %q, got %q", AuthModeQuery, AuthModeCookie, c.Auth.Mode))
	}
	if c.Chat.ConnectTimeout < 0 || c.Chat.CloseTimeout < 0 || c.Chat.ReconcileWindow < 0 {
		issues = append(issues, "chat timeouts must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		issues = append(issues, "observability.sampling_rate must be between 0 and 1")
	}

	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
}

func checkURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}

// DeriveWSURL maps an http(s) API root onto the matching ws(s) root with the
// same host and path.
func DeriveWSURL(baseURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Host == "" {
		return ""
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/")
}

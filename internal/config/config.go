package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLoginURL is the portal's phone + PIN login page
	DefaultLoginURL = "https://myaccount.freedommobile.ca/login"

	// DefaultVerificationMarker appears in the URL when the portal asks for an OTP
	DefaultVerificationMarker = "account-verification"

	// DefaultUserAgent is sent instead of the headless Chrome default
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	HistoryBackendJSON   = "json"
	HistoryBackendSQLite = "sqlite"
)

// Config holds the application settings read from config.yaml
type Config struct {
	Portal        PortalConfig  `yaml:"portal,omitempty"`
	History       HistoryConfig `yaml:"history,omitempty"`
	Notify        NotifyConfig  `yaml:"notify,omitempty"`
	MQTT          MQTTConfig    `yaml:"mqtt,omitempty"`
	HomeAssistant HAConfig      `yaml:"home_assistant,omitempty"`
	LogLevel      string        `yaml:"log_level,omitempty"` // debug, info, warn, error (fallback: warn)
}

// PortalConfig controls the browser session against the account portal
type PortalConfig struct {
	LoginURL            string `yaml:"login_url,omitempty"`
	VerificationMarker  string `yaml:"verification_marker,omitempty"`
	UserAgent           string `yaml:"user_agent,omitempty"`
	ChromePath          string `yaml:"chrome_path,omitempty"`
	Headless            bool   `yaml:"headless,omitempty"`
	StepTimeoutSeconds  int    `yaml:"step_timeout_seconds,omitempty"`  // fallback: 20
	LoginTimeoutSeconds int    `yaml:"login_timeout_seconds,omitempty"` // fallback: 45
	DebugScreenshots    bool   `yaml:"debug_screenshots,omitempty"`
}

// HistoryConfig selects where usage records are kept
type HistoryConfig struct {
	Backend string `yaml:"backend,omitempty"` // "json" (default) or "sqlite"
}

// NotifyConfig holds desktop notification settings
type NotifyConfig struct {
	Sound string `yaml:"sound,omitempty"`
}

// MQTTConfig holds MQTT broker settings for publishing new records
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // fallback: mobile_data
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`       // e.g., "http://homeassistant.local:8123"
	Token    string `yaml:"token"`     // Long-lived access token
	EntityID string `yaml:"entity_id"` // e.g., "sensor.mobile_data_used"
}

// Default returns the settings written by first-time setup, with every
// fallback spelled out so the file is easy to edit
func Default() *Config {
	return &Config{
		Portal: PortalConfig{
			LoginURL:            DefaultLoginURL,
			VerificationMarker:  DefaultVerificationMarker,
			UserAgent:           DefaultUserAgent,
			StepTimeoutSeconds:  20,
			LoginTimeoutSeconds: 45,
		},
		History:  HistoryConfig{Backend: HistoryBackendJSON},
		Notify:   NotifyConfig{Sound: "default"},
		LogLevel: "warn",
	}
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.History.Backend {
	case "", HistoryBackendJSON, HistoryBackendSQLite:
	default:
		return fmt.Errorf("unknown history backend: %s (available: json, sqlite)", c.History.Backend)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address is required when enabled")
	}
	if c.HomeAssistant.Enabled && (c.HomeAssistant.URL == "" || c.HomeAssistant.Token == "" || c.HomeAssistant.EntityID == "") {
		return fmt.Errorf("home_assistant url, token and entity_id are required when enabled")
	}
	return nil
}

// DefaultDir returns the per-user directory holding history, settings and debug files
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".freedom-tracker"
	}
	return filepath.Join(home, ".freedom-tracker")
}

// DefaultConfigPath returns the settings file path inside dir
func DefaultConfigPath(dir string) string {
	return filepath.Join(dir, "config.yaml")
}

// GetLoginURL returns the portal login URL
func (c *Config) GetLoginURL() string {
	if c.Portal.LoginURL != "" {
		return c.Portal.LoginURL
	}
	return DefaultLoginURL
}

// GetVerificationMarker returns the URL fragment identifying the OTP page
func (c *Config) GetVerificationMarker() string {
	if c.Portal.VerificationMarker != "" {
		return c.Portal.VerificationMarker
	}
	return DefaultVerificationMarker
}

// GetUserAgent returns the browser user agent
func (c *Config) GetUserAgent() string {
	if c.Portal.UserAgent != "" {
		return c.Portal.UserAgent
	}
	return DefaultUserAgent
}

// GetStepTimeout bounds each wait for an element or page change (default 20s)
func (c *Config) GetStepTimeout() time.Duration {
	if c.Portal.StepTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Portal.StepTimeoutSeconds) * time.Second
}

// GetLoginTimeout bounds the wait after submitting credentials or the OTP (default 45s)
func (c *Config) GetLoginTimeout() time.Duration {
	if c.Portal.LoginTimeoutSeconds <= 0 {
		return 45 * time.Second
	}
	return time.Duration(c.Portal.LoginTimeoutSeconds) * time.Second
}

// GetHistoryBackend returns the configured history backend, json by default
func (c *Config) GetHistoryBackend() string {
	if c.History.Backend == "" {
		return HistoryBackendJSON
	}
	return c.History.Backend
}

// GetNotifySound returns the notification sound name
func (c *Config) GetNotifySound() string {
	if c.Notify.Sound == "" {
		return "default"
	}
	return c.Notify.Sound
}

// GetLogLevel returns the configured log level, warn by default
func (c *Config) GetLogLevel() string {
	if c.LogLevel == "" {
		return "warn"
	}
	return c.LogLevel
}

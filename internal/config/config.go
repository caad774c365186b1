package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for Backroom.
type Config struct {
	General GeneralConfig `json:"general"`
	Agent   AgentConfig   `json:"agent"`
	Render  RenderConfig  `json:"render"`
	Web     WebConfig     `json:"web"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// AgentConfig describes the remote agent a chat session talks to.
type AgentConfig struct {
	BaseURL        string `json:"baseURL"`
	AgentID        string `json:"agentID"`
	Name           string `json:"name,omitempty"` // display name on agent messages; empty uses the reply's user field
	UserID         string `json:"userID"`
	RoomPrefix     string `json:"roomPrefix"`
	TimeoutSeconds int    `json:"timeoutSeconds"` // 0 = no limit
}

type RenderConfig struct {
	ThemeFile    string   `json:"themeFile,omitempty"`    // optional YAML theme
	Speakers     []string `json:"speakers,omitempty"`     // overrides the theme's speaker names
	MediaBaseURL string   `json:"mediaBaseURL,omitempty"` // overrides the theme's media base
	Color        bool     `json:"color"`
}

// WebConfig configures the browser view started by "backroom serve".
type WebConfig struct {
	Addr string `json:"addr"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.backroom).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".backroom"
	}
	return filepath.Join(home, ".backroom")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Render.ThemeFile = ExpandPath(cfg.Render.ThemeFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if u, err := url.Parse(cfg.Agent.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "agent.baseURL must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.Agent.UserID) == "" {
		errs = append(errs, "agent.userID must not be empty")
	}
	if strings.ContainsAny(cfg.Agent.AgentID, "/?#") {
		errs = append(errs, "agent.agentID must not contain '/', '?' or '#'")
	}
	if cfg.Agent.TimeoutSeconds < 0 {
		errs = append(errs, "agent.timeoutSeconds must be >= 0")
	}

	if cfg.Render.MediaBaseURL != "" {
		if u, err := url.Parse(cfg.Render.MediaBaseURL); err != nil || u.Host == "" {
			errs = append(errs, "render.mediaBaseURL must be an absolute URL")
		}
	}

	if _, _, err := net.SplitHostPort(cfg.Web.Addr); err != nil {
		errs = append(errs, fmt.Sprintf("web.addr must be host:port: %v", err))
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.addr must be host:port: %v", err))
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with '/'")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

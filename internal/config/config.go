// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-chat/internal/assembler"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/reconnect"
	"github.com/2389/coven-chat/internal/thread"
)

// PathEnv overrides the config file location.
const PathEnv = "COVEN_CHAT_CONFIG"

// Gateway transports.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Replay    ReplayConfig    `yaml:"replay" toml:"replay"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// GatewayConfig holds the gateway address and how live streams are opened
type GatewayConfig struct {
	URL       string `yaml:"url" toml:"url"`
	Transport string `yaml:"transport" toml:"transport"` // sse (default) or websocket
	Sender    string `yaml:"sender" toml:"sender"`
	// Token overrides COVEN_TOKEN and the token file.
	Token string `yaml:"token" toml:"token"`
}

// StreamConfig holds the server conventions used to classify events
type StreamConfig struct {
	MainAgent     string `yaml:"main_agent" toml:"main_agent"`
	ToolAgent     string `yaml:"tool_agent" toml:"tool_agent"`
	TaskMarker    string `yaml:"task_marker" toml:"task_marker"`
	TaskTool      string `yaml:"task_tool" toml:"task_tool"`
	FailurePrefix string `yaml:"failure_prefix" toml:"failure_prefix"`
}

// ReconnectConfig holds the retry schedule after a dropped stream
type ReconnectConfig struct {
	Attempts  int           `yaml:"attempts" toml:"attempts"`
	BaseDelay time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	BaseDelayRaw string `yaml:"base_delay" toml:"base_delay"`
}

// ReplayConfig holds the phrases that settle interrupts during replay
type ReplayConfig struct {
	Phrases thread.Phrases `yaml:"phrases" toml:"phrases"`
}

// DatabaseConfig holds the local event log configuration. An empty path
// keeps the log in memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite (default) or sqlite3
	Path   string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text (default) or json
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	m := event.DefaultMarkers()
	a := assembler.DefaultConfig()
	p := reconnect.DefaultPolicy()
	return &Config{
		Gateway: GatewayConfig{
			URL:       "http://localhost:8080",
			Transport: TransportSSE,
		},
		Stream: StreamConfig{
			MainAgent:     m.Main,
			ToolAgent:     m.ToolExecutor,
			TaskMarker:    m.Task,
			TaskTool:      a.TaskToolName,
			FailurePrefix: a.FailurePrefix,
		},
		Reconnect: ReconnectConfig{
			Attempts:     p.Attempts,
			BaseDelay:    p.Base,
			BaseDelayRaw: p.Base.String(),
		},
		Replay: ReplayConfig{Phrases: thread.DefaultPhrases()},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   defaultDatabasePath(),
		},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
	}
}

// Path returns the config file location: $COVEN_CHAT_CONFIG, else
// $XDG_CONFIG_HOME/coven/chat.yaml, falling back to ~/.config.
func Path() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "coven", "chat.yaml"), nil
}

// LoadDefault loads the file at Path, or returns Default when it does not
// exist.
func LoadDefault() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML. Unset
// fields keep their Default values.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}

	switch c.Gateway.Transport {
	case "", TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("gateway.transport must be %q or %q", TransportSSE, TransportWebSocket)
	}

	if c.Stream.MainAgent == "" {
		return fmt.Errorf("stream.main_agent is required")
	}
	if c.Stream.TaskMarker == "" {
		return fmt.Errorf("stream.task_marker is required")
	}
	if c.Stream.MainAgent == c.Stream.ToolAgent {
		return fmt.Errorf("stream.main_agent and stream.tool_agent must differ")
	}
	if strings.Contains(c.Stream.MainAgent, c.Stream.TaskMarker) {
		return fmt.Errorf("stream.main_agent must not contain stream.task_marker")
	}

	if c.Reconnect.Attempts < 0 {
		return fmt.Errorf("reconnect.attempts must not be negative")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be positive")
	}

	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\"")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\"")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Reconnect.BaseDelayRaw != "" {
		d, err := time.ParseDuration(cfg.Reconnect.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing base_delay %q: %w", cfg.Reconnect.BaseDelayRaw, err)
		}
		cfg.Reconnect.BaseDelay = d
	}
	return nil
}

// ThreadOptions maps the stream and replay sections onto thread options.
func (c *Config) ThreadOptions() thread.Options {
	return thread.Options{
		Assembler: assembler.Config{
			TaskToolName:  c.Stream.TaskTool,
			FailurePrefix: c.Stream.FailurePrefix,
		},
		Markers: event.Markers{
			Main:         c.Stream.MainAgent,
			ToolExecutor: c.Stream.ToolAgent,
			Task:         c.Stream.TaskMarker,
		},
		Phrases: c.Replay.Phrases,
	}
}

// ReconnectPolicy returns the retry schedule.
func (c *Config) ReconnectPolicy() reconnect.Policy {
	return reconnect.Policy{Attempts: c.Reconnect.Attempts, Base: c.Reconnect.BaseDelay}
}

func defaultDatabasePath() string {
	dir, err := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "coven", "chat.db")
}

func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, fallback), nil
}

// Package config handles Despensa configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/despensa/config.yaml, /etc/despensa/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "despensa", "config.yaml"))
	}

	paths = append(paths, "/etc/despensa/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Despensa configuration.
//
// Per-tenant credentials (OPENAI_API_KEY, SERPER_API_KEY) never appear
// here: they arrive with each request in the relay message's variables
// list. Config covers process-level concerns only.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	OpenAI    OpenAIConfig `yaml:"openai"`
	Serper    SerperConfig `yaml:"serper"`
	Agent     AgentConfig  `yaml:"agent"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OpenAIConfig defines the chat-completions endpoint settings. The API
// key is per-request and deliberately absent here.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SerperConfig defines the web/image search endpoint settings.
type SerperConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AgentConfig defines turn-processing behavior.
type AgentConfig struct {
	// DefaultModel is used when a request does not name a model.
	DefaultModel string `yaml:"default_model"`
	// MaxHistory bounds the per-thread conversation store.
	MaxHistory int `yaml:"max_history"`
	// MaxTokens caps the ingredient-extraction completion.
	MaxTokens int `yaml:"max_tokens"`
	// RetailerSite restricts per-ingredient product searches (site: operator).
	RetailerSite string `yaml:"retailer_site"`
	// RetailerName is the retailer's display name in streamed text.
	RetailerName string `yaml:"retailer_name"`
	// ScratchDir receives the per-turn item list files.
	ScratchDir string `yaml:"scratch_dir"`
	// IncludeHistory prepends prior thread turns to the extraction call.
	IncludeHistory bool `yaml:"include_history"`
}

// MQTTConfig defines the optional operational status publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether the MQTT publisher should start.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8002},
		OpenAI: OpenAIConfig{BaseURL: "https://api.openai.com/v1"},
		Serper: SerperConfig{BaseURL: "https://google.serper.dev"},
		Agent: AgentConfig{
			DefaultModel: "gpt-4o-mini",
			MaxHistory:   10,
			MaxTokens:    300,
			RetailerSite: "carrefour.es",
			RetailerName: "Carrefour",
			ScratchDir:   os.TempDir(),
		},
		MQTT: MQTTConfig{
			DeviceName:         "despensa",
			PublishIntervalSec: 60,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file. Environment variable
// references (${VAR}) in the file are expanded before parsing, so
// secrets like the MQTT password can stay out of the file itself.
// Unset fields keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks for values that would fail at startup.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Listen.Port)
	}
	if c.Agent.MaxHistory < 1 {
		return fmt.Errorf("agent max_history must be positive, got %d", c.Agent.MaxHistory)
	}
	if c.MQTT.Configured() && c.MQTT.PublishIntervalSec < 1 {
		return fmt.Errorf("mqtt publish_interval_sec must be positive, got %d", c.MQTT.PublishIntervalSec)
	}
	return nil
}

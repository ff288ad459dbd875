// Package config loads ifengine's configuration: chat and embedding
// provider selection, engine tuning knobs, and the ambient logging and
// telemetry settings, layered the way the teacher layers its own config —
// defaults, then an optional YAML file, then environment overrides.
package config

import (
	"time"

	"ifengine/internal/engine"
)

// Config holds all of ifengine's configuration.
type Config struct {
	Name    string `yaml:"name" mapstructure:"name"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	Chat      ChatConfig      `yaml:"chat" mapstructure:"chat"`
	Embed     EmbedConfig     `yaml:"embed" mapstructure:"embed"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ChatConfig selects and configures the director/writer chat backend.
type ChatConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, gemini, ollama
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Timeout  string `yaml:"timeout" mapstructure:"timeout"`
}

// EmbedConfig selects and configures the embedding backend the memory bank
// and plot-card index share.
type EmbedConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // ollama, gemini
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
}

// EngineConfig tunes the turn pipeline. Durations are kept as strings, the
// teacher's own convention, and parsed on demand via the GetXxx methods.
type EngineConfig struct {
	MemoryGenerationInterval int     `yaml:"memory_generation_interval" mapstructure:"memory_generation_interval"`
	StageTimeout             string  `yaml:"stage_timeout" mapstructure:"stage_timeout"`
	RetryBaseDelay           string  `yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryFactor              float64 `yaml:"retry_factor" mapstructure:"retry_factor"`
	RetryMaxAttempts         int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	DirectorSystemPrompt     string  `yaml:"director_system_prompt" mapstructure:"director_system_prompt"`
	WriterSystemPrompt       string  `yaml:"writer_system_prompt" mapstructure:"writer_system_prompt"`
	MemorySummaryPrompt      string  `yaml:"memory_summary_prompt" mapstructure:"memory_summary_prompt"`
}

// LoggingConfig configures the logging package's global level and sink.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// TelemetryConfig configures the Prometheus metrics exporter. Only Enabled
// is read; Port and Path are not used, and no HTTP endpoint is served.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns ifengine's built-in defaults, overridden by Load's
// file and environment layers.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ifengine",
		DataDir: "data",

		Chat: ChatConfig{
			Provider: "ollama",
			Model:    "llama3.1",
			Timeout:  "120s",
		},

		Embed: EmbedConfig{
			Provider: "ollama",
			Endpoint: "http://localhost:11434",
			Model:    "nomic-embed-text",
		},

		Engine: EngineConfig{
			MemoryGenerationInterval: 10,
			StageTimeout:             "2m",
			RetryBaseDelay:           "2s",
			RetryFactor:              2.0,
			RetryMaxAttempts:         3,
			DirectorSystemPrompt:     "You are the director. Assess the player's action and, if it changes the world, call patch_state.",
			WriterSystemPrompt:       "You are the writer. Narrate the outcome of the player's action in the voice of the story.",
			MemorySummaryPrompt:      "Summarize the following turns into a single durable memory, in one or two sentences.",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "ifengine.log",
		},

		Telemetry: TelemetryConfig{
			Enabled: true,
			Port:    9464,
			Path:    "/metrics",
		},
	}
}

const (
	defaultStageTimeout   = 2 * time.Minute
	defaultRetryBaseDelay = 2 * time.Second
	defaultChatTimeout    = 2 * time.Minute
)

// GetStageTimeout returns the engine's per-stage timeout, falling back to
// two minutes on a malformed setting.
func (c *Config) GetStageTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.StageTimeout)
	if err != nil {
		return defaultStageTimeout
	}
	return d
}

// GetRetryBaseDelay returns the engine's retry base delay, falling back to
// two seconds on a malformed setting.
func (c *Config) GetRetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.Engine.RetryBaseDelay)
	if err != nil {
		return defaultRetryBaseDelay
	}
	return d
}

// GetChatTimeout returns the chat provider's request timeout, falling back
// to two minutes on a malformed setting.
func (c *Config) GetChatTimeout() time.Duration {
	d, err := time.ParseDuration(c.Chat.Timeout)
	if err != nil {
		return defaultChatTimeout
	}
	return d
}

// ToEngineConfig converts the loaded configuration into internal/engine's
// own Config, resolving its duration strings.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		MemoryGenerationInterval: c.Engine.MemoryGenerationInterval,
		DirectorSystemPrompt:     c.Engine.DirectorSystemPrompt,
		WriterSystemPrompt:       c.Engine.WriterSystemPrompt,
		MemorySummaryPrompt:      c.Engine.MemorySummaryPrompt,
		StageTimeout:             c.GetStageTimeout(),
		RetryBaseDelay:           c.GetRetryBaseDelay(),
		RetryFactor:              c.Engine.RetryFactor,
		RetryMaxAttempts:         c.Engine.RetryMaxAttempts,
	}
}

// ValidChatProviders lists the chat backends internal/chatprovider wires up.
var ValidChatProviders = []string{"openai", "anthropic", "gemini", "ollama"}

// ValidEmbedProviders lists the embedding backends internal/embedprovider
// wires up.
var ValidEmbedProviders = []string{"ollama", "gemini"}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{(\w+)(:([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:default} placeholders in a config
// file's raw text before viper parses it, so a checked-in config can name
// an environment variable without ever holding its value.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		key, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// setDefaults registers cfg's current values with viper so that
// AutomaticEnv and Unmarshal see every key even when no file sets it,
// matching the teacher's own exhaustive SetDefault seeding.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("name", cfg.Name)
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("chat.provider", cfg.Chat.Provider)
	v.SetDefault("chat.model", cfg.Chat.Model)
	v.SetDefault("chat.api_key", cfg.Chat.APIKey)
	v.SetDefault("chat.base_url", cfg.Chat.BaseURL)
	v.SetDefault("chat.timeout", cfg.Chat.Timeout)

	v.SetDefault("embed.provider", cfg.Embed.Provider)
	v.SetDefault("embed.endpoint", cfg.Embed.Endpoint)
	v.SetDefault("embed.model", cfg.Embed.Model)
	v.SetDefault("embed.api_key", cfg.Embed.APIKey)

	v.SetDefault("engine.memory_generation_interval", cfg.Engine.MemoryGenerationInterval)
	v.SetDefault("engine.stage_timeout", cfg.Engine.StageTimeout)
	v.SetDefault("engine.retry_base_delay", cfg.Engine.RetryBaseDelay)
	v.SetDefault("engine.retry_factor", cfg.Engine.RetryFactor)
	v.SetDefault("engine.retry_max_attempts", cfg.Engine.RetryMaxAttempts)
	v.SetDefault("engine.director_system_prompt", cfg.Engine.DirectorSystemPrompt)
	v.SetDefault("engine.writer_system_prompt", cfg.Engine.WriterSystemPrompt)
	v.SetDefault("engine.memory_summary_prompt", cfg.Engine.MemorySummaryPrompt)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)

	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.port", cfg.Telemetry.Port)
	v.SetDefault("telemetry.path", cfg.Telemetry.Path)
}

// Load reads configuration from path if it exists, layered over
// DefaultConfig and then IFENGINE_-prefixed environment variables, and
// finally applies well-known provider API key environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IFENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			if err := v.ReadConfig(strings.NewReader(expandEnv(string(data)))); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.applyProviderKeyOverrides()
	return cfg, nil
}

// applyProviderKeyOverrides mirrors the teacher's own priority-ordered API
// key lookup: a provider-specific key in the environment wins over whatever
// the file or defaults set, and also selects that chat provider.
// OLLAMA_HOST only sets the embedding endpoint.
func (c *Config) applyProviderKeyOverrides() {
	if key := os.Getenv("OLLAMA_HOST"); key != "" {
		c.Embed.Endpoint = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embed.APIKey = key
		c.Chat.APIKey = key
		c.Chat.Provider = "gemini"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Chat.APIKey = key
		c.Chat.Provider = "anthropic"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Chat.APIKey = key
		c.Chat.Provider = "openai"
	}
}

// Save writes the configuration back out as YAML, for a CLI init command
// that wants to materialize the defaults to disk. Marshaled directly with
// yaml.v3 against the struct's own yaml tags, the teacher's own convention
// in its config.go rather than routing back through viper.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}


// Package embedprovider adapts external text-embedding backends to the
// EmbedProvider capability trait the engine depends on: text in, unit-norm
// (or provider-native) float vector out, of a known fixed dimension. The
// engine never names a concrete provider, only this trait.
package embedprovider

import (
	"context"
)

// Provider is the capability trait spec.md's engine and memory bank depend
// on. A concrete backend (Ollama, Gemini) satisfies it; the engine never
// imports a concrete type.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Config selects and configures a backend, mirroring the teacher's
// embedding.Config shape.
type Config struct {
	Provider       string // "ollama" | "genai"
	OllamaEndpoint string
	OllamaModel    string
	GenAIAPIKey    string
	GenAIModel     string
	TaskType       string
}

// DefaultConfig returns Ollama-backed defaults, matching the teacher's own
// default provider choice.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}

// New constructs the Provider selected by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "genai":
		return newGenAIProvider(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return newOllamaProvider(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	}
}


package main

import (
	"context"
	"fmt"
	"path/filepath"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"ifengine/internal/chatprovider"
	"ifengine/internal/config"
	"ifengine/internal/embedprovider"
	"ifengine/internal/engine"
	"ifengine/internal/memorybank"
	"ifengine/internal/plotcards"
	"ifengine/internal/session"
	"ifengine/internal/storytree"
	"ifengine/internal/toolschema"
)

// app bundles a running session's live components: the engine plus the
// memory bank and plot index it was built with, so a command can Act on it
// and then hand it back to bootstrap for saving.
type app struct {
	engine *engine.Engine
	mem    *memorybank.Bank
	plots  *plotcards.Index
	path   string
}

func sessionPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, session.DefaultFileName)
}

// newChatProvider builds the director/writer chat backend from cfg.Chat,
// following the teacher's own any-llm-go option wiring.
func newChatProvider(cfg config.ChatConfig) (chatprovider.Provider, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return chatprovider.New(cfg.Provider, cfg.Model, opts...)
}

// newEmbedProvider builds the shared embedding backend from cfg.Embed.
// config's "gemini" provider name maps onto embedprovider's "genai".
func newEmbedProvider(cfg config.EmbedConfig) (embedprovider.Provider, error) {
	ecfg := embedprovider.DefaultConfig()
	ecfg.OllamaEndpoint = cfg.Endpoint
	ecfg.OllamaModel = cfg.Model
	ecfg.GenAIAPIKey = cfg.APIKey
	ecfg.GenAIModel = cfg.Model

	switch cfg.Provider {
	case "gemini":
		ecfg.Provider = "genai"
	default:
		ecfg.Provider = "ollama"
	}
	return embedprovider.New(ecfg)
}

// bootstrap wires up an app: chat and embed providers, the memory bank and
// plot-card index, and an Engine either resuming a saved session or
// starting a fresh one.
func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	chat, err := newChatProvider(cfg.Chat)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: chat provider: %w", err)
	}
	embed, err := newEmbedProvider(cfg.Embed)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: embed provider: %w", err)
	}

	mem, err := memorybank.Open(filepath.Join(cfg.DataDir, "memory.db"), embed, chat)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open memory bank: %w", err)
	}
	plots, err := plotcards.Open(filepath.Join(cfg.DataDir, "plots.db"), embed)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open plot cards: %w", err)
	}

	path := sessionPath(cfg)
	env, found, err := session.Load(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load session: %w", err)
	}

	var tree *storytree.Tree
	if found {
		tree, err = storytree.Deserialize(env.StoryTree)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: deserialize story tree: %w", err)
		}
	} else {
		tree = storytree.New(storytree.Turn{
			Actor: storytree.ActorWriter,
			Text:  "The story begins.",
		})
	}

	e := engine.New(tree, mem, plots, chat, toolschema.NewRegistry(), nil, cfg.ToEngineConfig())

	if found {
		if err := session.Restore(env, e, mem, plots); err != nil {
			return nil, fmt.Errorf("bootstrap: restore session: %w", err)
		}
	}

	return &app{engine: e, mem: mem, plots: plots, path: path}, nil
}

// save persists a's state back to its session file.
func (a *app) save() error {
	return session.Save(a.path, a.engine, a.mem, a.plots)
}

// close releases the vector stores backing the memory bank and plot index.
func (a *app) close() {
	_ = a.mem.Close()
	_ = a.plots.Close()
}

package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ifengine/internal/logging"
)

// ollamaProvider embeds text via a local Ollama server's /api/embeddings
// endpoint, adapted from the teacher's OllamaEngine.
type ollamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

func newOllamaProvider(endpoint, model string) *ollamaProvider {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	return &ollamaProvider{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *ollamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedprovider: encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedprovider: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedprovider: ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedprovider: ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedprovider: decode ollama response: %w", err)
	}

	logging.EmbeddingDebug("ollama embed model=%s dims=%d", o.model, len(out.Embedding))
	return out.Embedding, nil
}

// EmbedBatch embeds each text concurrently: Ollama's /api/embeddings has no
// batch endpoint, so a per-text errgroup fans the requests out the same way
// the teacher's semantic classifier fans out its parallel store searches.
func (o *ollamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range texts {
		g.Go(func() error {
			v, err := o.Embed(gctx, t)
			if err != nil {
				return fmt.Errorf("embedprovider: batch item %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *ollamaProvider) Dimensions() int { return 768 }

func (o *ollamaProvider) Name() string { return "ollama:" + o.model }

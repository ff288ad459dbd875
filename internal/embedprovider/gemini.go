package embedprovider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"ifengine/internal/logging"
)

// genaiProvider embeds text via Google's Gemini embedding API, adapted from
// the teacher's GenAIEngine.
type genaiProvider struct {
	client   *genai.Client
	model    string
	taskType string
}

func newGenAIProvider(apiKey, model, taskType string) (*genaiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedprovider: genai api key required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("embedprovider: create genai client: %w", err)
	}

	tt := "SEMANTIC_SIMILARITY"
	switch taskType {
	case "RETRIEVAL_QUERY":
		tt = "RETRIEVAL_QUERY"
	case "RETRIEVAL_DOCUMENT":
		tt = "RETRIEVAL_DOCUMENT"
	case "CLASSIFICATION":
		tt = "CLASSIFICATION"
	case "CLUSTERING":
		tt = "CLUSTERING"
	case "QUESTION_ANSWERING":
		tt = "QUESTION_ANSWERING"
	case "FACT_VERIFICATION":
		tt = "FACT_VERIFICATION"
	case "CODE_RETRIEVAL_QUERY":
		tt = "CODE_RETRIEVAL_QUERY"
	}

	return &genaiProvider{client: client, model: model, taskType: tt}, nil
}

func (g *genaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *genaiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{TaskType: g.taskType})
	if err != nil {
		return nil, fmt.Errorf("embedprovider: genai embed failed: %w", err)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	logging.EmbeddingDebug("genai embed model=%s batch=%d dims=%d", g.model, len(texts), g.Dimensions())
	return out, nil
}

func (g *genaiProvider) Dimensions() int { return 768 }

func (g *genaiProvider) Name() string { return "genai:" + g.model }

func (g *genaiProvider) Close() error {
	return nil
}

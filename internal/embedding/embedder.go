// Package embedding vectorizes text through an OpenAI-compatible API.
// The engine itself never embeds; this client serves the debug search
// endpoint and loader tooling that need a query vector.
package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrProviderError marks upstream embedding API failures.
var ErrProviderError = errors.New("embedding provider error")

// Embedder is an embedding client for an OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding client.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}
}

// Embed returns the vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		e.logger.Warn("embedding request failed", zap.Error(err))
		return nil, fmt.Errorf("create embeddings: %w: %w", ErrProviderError, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response: %w", ErrProviderError)
	}
	return resp.Data[0].Embedding, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

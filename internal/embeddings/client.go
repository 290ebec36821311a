// Package embeddings implements the Embedding Client: a single
// embed(text) operation against a configured embedding-provider
// endpoint.
package embeddings

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// maxInputRunes bounds embed's input length when the config doesn't
// specify MaxInputTokens; a conservative stand-in for true tokenization
// (grounded on internal/memory/embeddings/openai/openai.go, which has
// no truncation at all — requires one).
const maxInputRunes = 8000

// Client embeds text against one EmbeddingModelConfig.
type Client struct {
	cfg       models.EmbeddingModelConfig
	oai       *openai.Client
	maxRunes  int
	dimension int
}

// New constructs an Embedding Client from cfg (grounded on
// internal/memory/embeddings/openai/openai.go's New, generalized to a
// per-config dimension instead of a hardcoded model→dimension switch).
func New(cfg models.EmbeddingModelConfig) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	maxRunes := cfg.MaxInputTokens
	if maxRunes <= 0 {
		maxRunes = maxInputRunes
	}
	return &Client{
		cfg:       cfg,
		oai:       openai.NewClientWithConfig(oaiCfg),
		maxRunes:  maxRunes,
		dimension: cfg.Dimension,
	}
}

// Dimension returns the model's declared vector length (
// "the returned vector's length equals the model's declared
// dimension").
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the embedding vector for text. Blank input is
// rejected; long input is truncated before the call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, relayerr.New(relayerr.ValidationError, "embed: blank input")
	}
	truncated := truncateRunes(trimmed, c.maxRunes)

	resp, err := c.oai.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{truncated},
		Model: openai.EmbeddingModel(c.cfg.Model),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Data) == 0 {
		return nil, relayerr.New(relayerr.ProtocolError, "embed: no result vector returned")
	}
	return resp.Data[0].Embedding, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// classifyError mirrors the Provider Client's error taxonomy mapping
// ("errors mirror Provider Client").
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errAsAPIError(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return relayerr.Wrap(relayerr.RateLimited, err, "embedding rate limited").WithStatus(429)
		}
		return relayerr.Wrap(relayerr.ProviderError, err, "embedding provider error").WithStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errAsRequestError(err, &reqErr) {
		return relayerr.Wrap(relayerr.Network, err, "embedding transport failure").WithStatus(reqErr.HTTPStatusCode)
	}
	return relayerr.Wrap(relayerr.Network, err, "embedding transport failure")
}

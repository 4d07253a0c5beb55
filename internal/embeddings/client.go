package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingAPI is the slice of the OpenAI client the embedding client uses.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Config holds batching and retry parameters for the embedding client.
type Config struct {
	MaxBatchSize      int
	RequestTimeout    time.Duration
	MaxAttempts       int
	InitialRetryDelay time.Duration
	RetryMultiplier   float64
	MaxRetryDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:      100,
		RequestTimeout:    60 * time.Second,
		MaxAttempts:       5,
		InitialRetryDelay: 1 * time.Second,
		RetryMultiplier:   2,
		MaxRetryDelay:     60 * time.Second,
	}
}

// Client batches embedding requests against the provider's request-size
// limit and retries each batch with exponential backoff. Results keep the
// input order; a batch that cannot be embedded fails the whole call rather
// than dropping an index.
type Client struct {
	api    EmbeddingAPI
	config Config
}

type ClientDependencies struct {
	API    EmbeddingAPI
	Config Config
}

func NewClient(deps ClientDependencies) *Client {
	config := deps.Config
	defaults := DefaultConfig()

	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaults.MaxBatchSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialRetryDelay <= 0 {
		config.InitialRetryDelay = defaults.InitialRetryDelay
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = defaults.RetryMultiplier
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = defaults.MaxRetryDelay
	}

	return &Client{
		api:    deps.API,
		config: config,
	}
}

// NewOpenAIClient builds a Client backed by the OpenAI API.
func NewOpenAIClient(apiKey string, baseURL string, config Config) *Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return NewClient(ClientDependencies{
		API:    openai.NewClientWithConfig(clientConfig),
		Config: config,
	})
}

func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += c.config.MaxBatchSize {
		end := start + c.config.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchVectors, err := c.embedBatch(ctx, texts[start:end], model)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at %d: %w", start, err)
		}

		vectors = append(vectors, batchVectors...)
	}

	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string, model string) ([][]float32, error) {
	delay := c.config.InitialRetryDelay

	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		vectors, err := c.callOnce(ctx, batch, model)
		if err == nil {
			return vectors, nil
		}

		lastErr = err

		if attempt == c.config.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("batch_size", len(batch)).
			Dur("retry_in", delay).
			Msg("Embedding request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * c.config.RetryMultiplier)
		if delay > c.config.MaxRetryDelay {
			delay = c.config.MaxRetryDelay
		}
	}

	return nil, lastErr
}

func (c *Client) callOnce(ctx context.Context, batch []string, model string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input:          batch,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &domain.UpstreamError{
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding request exceeded %s", domain.ErrTimeout, c.config.RequestTimeout)
		}
		return nil, err
	}

	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(resp.Data), len(batch))
	}

	// The provider reports an index per vector; place by index so the
	// output order matches the input regardless of response order.
	vectors := make([][]float32, len(batch))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(batch) {
			return nil, fmt.Errorf("embedding provider returned out-of-range index %d", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}

	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding provider returned no vector for index %d", i)
		}
	}

	return vectors, nil
}

package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corpusworks/corpus/internal/domain"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingAPI struct {
	calls     []int
	responder func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error)
}

func (f *fakeEmbeddingAPI) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	req := conv.Convert()

	call := len(f.calls)
	f.calls = append(f.calls, len(req.Input.([]string)))

	return f.responder(call, req)
}

// echoResponder returns one vector per input, encoding the input's position
// so ordering bugs are visible.
func echoResponder(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	inputs := req.Input.([]string)

	data := make([]openai.Embedding, len(inputs))
	for i := range inputs {
		data[i] = openai.Embedding{Index: i, Embedding: []float32{float32(i)}}
	}

	return openai.EmbeddingResponse{Data: data}, nil
}

func testConfig() Config {
	config := DefaultConfig()
	config.InitialRetryDelay = time.Millisecond
	config.MaxRetryDelay = 5 * time.Millisecond
	return config
}

func newTestClient(api EmbeddingAPI, config Config) *Client {
	return NewClient(ClientDependencies{API: api, Config: config})
}

func TestNewClient_FillsUnsetConfigFields(t *testing.T) {
	t.Run("zero config gets every default", func(t *testing.T) {
		client := NewClient(ClientDependencies{API: &fakeEmbeddingAPI{responder: echoResponder}})

		assert.Equal(t, DefaultConfig(), client.config)
	})

	t.Run("caller-set fields survive alongside defaults", func(t *testing.T) {
		client := NewClient(ClientDependencies{
			API: &fakeEmbeddingAPI{responder: echoResponder},
			Config: Config{
				MaxAttempts:       2,
				InitialRetryDelay: 5 * time.Millisecond,
			},
		})

		assert.Equal(t, 2, client.config.MaxAttempts)
		assert.Equal(t, 5*time.Millisecond, client.config.InitialRetryDelay)
		assert.Equal(t, DefaultConfig().MaxBatchSize, client.config.MaxBatchSize)
		assert.Equal(t, DefaultConfig().RequestTimeout, client.config.RequestTimeout)
		assert.Equal(t, DefaultConfig().RetryMultiplier, client.config.RetryMultiplier)
		assert.Equal(t, DefaultConfig().MaxRetryDelay, client.config.MaxRetryDelay)
	})
}

func TestClient_GenerateEmbeddings_Batching(t *testing.T) {
	tests := []struct {
		name          string
		textCount     int
		expectedCalls []int
	}{
		{"empty input makes no calls", 0, nil},
		{"single text", 1, []int{1}},
		{"exactly one full batch", 100, []int{100}},
		{"one over the batch limit", 101, []int{100, 1}},
		{"several batches", 250, []int{100, 100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeEmbeddingAPI{responder: echoResponder}
			client := newTestClient(api, testConfig())

			texts := make([]string, tt.textCount)
			for i := range texts {
				texts[i] = "text"
			}

			vectors, err := client.GenerateEmbeddings(context.Background(), texts, "test-model")
			require.NoError(t, err)

			assert.Len(t, vectors, tt.textCount)
			assert.Equal(t, tt.expectedCalls, api.calls)
		})
	}
}

func TestClient_GenerateEmbeddings_OrderPreserved(t *testing.T) {
	// Respond with the per-input vectors in reverse order; the client must
	// place them back by index.
	api := &fakeEmbeddingAPI{
		responder: func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			inputs := req.Input.([]string)

			data := make([]openai.Embedding, 0, len(inputs))
			for i := len(inputs) - 1; i >= 0; i-- {
				data = append(data, openai.Embedding{Index: i, Embedding: []float32{float32(i)}})
			}

			return openai.EmbeddingResponse{Data: data}, nil
		},
	}
	client := newTestClient(api, testConfig())

	vectors, err := client.GenerateEmbeddings(context.Background(), []string{"a", "b", "c"}, "test-model")
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i)}, v)
	}
}

func TestClient_GenerateEmbeddings_RetriesTransientFailures(t *testing.T) {
	api := &fakeEmbeddingAPI{
		responder: func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			if call < 2 {
				return openai.EmbeddingResponse{}, &openai.APIError{
					HTTPStatusCode: 503,
					Message:        "temporarily unavailable",
				}
			}
			return echoResponder(call, req)
		},
	}
	client := newTestClient(api, testConfig())

	vectors, err := client.GenerateEmbeddings(context.Background(), []string{"a", "b"}, "test-model")
	require.NoError(t, err)

	assert.Len(t, vectors, 2)
	assert.Len(t, api.calls, 3)
}

func TestClient_GenerateEmbeddings_GivesUpAfterMaxAttempts(t *testing.T) {
	api := &fakeEmbeddingAPI{
		responder: func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return openai.EmbeddingResponse{}, &openai.APIError{
				HTTPStatusCode: 500,
				Message:        "internal error",
			}
		},
	}
	client := newTestClient(api, testConfig())

	_, err := client.GenerateEmbeddings(context.Background(), []string{"a"}, "test-model")
	require.Error(t, err)

	assert.Len(t, api.calls, 5)

	upstreamErr, ok := domain.IsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, 500, upstreamErr.StatusCode)
	assert.True(t, upstreamErr.IsRetryable())
}

func TestClient_GenerateEmbeddings_SurfacesProviderStatus(t *testing.T) {
	api := &fakeEmbeddingAPI{
		responder: func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return openai.EmbeddingResponse{}, &openai.APIError{
				HTTPStatusCode: 401,
				Message:        "invalid api key",
			}
		},
	}
	client := newTestClient(api, testConfig())

	_, err := client.GenerateEmbeddings(context.Background(), []string{"a"}, "test-model")
	require.Error(t, err)

	upstreamErr, ok := domain.IsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, 401, upstreamErr.StatusCode)
	assert.True(t, upstreamErr.IsAuthError())
	assert.Contains(t, upstreamErr.Message, "invalid api key")
}

func TestClient_GenerateEmbeddings_RejectsShortResponses(t *testing.T) {
	api := &fakeEmbeddingAPI{
		responder: func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return openai.EmbeddingResponse{
				Data: []openai.Embedding{{Index: 0, Embedding: []float32{1}}},
			}, nil
		},
	}
	client := newTestClient(api, testConfig())

	_, err := client.GenerateEmbeddings(context.Background(), []string{"a", "b"}, "test-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 inputs")
}

func TestClient_GenerateEmbeddings_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	api := &fakeEmbeddingAPI{
		responder: func(call int, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			cancel()
			return openai.EmbeddingResponse{}, errors.New("connection reset")
		},
	}

	config := testConfig()
	config.InitialRetryDelay = time.Minute
	client := newTestClient(api, config)

	_, err := client.GenerateEmbeddings(ctx, []string{"a"}, "test-model")
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, api.calls, 1)
}

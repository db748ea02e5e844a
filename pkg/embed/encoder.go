// Package embed computes and caches dense text embeddings used by the
// vector memory. Vectors are unit-normalized so cosine similarity reduces
// to a dot product over stored data.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mediavault/mediavault/pkg/config"
)

const (
	encodeMaxRetries = 3
	encodeBaseDelay  = 100 * time.Millisecond
)

// queryEmbedder is the slice of the upstream embeddings client we use.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Encoder turns text into unit-length vectors, with an optional Redis
// read-through cache keyed by model and text hash.
type Encoder struct {
	client queryEmbedder
	cache  *redis.Client
	model  string
	ttl    time.Duration

	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
}

// NewEncoder builds an Encoder backed by the configured embedding model.
// A nil redis client disables caching.
func NewEncoder(providers config.ProviderConfig, cache *redis.Client) (*Encoder, error) {
	opts := []openai.Option{
		openai.WithToken(providers.APIKey),
		openai.WithEmbeddingModel(providers.EmbeddingModel),
	}
	if providers.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(providers.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &Encoder{
		client: embedder,
		cache:  cache,
		model:  providers.EmbeddingModel,
		ttl:    providers.EmbedCacheTTL,
	}, nil
}

// NewEncoderWithClient wires an explicit client, used by tests and by
// deployments with a custom embedding backend.
func NewEncoderWithClient(client queryEmbedder, cache *redis.Client, model string, ttl time.Duration) *Encoder {
	return &Encoder{client: client, cache: cache, model: model, ttl: ttl}
}

// SetCacheCounters attaches hit/miss counters for the read-through cache.
func (e *Encoder) SetCacheCounters(hits, miss prometheus.Counter) {
	e.cacheHits = hits
	e.cacheMiss = miss
}

// Encode returns the unit-normalized embedding for text, serving repeat
// texts from the cache when one is configured.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)

	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, key).Bytes(); err == nil {
			var vec []float32
			if err := json.Unmarshal(cached, &vec); err == nil && len(vec) > 0 {
				if e.cacheHits != nil {
					e.cacheHits.Inc()
				}
				return vec, nil
			}
		} else if err != redis.Nil {
			slog.Warn("Embedding cache read failed", "error", err)
		}
		if e.cacheMiss != nil {
			e.cacheMiss.Inc()
		}
	}

	vec, err := e.encodeWithRetry(ctx, text)
	if err != nil {
		return nil, err
	}
	Normalize(vec)

	if e.cache != nil {
		if encoded, err := json.Marshal(vec); err == nil {
			if err := e.cache.Set(ctx, key, encoded, e.ttl).Err(); err != nil {
				slog.Warn("Embedding cache write failed", "error", err)
			}
		}
	}
	return vec, nil
}

// encodeWithRetry calls the upstream embedder with exponential backoff
// (100ms, 200ms, 400ms).
func (e *Encoder) encodeWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := encodeBaseDelay
	for attempt := 0; attempt < encodeMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
		vec, err := e.client.EmbedQuery(ctx, text)
		if err == nil {
			if len(vec) == 0 {
				return nil, fmt.Errorf("embedding provider returned an empty vector")
			}
			return vec, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", encodeMaxRetries, lastErr)
}

func (e *Encoder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + e.model + ":" + hex.EncodeToString(sum[:])
}

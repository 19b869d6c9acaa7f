package openai

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cloo-solutions/recall/internal/domain"
)

// Credentials holds the keys for the two provider capabilities. An empty key
// means the capability is absent.
type Credentials struct {
	EmbeddingKey  string
	CompletionKey string
}

// Registry is the process-wide holder of provider clients. A client is only
// rebuilt when the key it was built with changes.
type Registry struct {
	cfg     Config
	limiter *rate.Limiter
	build   func(cfg Config, limiter *rate.Limiter) *Client

	mu         sync.RWMutex
	creds      Credentials
	embedding  *Client
	completion *Client
}

// NewRegistry creates an empty registry; call SetCredentials to enable
// capabilities. cfg.APIKey is ignored.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg.withDefaults(),
		limiter: NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		build:   newClient,
	}
}

// SetCredentials installs new keys and reports whether any client was rebuilt.
func (r *Registry) SetCredentials(creds Credentials) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	if creds.EmbeddingKey != r.creds.EmbeddingKey || (creds.EmbeddingKey != "" && r.embedding == nil) {
		r.embedding = r.clientFor(creds.EmbeddingKey)
		changed = true
	}
	if creds.CompletionKey != r.creds.CompletionKey || (creds.CompletionKey != "" && r.completion == nil) {
		r.completion = r.clientFor(creds.CompletionKey)
		changed = true
	}
	r.creds = creds
	return changed
}

func (r *Registry) clientFor(key string) *Client {
	if key == "" {
		return nil
	}
	cfg := r.cfg
	cfg.APIKey = key
	return r.build(cfg, r.limiter)
}

// HasEmbeddingCredentials reports whether an embedding client is available.
func (r *Registry) HasEmbeddingCredentials() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedding != nil
}

// HasCompletionCredentials reports whether a completion client is available.
func (r *Registry) HasCompletionCredentials() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completion != nil
}

// Dimensions returns the configured embedding width.
func (r *Registry) Dimensions() int {
	return r.cfg.EmbeddingDimensions
}

func (r *Registry) embeddingClient() (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.embedding == nil {
		return nil, domain.ErrNoEmbeddingCredentials
	}
	return r.embedding, nil
}

func (r *Registry) completionClient() (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.completion == nil {
		return nil, domain.ErrNoCompletionCredentials
	}
	return r.completion, nil
}

// Embed delegates to the embedding client.
func (r *Registry) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c, err := r.embeddingClient()
	if err != nil {
		return nil, err
	}
	return c.Embed(ctx, texts)
}

// Complete delegates to the completion client.
func (r *Registry) Complete(ctx context.Context, system, prompt string) (string, error) {
	c, err := r.completionClient()
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, system, prompt)
}

// Rank delegates to the completion client.
func (r *Registry) Rank(ctx context.Context, query string, candidates []string) ([]int, error) {
	c, err := r.completionClient()
	if err != nil {
		return nil, err
	}
	return c.Rank(ctx, query, candidates)
}

package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/recall/internal/domain"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings
	DefaultEmbeddingDimensions = 1536
	// DefaultCompletionModel is the chat model used for summaries, expansion and ranking
	DefaultCompletionModel = openai.GPT4oMini

	completionTemperature = 0.2
)

var (
	// ErrEmptyText is returned when there is nothing to embed
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbeddingAPI defines the interface for batched embedding generation.
// Vectors are returned in input order.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatAPI defines the interface for single-turn chat completion.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, system, prompt string) (string, error)
}

// OpenAIAdapter implements EmbeddingAPI and ChatAPI on go-openai.
type OpenAIAdapter struct {
	client          *openai.Client
	embeddingModel  openai.EmbeddingModel
	completionModel string
	dimensions      int
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	cfg = cfg.withDefaults()
	return &OpenAIAdapter{
		client:          openai.NewClientWithConfig(clientCfg),
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		dimensions:      cfg.EmbeddingDimensions,
	}
}

// CreateEmbeddings calls the OpenAI API once for the whole batch
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.embeddingModel,
	}
	// ada-002 rejects the dimensions parameter
	if a.embeddingModel != openai.AdaEmbeddingV2 {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// CreateChatCompletion sends a system + user message pair and returns the first choice
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.completionModel,
		Messages:    messages,
		Temperature: completionTemperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	CompletionModel     string
	RequestsPerSecond   float64
	Burst               int
}

func (c Config) withDefaults() Config {
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if c.CompletionModel == "" {
		c.CompletionModel = DefaultCompletionModel
	}
	return c
}

// NewLimiter builds the token bucket shared by every provider call.
// A non-positive rate disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Client wraps the provider APIs with rate limiting, validation and
// normalization.
type Client struct {
	embedder   EmbeddingAPI
	chat       ChatAPI
	dimensions int
	limiter    *rate.Limiter
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	return newClient(cfg, NewLimiter(cfg.RequestsPerSecond, cfg.Burst))
}

func newClient(cfg Config, limiter *rate.Limiter) *Client {
	adapter := NewOpenAIAdapter(cfg)
	return &Client{
		embedder:   adapter,
		chat:       adapter,
		dimensions: cfg.withDefaults().EmbeddingDimensions,
		limiter:    limiter,
	}
}

// Dimensions returns the vector width this client validates against.
func (c *Client) Dimensions() int {
	return c.dimensions
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func providerError(err error) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeProviderFailure, domain.ErrProviderFailure.Message, err)
}

func malformed(err error) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeProviderFailure, domain.ErrMalformedResponse.Message, err)
}

// Embed embeds every text in one provider call and returns unit-length
// vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyText
		}
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := c.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, providerError(fmt.Errorf("failed to create embeddings: %w", err))
	}
	if len(vectors) != len(texts) {
		return nil, malformed(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}

	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != expected {
			return nil, malformed(ErrWrongDimensions)
		}
		out[i] = normalize(v)
	}
	return out, nil
}

// Complete runs one chat completion.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyText
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	text, err := c.chat.CreateChatCompletion(ctx, system, prompt)
	if err != nil {
		return "", providerError(fmt.Errorf("failed to create completion: %w", err))
	}
	return strings.TrimSpace(text), nil
}

const rankSystemPrompt = `You judge search relevance. For each numbered candidate, rate how relevant it is to the query on an integer scale from 0 (unrelated) to 10 (exactly what was asked for). Respond with only a JSON array of integers, one per candidate, in the order given.`

// Rank asks for one 0-10 relevance score per candidate in a single call. The
// returned slice is whatever the provider produced; callers must check its
// length against len(candidates).
func (c *Client) Rank(ctx context.Context, query string, candidates []string) ([]int, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, cand := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, cand)
	}

	text, err := c.Complete(ctx, rankSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var raw []float64
	if err := DecodeJSONArray(text, &raw); err != nil {
		return nil, malformed(err)
	}
	scores := make([]int, len(raw))
	for i, s := range raw {
		scores[i] = clampScore(int(math.Round(s)))
	}
	return scores, nil
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

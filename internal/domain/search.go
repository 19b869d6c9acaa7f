package domain

import "time"

// SearchResult is one ranked document returned by the search engine.
// Excerpt is empty when no vector signal supplied one.
type SearchResult struct {
	DocumentID string
	Title      string
	Excerpt    string
	Score      float64
	UpdatedAt  time.Time
}

// ContextSource records why a document was included in retrieved context.
type ContextSource string

const (
	ContextSourceSearch ContextSource = "search"
	ContextSourceLink   ContextSource = "link"
	ContextSourceEntity ContextSource = "entity"
)

// ContextItem is one grounding document handed to the conversational assistant.
type ContextItem struct {
	DocumentID string
	Title      string
	Excerpt    string
	Source     ContextSource
	Overlap    int
}

// GraphNeighbor is a document reachable in one hop from a seed set.
// Overlap counts the distinct seed links or shared entities that reach it.
type GraphNeighbor struct {
	DocumentID string
	Overlap    int
}

// LexicalHit is a full-text match against a document title or body.
type LexicalHit struct {
	DocumentID string
	Title      string
	UpdatedAt  time.Time
	Rank       float64
}

// Capabilities is a snapshot of which degradation tier is available.
type Capabilities struct {
	VectorIndexLoaded     bool
	EmbeddingCredentials  bool
	CompletionCredentials bool
	ClusterTierPopulated  bool
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layer identifies one of the three embedding tiers.
type Layer int

const (
	// LayerRaw holds sentence-bounded segments of a document body.
	LayerRaw Layer = 1
	// LayerSummary holds the single generated summary of a document.
	LayerSummary Layer = 2
	// LayerCluster holds one generated theme summary per cluster.
	LayerCluster Layer = 3
)

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	return l >= LayerRaw && l <= LayerCluster
}

func (l Layer) String() string {
	switch l {
	case LayerRaw:
		return "raw"
	case LayerSummary:
		return "summary"
	case LayerCluster:
		return "cluster"
	}
	return fmt.Sprintf("layer(%d)", int(l))
}

// Chunk is a row of the relational half of the index. Layer-3 chunks have no
// DocumentID; their ContextText carries the JSON list of member document ids.
type Chunk struct {
	ID          int64
	DocumentID  string
	Text        string
	ContextText string
	Layer       Layer
	Position    int
	CreatedAt   time.Time
}

// ChunkDraft is a chunk produced by the chunker before it has been persisted.
type ChunkDraft struct {
	Text        string
	ContextText string
	Position    int
}

// StagedChunk pairs a chunk with the vector that must be written alongside it.
type StagedChunk struct {
	Chunk  Chunk
	Vector []float32
}

// ChunkHit is a nearest-neighbour result resolved to its owning document.
type ChunkHit struct {
	ChunkID    int64
	DocumentID string
	Title      string
	Text       string
	Layer      Layer
	Distance   float64
}

// EncodeMemberIDs serializes cluster member ids for a layer-3 ContextText.
func EncodeMemberIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMemberIDs parses a layer-3 ContextText back into member ids.
func DecodeMemberIDs(contextText string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(contextText), &ids); err != nil {
		return nil, fmt.Errorf("decode cluster members: %w", err)
	}
	return ids, nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
)

// ObjectWriter is implemented by S3Client.
type ObjectWriter interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

// ClusterArchive stores each cluster rebuild as clusters/<UTC timestamp>.json.
type ClusterArchive struct {
	objects ObjectWriter
	prefix  string
}

func NewClusterArchive(objects ObjectWriter) *ClusterArchive {
	return &ClusterArchive{objects: objects, prefix: "clusters/"}
}

type snapshotTheme struct {
	Position  int      `json:"position"`
	Theme     string   `json:"theme"`
	MemberIDs []string `json:"member_ids"`
}

type snapshotDocument struct {
	BuiltAt        time.Time       `json:"built_at"`
	Documents      int             `json:"documents"`
	K              int             `json:"k"`
	FailedClusters int             `json:"failed_clusters"`
	Themes         []snapshotTheme `json:"themes"`
}

// Key returns the object key for a rebuild finished at t.
func (a *ClusterArchive) Key(t time.Time) string {
	return a.prefix + t.UTC().Format("20060102T150405Z") + ".json"
}

// Archive uploads the snapshot and returns its object key.
func (a *ClusterArchive) Archive(ctx context.Context, snapshot *domain.ClusterSnapshot) (string, error) {
	doc := snapshotDocument{
		BuiltAt:        snapshot.BuiltAt.UTC(),
		Documents:      snapshot.Documents,
		K:              snapshot.K,
		FailedClusters: snapshot.FailedClusters,
		Themes:         make([]snapshotTheme, 0, len(snapshot.Themes)),
	}
	for _, t := range snapshot.Themes {
		members := t.MemberIDs
		if members == nil {
			members = []string{}
		}
		doc.Themes = append(doc.Themes, snapshotTheme{Position: t.Position, Theme: t.Theme, MemberIDs: members})
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode cluster snapshot: %w", err)
	}

	key := a.Key(snapshot.BuiltAt)
	if err := a.objects.PutObject(ctx, key, "application/json", body); err != nil {
		return "", err
	}
	return key, nil
}

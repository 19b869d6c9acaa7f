package domain

import "time"

// ClusterTheme is one persisted layer-3 cluster.
type ClusterTheme struct {
	ChunkID   int64
	Position  int
	Theme     string
	MemberIDs []string
}

// ClusterSnapshot describes the outcome of one cluster rebuild.
type ClusterSnapshot struct {
	BuiltAt        time.Time
	Documents      int
	K              int
	Themes         []ClusterTheme
	FailedClusters int
}

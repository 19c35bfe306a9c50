package core

import (
	"context"
	"time"
)

// ArtifactInfo describes one stored artifact version.
type ArtifactInfo struct {
	ID          string            `json:"artifact_id"`
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	Size        int               `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Created     time.Time         `json:"created"`
}

// Artifact is an artifact version plus its bytes.
type Artifact struct {
	ArtifactInfo
	Data []byte `json:"-"`
}

// ArtifactStore persists versioned binary artifacts scoped by session.
// Saving an existing name creates a new version. A version <= 0 in Load
// selects the latest one. Implementations must be safe for concurrent use.
type ArtifactStore interface {
	Save(ctx context.Context, sessionID, name string, data []byte, metadata map[string]string) (ArtifactInfo, error)
	Load(ctx context.Context, sessionID, name string, version int) (*Artifact, error)
	List(ctx context.Context, sessionID string) ([]ArtifactInfo, error)
	Delete(ctx context.Context, sessionID, name string) error
}

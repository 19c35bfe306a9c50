package memory

import (
	"context"
	"errors"
	"time"
)

// DefaultSearchLimit is used when a search does not set a limit.
const DefaultSearchLimit = 5

// ErrNotFound is returned for unknown memory ids.
var ErrNotFound = errors.New("memory not found")

// Entry is one remembered piece of knowledge.
type Entry struct {
	ID       string         `json:"memory_id"`
	UserID   string         `json:"user_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Created  time.Time      `json:"created"`
}

// Map renders the entry as a tool payload.
func (e Entry) Map() map[string]any {
	m := map[string]any{
		"memory_id": e.ID,
		"content":   e.Content,
		"created":   e.Created.Format(time.RFC3339),
	}
	if len(e.Metadata) > 0 {
		m["metadata"] = e.Metadata
	}
	return m
}

// SearchResult is an entry with its relevance in [0, 1].
type SearchResult struct {
	Entry
	Score float64 `json:"score"`
}

// Store persists memories. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, userID, content string, metadata map[string]any) (Entry, error)
	Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error)
	Load(ctx context.Context, userID, id string) (Entry, error)
	Delete(ctx context.Context, userID, id string) error
}

package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/devmesh/core"
)

// InMemoryStore is a process-local Store. Search splits the query into
// lower-cased terms and scores an entry by the share of terms its content
// contains. An empty query matches everything with score 1. Results are
// ordered by score, newest first on ties.
type InMemoryStore struct {
	mu      sync.RWMutex
	max     int
	entries map[string][]Entry // userID -> entries, oldest first
}

// NewInMemoryStore creates a store keeping at most maxPerUser entries per
// user. Zero or less keeps everything. When full, the oldest entry is
// dropped.
func NewInMemoryStore(maxPerUser int) *InMemoryStore {
	return &InMemoryStore{max: maxPerUser, entries: make(map[string][]Entry)}
}

// Save implements Store.
func (m *InMemoryStore) Save(ctx context.Context, userID, content string, metadata map[string]any) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Entry{}, fmt.Errorf("memory content must not be empty")
	}
	e := Entry{
		ID:       core.NewID(),
		UserID:   userID,
		Content:  content,
		Metadata: maps.Clone(metadata),
		Created:  core.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.entries[userID], e)
	if m.max > 0 && len(list) > m.max {
		list = list[len(list)-m.max:]
	}
	m.entries[userID] = list
	return e, nil
}

// Search implements Store.
func (m *InMemoryStore) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	list := m.entries[userID]
	results := make([]SearchResult, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if score := relevance(list[i].Content, terms); score > 0 {
			e := list[i]
			e.Metadata = maps.Clone(e.Metadata)
			results = append(results, SearchResult{Entry: e, Score: score})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func relevance(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 1
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// Load implements Store.
func (m *InMemoryStore) Load(ctx context.Context, userID, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries[userID] {
		if e.ID == id {
			e.Metadata = maps.Clone(e.Metadata)
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete implements Store.
func (m *InMemoryStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[userID]
	for i, e := range list {
		if e.ID == id {
			m.entries[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Len returns the number of entries kept for userID.
func (m *InMemoryStore) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[userID])
}

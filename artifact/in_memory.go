package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/devmesh/core"
)

// InMemoryStore is an in-process versioned ArtifactStore. Data is copied on
// save and load so callers cannot mutate stored buffers.
//
// Layout: sessionID -> name -> versions (oldest first).
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]core.Artifact
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]core.Artifact)}
}

// Save stores data as the next version of name.
func (a *InMemoryStore) Save(ctx context.Context, sessionID, name string, data []byte, metadata map[string]string) (core.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return core.ArtifactInfo{}, err
	}
	if err := ValidateName(name); err != nil {
		return core.ArtifactInfo{}, fmt.Errorf("%w: %q", err, name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	byName, ok := a.artifacts[sessionID]
	if !ok {
		byName = make(map[string][]core.Artifact)
		a.artifacts[sessionID] = byName
	}

	info := core.ArtifactInfo{
		ID:          core.NewID(),
		Name:        name,
		Version:     len(byName[name]) + 1,
		Size:        len(data),
		ContentType: metadata["content_type"],
		Metadata:    copyMeta(metadata),
		Created:     core.Now(),
	}
	byName[name] = append(byName[name], core.Artifact{ArtifactInfo: info, Data: copyBytes(data)})
	return info, nil
}

// Load returns the requested version, or the latest when version <= 0.
func (a *InMemoryStore) Load(ctx context.Context, sessionID, name string, version int) (*core.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	versions := a.artifacts[sessionID][name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, sessionID, name)
	}
	if version <= 0 {
		version = len(versions)
	}
	if version > len(versions) {
		return nil, fmt.Errorf("%w: %s/%s version %d", ErrNotFound, sessionID, name, version)
	}
	stored := versions[version-1]
	out := core.Artifact{ArtifactInfo: stored.ArtifactInfo, Data: copyBytes(stored.Data)}
	out.Metadata = copyMeta(stored.Metadata)
	return &out, nil
}

// List returns the latest version of every artifact in the session, sorted
// by name.
func (a *InMemoryStore) List(_ context.Context, sessionID string) ([]core.ArtifactInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	byName := a.artifacts[sessionID]
	out := make([]core.ArtifactInfo, 0, len(byName))
	for _, versions := range byName {
		if len(versions) > 0 {
			out = append(out, versions[len(versions)-1].ArtifactInfo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes every version of name.
func (a *InMemoryStore) Delete(_ context.Context, sessionID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	byName, ok := a.artifacts[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, sessionID, name)
	}
	if _, ok := byName[name]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, sessionID, name)
	}
	delete(byName, name)
	return nil
}

func copyBytes(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

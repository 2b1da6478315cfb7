package artifact

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore keeps artifacts in process memory, keyed by session and
// artifact id. Data is copied on Save and Get.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]byte
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]byte)}
}

// Save stores or overwrites an artifact.
func (a *InMemoryStore) Save(sessionID, artifactID string, data []byte) error {
	if artifactID == "" {
		return fmt.Errorf("save artifact: empty id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.artifacts[sessionID]
	if !ok {
		m = make(map[string][]byte)
		a.artifacts[sessionID] = m
	}

	m[artifactID] = bytes.Clone(data)

	return nil
}

// Get returns a copy of the artifact bytes.
func (a *InMemoryStore) Get(sessionID, artifactID string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, ok := a.artifacts[sessionID][artifactID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, sessionID, artifactID)
	}

	return bytes.Clone(data), nil
}

// List returns the artifact ids of a session in sorted order.
func (a *InMemoryStore) List(sessionID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m := a.artifacts[sessionID]
	ids := make([]string, 0, len(m))

	for id := range m {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

// Delete removes an artifact.
func (a *InMemoryStore) Delete(sessionID, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.artifacts[sessionID]
	if _, ok := m[artifactID]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, sessionID, artifactID)
	}

	delete(m, artifactID)

	if len(m) == 0 {
		delete(a.artifacts, sessionID)
	}

	return nil
}

package core

import (
	"context"
	"maps"
	"sync"
)

type mockSessionStore struct {
	mu      sync.Mutex
	applied map[string]map[string]any
}

func (s *mockSessionStore) Get(id string) (*Session, error)       { return NewSession(id), nil }
func (s *mockSessionStore) Create(id string) (*Session, error)    { return NewSession(id), nil }
func (s *mockSessionStore) AppendEvent(id string, ev Event) error { return nil }
func (s *mockSessionStore) ApplyDelta(id string, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied == nil {
		s.applied = map[string]map[string]any{}
	}
	s.applied[id] = maps.Clone(delta)
	return nil
}

type mockArtifactStore struct{ saved map[string][]byte }

func (a *mockArtifactStore) Save(sid, aid string, data []byte) error {
	if a.saved == nil {
		a.saved = map[string][]byte{}
	}
	a.saved[sid+"/"+aid] = append([]byte{}, data...)
	return nil
}

func (a *mockArtifactStore) Get(sid, aid string) ([]byte, error) { return a.saved[sid+"/"+aid], nil }
func (a *mockArtifactStore) List(sid string) ([]string, error) {
	ids := []string{}
	for k := range a.saved {
		ids = append(ids, k)
	}
	return ids, nil
}
func (a *mockArtifactStore) Delete(sid, aid string) error { return nil }

func newRunContextForTest() (*RunContext, chan Event) {
	emit := make(chan Event, 5)
	return NewRunContext(
		context.Background(),
		"sess-x", "run-x",
		AgentInfo{Name: "agent1", Type: "test"},
		NewTextContent(RoleUser, "hello"),
		0,
		emit,
		NewSession("sess-x"),
		&mockSessionStore{},
		&mockArtifactStore{},
		nil,
	), emit
}

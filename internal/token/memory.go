package token

import (
	"context"
	"sync"
)

// MemoryStore keeps tokens in process memory. Tokens do not survive a
// restart and are not shared between instances.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (m *MemoryStore) Latest(_ context.Context, gateway string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[gateway]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) Save(_ context.Context, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tokens[t.Gateway]; ok && cur.UpdatedAt.After(t.UpdatedAt) {
		return nil
	}
	m.tokens[t.Gateway] = t
	return nil
}

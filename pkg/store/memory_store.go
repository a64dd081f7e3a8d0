package store

import (
	"context"
	"sync"
	"time"

	"waifuapi/pkg/domain"
)

// MemoryStore keeps users and dialogs in-process. Handy for tests and
// for running without a database file.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[userKey]domain.User
	turns map[userKey][]domain.Turn
	order map[string][]string // owner -> user ids in insertion order
}

type userKey struct {
	owner string
	id    string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[userKey]domain.User),
		turns: make(map[userKey][]domain.Turn),
		order: make(map[string][]string),
	}
}

// EnsureUser creates the user record unless it already exists.
func (m *MemoryStore) EnsureUser(_ context.Context, owner, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(owner, userID)
	return nil
}

func (m *MemoryStore) ensureLocked(owner, userID string) userKey {
	key := userKey{owner: owner, id: userID}
	if _, exists := m.users[key]; !exists {
		m.users[key] = domain.User{
			Owner:        owner,
			UserID:       userID,
			LastModified: time.Now().UTC(),
		}
		m.order[owner] = append(m.order[owner], userID)
	}
	return key
}

// HasUser checks if the user exists.
func (m *MemoryStore) HasUser(_ context.Context, owner, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userKey{owner: owner, id: userID}]
	return ok, nil
}

// GetUser returns the user record.
func (m *MemoryStore) GetUser(_ context.Context, owner, userID string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userKey{owner: owner, id: userID}]
	return u, ok, nil
}

// DeleteUser removes the user and its dialog. Deleting an absent user
// is a no-op.
func (m *MemoryStore) DeleteUser(_ context.Context, owner, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey{owner: owner, id: userID}
	if _, ok := m.users[key]; !ok {
		return nil
	}
	delete(m.users, key)
	delete(m.turns, key)
	filtered := m.order[owner][:0]
	for _, id := range m.order[owner] {
		if id != userID {
			filtered = append(filtered, id)
		}
	}
	m.order[owner] = filtered
	return nil
}

// CountUsers returns the number of users for the owner.
func (m *MemoryStore) CountUsers(_ context.Context, owner string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order[owner]), nil
}

// ListUserIDs returns user ids in insertion order.
func (m *MemoryStore) ListUserIDs(_ context.Context, owner string, offset, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.order[owner]
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	res := make([]string, end-offset)
	copy(res, ids[offset:end])
	return res, nil
}

// ListTurns returns the dialog in index order.
func (m *MemoryStore) ListTurns(_ context.Context, owner, userID string) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.turns[userKey{owner: owner, id: userID}]
	res := make([]domain.Turn, len(src))
	copy(res, src)
	return res, nil
}

// ReplaceTurns swaps the whole dialog of an existing user.
func (m *MemoryStore) ReplaceTurns(_ context.Context, owner, userID string, turns []domain.Turn) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey{owner: owner, id: userID}
	user, ok := m.users[key]
	if !ok {
		return false, nil
	}
	next := make([]domain.Turn, len(turns))
	copy(next, turns)
	m.turns[key] = next
	user.LastModified = time.Now().UTC()
	m.users[key] = user
	return true, nil
}

// AppendTurns appends after the current highest index, creating the
// user record if absent.
func (m *MemoryStore) AppendTurns(_ context.Context, owner, userID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.ensureLocked(owner, userID)
	next := 0
	if cur := m.turns[key]; len(cur) > 0 {
		next = cur[len(cur)-1].Index + 1
	}
	for i, t := range turns {
		t.Index = next + i
		m.turns[key] = append(m.turns[key], t)
	}
	user := m.users[key]
	user.LastModified = time.Now().UTC()
	m.users[key] = user
	return nil
}

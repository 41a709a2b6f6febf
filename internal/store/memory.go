package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kospisim/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	snapshot *model.Snapshot
	news     []model.NewsEvent
	accounts map[string]*model.Account
	control  Control
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
	}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshots are immutable once published; keep a shallow copy with its
	// own instrument slice.
	c := *snap
	c.Instruments = append([]model.InstrumentSnapshot(nil), snap.Instruments...)
	s.snapshot = &c
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	c := *s.snapshot
	c.Instruments = append([]model.InstrumentSnapshot(nil), s.snapshot.Instruments...)
	return &c, nil
}

func (s *MemoryStore) SaveNews(_ context.Context, events []model.NewsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.news = append([]model.NewsEvent(nil), events...)
	return nil
}

func (s *MemoryStore) LoadNews(_ context.Context) ([]model.NewsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.NewsEvent(nil), s.news...), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acct.UserID] = acct.Clone()
	return nil
}

func (s *MemoryStore) LoadAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	return acct.Clone(), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a.Clone())
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].UserID < accounts[j].UserID })
	return accounts, nil
}

func (s *MemoryStore) SaveControl(_ context.Context, c Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.control = c
	return nil
}

func (s *MemoryStore) LoadControl(_ context.Context) (Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.control, nil
}

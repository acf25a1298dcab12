package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/DoyleJ11/bugfix-relay/internal/store"
)

// Storage keeps records in maps. It enforces the same constraints as the
// SQL schema so tests observe realistic failures.
type Storage struct {
	mu      sync.RWMutex
	players map[string]store.PlayerRecord // by name
	ids     map[string]string             // id -> name
	games   map[string]store.GameRecord
	order   []string
}

var _ store.Store = (*Storage)(nil)

func New() *Storage {
	return &Storage{
		players: make(map[string]store.PlayerRecord),
		ids:     make(map[string]string),
		games:   make(map[string]store.GameRecord),
	}
}

func (s *Storage) InsertPlayer(_ context.Context, p store.PlayerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.Name]; ok {
		return fmt.Errorf("player name %q: %w", p.Name, store.ErrDuplicate)
	}
	if _, ok := s.ids[p.ID]; ok {
		return fmt.Errorf("player id %q: %w", p.ID, store.ErrDuplicate)
	}
	s.players[p.Name] = p
	s.ids[p.ID] = p.Name
	return nil
}

func (s *Storage) InsertGame(_ context.Context, g store.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return fmt.Errorf("game %q: %w", g.ID, store.ErrDuplicate)
	}
	for _, id := range []string{g.Player1ID, g.Player2ID} {
		if _, ok := s.ids[id]; !ok {
			return fmt.Errorf("game %q references player %q: %w", g.ID, id, store.ErrNotFound)
		}
	}
	s.games[g.ID] = g
	s.order = append(s.order, g.ID)
	return nil
}

func (s *Storage) GetPlayer(_ context.Context, name string) (store.PlayerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[name]
	if !ok {
		return store.PlayerRecord{}, store.ErrNotFound
	}
	return p, nil
}

// Games returns the finished games in insertion order.
func (s *Storage) Games() []store.GameRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.GameRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.games[id])
	}
	return out
}

func (s *Storage) Close() error { return nil }

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DoyleJ11/bugfix-relay/internal/store"
)

// Storage keeps players and finished games as JSON values. Player names are
// claimed with SETNX so a name can only be inserted once.
type Storage struct {
	client *redis.Client
	cfg    Config
}

var _ store.Store = (*Storage)(nil)

func New(ctx context.Context, cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &Storage{client: client, cfg: cfg}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) InsertPlayer(ctx context.Context, p store.PlayerRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.playerKey(p.Name), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("player name %q: %w", p.Name, store.ErrDuplicate)
	}
	return s.client.Set(ctx, s.playerIDKey(p.ID), p.Name, 0).Err()
}

func (s *Storage) InsertGame(ctx context.Context, g store.GameRecord) error {
	n, err := s.client.Exists(ctx, s.playerIDKey(g.Player1ID), s.playerIDKey(g.Player2ID)).Result()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("game %q references unknown player: %w", g.ID, store.ErrNotFound)
	}

	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.gameKey(g.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("game %q: %w", g.ID, store.ErrDuplicate)
	}
	return s.client.RPush(ctx, s.gamesKey(), g.ID).Err()
}

func (s *Storage) GetPlayer(ctx context.Context, name string) (store.PlayerRecord, error) {
	data, err := s.client.Get(ctx, s.playerKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.PlayerRecord{}, store.ErrNotFound
		}
		return store.PlayerRecord{}, err
	}

	var p store.PlayerRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return store.PlayerRecord{}, err
	}
	return p, nil
}

// GameIDs lists finished games in the order they were stored.
func (s *Storage) GameIDs(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, s.gamesKey(), 0, -1).Result()
}

func (s *Storage) GetGame(ctx context.Context, id string) (store.GameRecord, error) {
	data, err := s.client.Get(ctx, s.gameKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.GameRecord{}, store.ErrNotFound
		}
		return store.GameRecord{}, err
	}

	var g store.GameRecord
	if err := json.Unmarshal(data, &g); err != nil {
		return store.GameRecord{}, err
	}
	return g, nil
}

package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// PlayerRecord is the durable part of a player. The password is only ever
// stored as a bcrypt hash.
type PlayerRecord struct {
	ID           string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// GameRecord is a finished game. Player ids must refer to stored players.
type GameRecord struct {
	ID           string
	Player1ID    string
	Player2ID    string
	OriginalCode string
	BuggedCode   string
	FixedCode    string
	CreatedAt    time.Time
	EndedAt      time.Time
}

// Store is the durable side channel for players and finished games. Live
// game state never goes through it.
type Store interface {
	InsertPlayer(ctx context.Context, p PlayerRecord) error
	InsertGame(ctx context.Context, g GameRecord) error
	GetPlayer(ctx context.Context, name string) (PlayerRecord, error)
	Close() error
}

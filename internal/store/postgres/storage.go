package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/bugfix-relay/internal/store"
)

type playerRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	CreatedAt time.Time
}

func (playerRow) TableName() string { return "players" }

type gameRow struct {
	ID           string    `gorm:"primaryKey"`
	Player1ID    string    `gorm:"column:player1;not null"`
	Player1      playerRow `gorm:"foreignKey:Player1ID;references:ID"`
	Player2ID    string    `gorm:"column:player2;not null"`
	Player2      playerRow `gorm:"foreignKey:Player2ID;references:ID"`
	OriginalCode string    `gorm:"not null"`
	BuggedCode   *string
	FixedCode    *string
	CreatedAt    time.Time
	EndedAt      time.Time
}

func (gameRow) TableName() string { return "games" }

// Storage persists players and finished games in Postgres through gorm.
type Storage struct {
	db *gorm.DB
}

var _ store.Store = (*Storage)(nil)

// Open connects, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string) (*Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Storage{db: db}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&playerRow{}, &gameRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Storage) InsertPlayer(ctx context.Context, p store.PlayerRecord) error {
	row := playerRow{ID: p.ID, Name: p.Name, Password: p.PasswordHash, CreatedAt: p.CreatedAt}
	return translate(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Storage) InsertGame(ctx context.Context, g store.GameRecord) error {
	row := gameRow{
		ID:           g.ID,
		Player1ID:    g.Player1ID,
		Player2ID:    g.Player2ID,
		OriginalCode: g.OriginalCode,
		BuggedCode:   nullable(g.BuggedCode),
		FixedCode:    nullable(g.FixedCode),
		CreatedAt:    g.CreatedAt,
		EndedAt:      g.EndedAt,
	}
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error)
}

func (s *Storage) GetPlayer(ctx context.Context, name string) (store.PlayerRecord, error) {
	var row playerRow
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if err != nil {
		return store.PlayerRecord{}, translate(err)
	}
	return store.PlayerRecord{ID: row.ID, Name: row.Name, PasswordHash: row.Password, CreatedAt: row.CreatedAt}, nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

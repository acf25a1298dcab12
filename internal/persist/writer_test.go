package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/bugfix-relay/internal/store"
	"github.com/DoyleJ11/bugfix-relay/internal/store/memory"
)

type failingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
}

func (f *failingStore) InsertGame(context.Context, store.GameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("connection refused")
}

func TestWriterStoresInOrder(t *testing.T) {
	mem := memory.New()
	w := NewWriter(mem, zap.NewNop(), 4, time.Second)

	w.SavePlayer(store.PlayerRecord{ID: "a", Name: "alice"})
	w.SavePlayer(store.PlayerRecord{ID: "b", Name: "bob"})
	w.SaveGame(store.GameRecord{ID: "g1", Player1ID: "a", Player2ID: "b"})

	require.NoError(t, w.Close(context.Background()))
	games := mem.Games()
	require.Len(t, games, 1)
	assert.Equal(t, "g1", games[0].ID)
}

func TestWriterLogsAndDropsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fs := &failingStore{}
	w := NewWriter(fs, zap.New(core), 4, time.Second)

	w.SaveGame(store.GameRecord{ID: "g1"})
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, 1, fs.calls, "failed writes are not retried")
	require.Equal(t, 1, logs.FilterMessage("store write failed").Len())
	assert.Equal(t, "g1", logs.All()[0].ContextMap()["id"])
}

func TestWriterRejectsAfterClose(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mem := memory.New()
	w := NewWriter(mem, zap.New(core), 1, time.Second)
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	w.SavePlayer(store.PlayerRecord{ID: "a", Name: "alice"})

	_, err := mem.GetPlayer(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, logs.FilterMessage("player not stored").Len())
}

type blockingStore struct {
	store.Store
	release chan struct{}
}

func (b *blockingStore) InsertGame(ctx context.Context, _ store.GameRecord) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bs := &blockingStore{release: make(chan struct{})}
	w := NewWriter(bs, zap.New(core), 1, time.Second)

	// first is picked up by the loop, second fills the queue
	w.SaveGame(store.GameRecord{ID: "g1"})
	require.Eventually(t, func() bool { return len(w.inbox) == 0 }, time.Second, time.Millisecond)
	w.SaveGame(store.GameRecord{ID: "g2"})
	w.SaveGame(store.GameRecord{ID: "g3"})

	dropped := logs.FilterMessage("game not stored")
	require.Equal(t, 1, dropped.Len())
	assert.Equal(t, "g3", dropped.All()[0].ContextMap()["id"])

	close(bs.release)
	require.NoError(t, w.Close(context.Background()))
}

package players

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/bugfix-relay/internal/engine"
	"github.com/DoyleJ11/bugfix-relay/internal/store"
	"github.com/DoyleJ11/bugfix-relay/internal/store/memory"
	"github.com/DoyleJ11/bugfix-relay/internal/types"
)

type fakeConn struct{ name string }

func (*fakeConn) Send(context.Context, types.ServerMessage) error { return nil }

type recordingSaver struct {
	mu    sync.Mutex
	saved []store.PlayerRecord
}

func (s *recordingSaver) SavePlayer(p store.PlayerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, p)
}

func (s *recordingSaver) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.saved))
	for _, p := range s.saved {
		out = append(out, p.Name)
	}
	return out
}

func newRegistry(t *testing.T, dir Directory) (*Registry, *recordingSaver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	saver := &recordingSaver{}
	r := New(ctx, dir, saver, zap.NewNop(), Config{BcryptCost: bcrypt.MinCost})
	return r, saver
}

func TestResolveOrCreate_CreatesOnce(t *testing.T) {
	r, saver := newRegistry(t, nil)
	ctx := context.Background()
	c1, c2 := &fakeConn{"c1"}, &fakeConn{"c2"}

	first, err := r.ResolveOrCreate(ctx, "alice", "pw", c1)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.InGame)

	again, err := r.ResolveOrCreate(ctx, "alice", "pw", c2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	assert.Equal(t, []string{"alice"}, saver.names())

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveOrCreate_RebindsConnection(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()
	c1, c2 := &fakeConn{"c1"}, &fakeConn{"c2"}

	p, err := r.ResolveOrCreate(ctx, "alice", "pw", c1)
	require.NoError(t, err)

	conn, err := r.Conn(ctx, p.ID)
	require.NoError(t, err)
	assert.Same(t, c1, conn)

	_, err = r.ResolveOrCreate(ctx, "alice", "pw", c2)
	require.NoError(t, err)

	conn, err = r.Conn(ctx, p.ID)
	require.NoError(t, err)
	assert.Same(t, c2, conn)
}

func TestResolveOrCreate_WrongPasswordNeverMutates(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()
	good, evil := &fakeConn{"good"}, &fakeConn{"evil"}

	p, err := r.ResolveOrCreate(ctx, "alice", "pw", good)
	require.NoError(t, err)

	for range 3 {
		_, err := r.ResolveOrCreate(ctx, "alice", "guess", evil)
		require.ErrorIs(t, err, ErrBadCredentials)
	}

	conn, err := r.Conn(ctx, p.ID)
	require.NoError(t, err)
	assert.Same(t, good, conn, "failed login must not steal the connection")

	again, err := r.ResolveOrCreate(ctx, "alice", "pw", good)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestResolveOrCreate_ConcurrentSameName(t *testing.T) {
	r, saver := newRegistry(t, nil)
	ctx := context.Background()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.ResolveOrCreate(ctx, "alice", "pw", &fakeConn{name: string(rune('a' + i))})
			if assert.NoError(t, err) {
				ids <- string(p.ID)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "one name must map to one player")
	assert.Len(t, saver.names(), 1)
}

func TestResolveOrCreate_AdoptsStoredIdentity(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	hash, err := hashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, mem.InsertPlayer(ctx, store.PlayerRecord{ID: "stored-id", Name: "alice", PasswordHash: string(hash)}))

	r, saver := newRegistry(t, mem)

	_, err = r.ResolveOrCreate(ctx, "alice", "wrong", &fakeConn{})
	require.ErrorIs(t, err, ErrBadCredentials)

	p, err := r.ResolveOrCreate(ctx, "alice", "pw", &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, "stored-id", string(p.ID))
	assert.Empty(t, saver.names(), "stored identities are not written again")
}

func TestResolveOrCreate_LongPassword(t *testing.T) {
	r, saver := newRegistry(t, nil)
	ctx := context.Background()
	long := strings.Repeat("x", 100)

	p, err := r.ResolveOrCreate(ctx, "carol", long, &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, saver.names())

	again, err := r.ResolveOrCreate(ctx, "carol", long, &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	// differs only past byte 72
	_, err = r.ResolveOrCreate(ctx, "carol", long[:99]+"y", &fakeConn{})
	require.ErrorIs(t, err, ErrBadCredentials)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimRelease(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	p, err := r.ResolveOrCreate(ctx, "alice", "pw", &fakeConn{})
	require.NoError(t, err)

	require.NoError(t, r.Claim(ctx, p.ID))
	assert.ErrorIs(t, r.Claim(ctx, p.ID), ErrAlreadyInGame)

	got, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.InGame)

	require.NoError(t, r.Release(ctx, p.ID))
	require.NoError(t, r.Claim(ctx, p.ID))

	assert.ErrorIs(t, r.Claim(ctx, "nobody"), ErrUnknownPlayer)
}

func TestUnbindDropsOnlyThatConnection(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()
	shared, other := &fakeConn{"shared"}, &fakeConn{"other"}

	a, err := r.ResolveOrCreate(ctx, "alice", "pw", shared)
	require.NoError(t, err)
	b, err := r.ResolveOrCreate(ctx, "bob", "pw", shared)
	require.NoError(t, err)
	c, err := r.ResolveOrCreate(ctx, "carol", "pw", other)
	require.NoError(t, err)

	n, err := r.Unbind(ctx, shared)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []engine.PlayerID{a.ID, b.ID} {
		conn, err := r.Conn(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, conn, string(id))
	}
	conn, err := r.Conn(ctx, c.ID)
	require.NoError(t, err)
	assert.Same(t, other, conn)
}

func TestShutdownRejectsCalls(t *testing.T) {
	r, _ := newRegistry(t, nil)
	r.Inbox() <- Shutdown{}

	_, err := r.ResolveOrCreate(context.Background(), "alice", "pw", &fakeConn{})
	assert.ErrorIs(t, err, ErrClosed)
}

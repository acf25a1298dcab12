package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/bugfix-relay/internal/games"
	"github.com/DoyleJ11/bugfix-relay/internal/persist"
	"github.com/DoyleJ11/bugfix-relay/internal/players"
	"github.com/DoyleJ11/bugfix-relay/internal/session"
	"github.com/DoyleJ11/bugfix-relay/internal/store/memory"
	"github.com/DoyleJ11/bugfix-relay/internal/types"
	"github.com/DoyleJ11/bugfix-relay/internal/ws"
)

type server struct {
	url string
	mem *memory.Storage
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWithLog(t, zap.NewNop())
}

func newServerWithLog(t *testing.T, log *zap.Logger) *server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	mem := memory.New()
	w := persist.NewWriter(mem, log, 32, time.Second)
	pr := players.New(ctx, mem, w, log, players.Config{BcryptCost: bcrypt.MinCost})
	gr := games.NewRegistry(ctx, pr, log, games.Config{DefaultCode: "some code"})
	d := session.NewDispatcher(pr, gr, w, log, session.Config{})

	srv := httptest.NewUnstartedServer(SetupRoutes(Deps{
		Sessions: d,
		Players:  pr,
		Games:    gr,
		Log:      log,
		WS:       ws.Config{ReadLimit: 1 << 16},
	}))
	srv.Config.BaseContext = func(_ net.Listener) context.Context { return ctx }
	srv.Start()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = w.Close(context.Background())
	})

	return &server{url: srv.URL, mem: mem}
}

func (s *server) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(s.url, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, action, name, gameID, code string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, types.ClientMessage{
		Action: action,
		Player: &types.PlayerCredentials{Name: name, Password: name + "-pw"},
		GameID: gameID,
		Code:   code,
	}))
}

func recv(t *testing.T, c *websocket.Conn) map[string]string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var m map[string]string
	require.NoError(t, wsjson.Read(ctx, c, &m))
	return m
}

func TestWebSocketRound(t *testing.T) {
	s := newServer(t)
	alice, bob := s.dial(t), s.dial(t)

	send(t, alice, types.ActionCreateGame, "alice", "", "")
	gameID := recv(t, alice)["gameId"]
	require.NotEmpty(t, gameID)

	send(t, bob, types.ActionFindGame, "bob", "", "")
	assert.Equal(t, gameID, recv(t, bob)["gameId"])

	send(t, bob, types.ActionJoinGame, "bob", gameID, "")
	assert.Equal(t, map[string]string{"code": "some code"}, recv(t, alice))

	send(t, bob, types.ActionBug, "bob", gameID, "some c0de")
	assert.Equal(t, map[string]string{"code": "some c0de"}, recv(t, bob))

	send(t, alice, types.ActionFix, "alice", gameID, "some code")
	require.Eventually(t, func() bool { return len(s.mem.Games()) == 1 }, 2*time.Second, 10*time.Millisecond)

	g := s.mem.Games()[0]
	assert.Equal(t, gameID, g.ID)
	assert.Equal(t, "some c0de", g.BuggedCode)
	assert.Equal(t, "some code", g.FixedCode)
}

func TestWebSocketInvalidFormatCloses(t *testing.T) {
	s := newServer(t)
	c := s.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("not json")))
	assert.Equal(t, map[string]string{"error": "invalid format"}, recv(t, c))

	_, _, err := c.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWebSocketClientClose(t *testing.T) {
	cases := []struct {
		name       string
		close      func(c *websocket.Conn)
		readFailed int
		reason     string
	}{
		{"close handshake", func(c *websocket.Conn) { _ = c.Close(websocket.StatusNormalClosure, "done") }, 0, "bye"},
		{"dropped connection", func(c *websocket.Conn) { _ = c.CloseNow() }, 1, "read failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			s := newServerWithLog(t, zap.New(core))
			c := s.dial(t)

			send(t, c, types.ActionFindGame, "alice", "", "")
			recv(t, c)
			tc.close(c)

			require.Eventually(t, func() bool {
				return logs.FilterMessage("session closed").Len() == 1
			}, 2*time.Second, 10*time.Millisecond)

			assert.Equal(t, tc.readFailed, logs.FilterMessage("read failed").Len())
			closed := logs.FilterMessage("session closed").All()[0]
			assert.Equal(t, tc.reason, closed.ContextMap()["reason"])
		})
	}
}

func TestStats(t *testing.T) {
	s := newServer(t)
	c := s.dial(t)
	send(t, c, types.ActionCreateGame, "alice", "", "x")
	recv(t, c)

	resp, err := http.Get(s.url + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, statsResponse{Players: 1, LiveGames: 1, WaitingGames: 1}, got)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

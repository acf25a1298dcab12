package ws

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bugfix-relay/internal/session"
)

type Config struct {
	// ReadLimit caps a single inbound message in bytes.
	ReadLimit int64
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*" in dev.
	OriginPatterns []string
}

// Server is the part of the session layer the handler drives.
type Server interface {
	Serve(ctx context.Context, t session.Transport) error
}

// Handler upgrades the request and runs one session on the connection.
func Handler(s Server, log *zap.Logger, cfg Config) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: cfg.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		if cfg.ReadLimit > 0 {
			c.SetReadLimit(cfg.ReadLimit)
		}

		if err := s.Serve(r.Context(), &conn{c: c}); err != nil {
			log.Debug("session ended", zap.String("remote", r.RemoteAddr), zap.Error(err))
		}
	}
}

// conn adapts a websocket connection to session.Transport.
type conn struct {
	c *websocket.Conn
}

func (t *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.c.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			return nil, session.ErrClosed
		}
		return nil, err
	}
	return data, nil
}

func (t *conn) Write(ctx context.Context, data []byte) error {
	return t.c.Write(ctx, websocket.MessageText, data)
}

func (t *conn) Close(reason string) error {
	err := t.c.Close(websocket.StatusNormalClosure, reason)
	// The peer may already be gone.
	if errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}

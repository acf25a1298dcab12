package session

import (
	"context"
	"errors"

	"github.com/DoyleJ11/bugfix-relay/internal/engine"
	"github.com/DoyleJ11/bugfix-relay/internal/games"
	"github.com/DoyleJ11/bugfix-relay/internal/players"
)

var (
	// ErrClosed is returned by a Transport when the peer closed the connection.
	ErrClosed        = errors.New("connection closed")
	ErrDecode        = errors.New("invalid format")
	ErrUnknownAction = errors.New("unknown action")
)

// errorText is the only place registry failures become wire text.
func errorText(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return "invalid format"
	case errors.Is(err, players.ErrBadCredentials):
		return "bad password"
	case errors.Is(err, ErrUnknownAction):
		return "unknown action"
	case errors.Is(err, players.ErrAlreadyInGame):
		return "already in game"
	case errors.Is(err, games.ErrNoWaitingGame):
		return "no game available"
	case errors.Is(err, games.ErrNotFound):
		return "game not found"
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrGameAlreadyEnded):
		return "invalid state"
	case errors.Is(err, engine.ErrWrongTurn):
		return "not your turn"
	case errors.Is(err, engine.ErrSamePlayer):
		return "cannot join own game"
	case isShutdown(err):
		return "server shutting down"
	default:
		return "internal error"
	}
}

// isFatal reports whether err ends the session after the error is sent.
func isFatal(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, players.ErrBadCredentials) ||
		isShutdown(err)
}

func isShutdown(err error) bool {
	return errors.Is(err, players.ErrClosed) ||
		errors.Is(err, games.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

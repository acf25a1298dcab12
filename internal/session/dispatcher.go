package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bugfix-relay/internal/engine"
	"github.com/DoyleJ11/bugfix-relay/internal/players"
	"github.com/DoyleJ11/bugfix-relay/internal/store"
	"github.com/DoyleJ11/bugfix-relay/internal/types"
)

// Transport is one accepted bidirectional connection. Read returns ErrClosed
// when the peer closed the connection; any other error is a receive failure.
// Read and Write may be called concurrently.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

type PlayerRegistry interface {
	ResolveOrCreate(ctx context.Context, name, password string, conn players.Conn) (players.Player, error)
	Conn(ctx context.Context, id engine.PlayerID) (players.Conn, error)
	Unbind(ctx context.Context, conn players.Conn) (int, error)
}

type GameRegistry interface {
	Create(ctx context.Context, owner engine.PlayerID, code string) (engine.Game, error)
	FindJoinable(ctx context.Context) (engine.Game, error)
	Join(ctx context.Context, id engine.GameID, joiner engine.PlayerID) (engine.Game, []engine.Event, error)
	SubmitBug(ctx context.Context, id engine.GameID, bugger engine.PlayerID, code string) (engine.Game, []engine.Event, error)
	SubmitFix(ctx context.Context, id engine.GameID, fixer engine.PlayerID, code string) (engine.Game, []engine.Event, error)
}

// Archive receives finished games. It must not block.
type Archive interface {
	SaveGame(g store.GameRecord)
}

type Config struct {
	WriteTimeout time.Duration
	OutboxSize   int
}

type Dispatcher struct {
	players PlayerRegistry
	games   GameRegistry
	archive Archive
	cfg     Config
	log     *zap.Logger
}

func NewDispatcher(p PlayerRegistry, g GameRegistry, a Archive, log *zap.Logger, cfg Config) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 16
	}
	return &Dispatcher{players: p, games: g, archive: a, cfg: cfg, log: log.Named("session")}
}

// Serve runs the read/dispatch loop for one connection until the peer closes
// it, a read fails, or a fatal protocol error occurs. Registry state is left
// as is when the loop ends.
func (d *Dispatcher) Serve(ctx context.Context, t Transport) error {
	log := d.log.With(zap.String("session", uuid.NewString()))
	out := newOutbox(t, d.cfg.OutboxSize, d.cfg.WriteTimeout, log)
	go out.run()

	reason := "bye"
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.WriteTimeout)
		defer cancel()
		if _, err := d.players.Unbind(cleanup, out); err != nil {
			log.Debug("unbind failed", zap.Error(err))
		}
		out.close()
		if err := t.Close(reason); err != nil {
			log.Debug("close failed", zap.Error(err))
		}
		log.Debug("session closed", zap.String("reason", reason))
	}()

	log.Debug("session opened")
	for {
		data, err := t.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			reason = "read failed"
			log.Info("read failed", zap.Error(err))
			return err
		}

		err = d.handle(ctx, out, data)
		if err == nil {
			continue
		}
		if sendErr := out.Send(ctx, types.ErrorMessage(errorText(err))); sendErr != nil {
			log.Debug("error reply dropped", zap.Error(sendErr))
		}
		if isFatal(err) {
			reason = errorText(err)
			log.Info("session terminated", zap.Error(err))
			return err
		}
		log.Debug("request rejected", zap.Error(err))
	}
}

func decode(data []byte) (types.ClientMessage, error) {
	var msg types.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.Action == "" || msg.Player == nil || msg.Player.Name == "" {
		return msg, fmt.Errorf("%w: action and player name are required", ErrDecode)
	}
	return msg, nil
}

func (d *Dispatcher) handle(ctx context.Context, out *outbox, data []byte) error {
	msg, err := decode(data)
	if err != nil {
		return err
	}

	player, err := d.players.ResolveOrCreate(ctx, msg.Player.Name, msg.Player.Password, out)
	if err != nil {
		return err
	}
	gameID := engine.GameID(msg.GameID)

	switch msg.Action {
	case types.ActionCreateGame:
		g, err := d.games.Create(ctx, player.ID, msg.Code)
		if err != nil {
			return err
		}
		return out.Send(ctx, types.GameIDMessage(string(g.ID)))

	case types.ActionFindGame:
		g, err := d.games.FindJoinable(ctx)
		if err != nil {
			return err
		}
		return out.Send(ctx, types.GameIDMessage(string(g.ID)))

	case types.ActionJoinGame:
		_, events, err := d.games.Join(ctx, gameID, player.ID)
		if err != nil {
			return err
		}
		d.deliver(ctx, events)
		return nil

	case types.ActionBug:
		_, events, err := d.games.SubmitBug(ctx, gameID, player.ID, msg.Code)
		if err != nil {
			return err
		}
		d.deliver(ctx, events)
		return nil

	case types.ActionFix:
		g, _, err := d.games.SubmitFix(ctx, gameID, player.ID, msg.Code)
		if err != nil {
			return err
		}
		d.archive.SaveGame(toRecord(g))
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
}

// deliver sends event payloads to their recipients. A recipient who is
// offline or slow never turns into an error for the requester.
func (d *Dispatcher) deliver(ctx context.Context, events []engine.Event) {
	for _, ev := range events {
		if ev.Recipient == "" {
			continue
		}

		conn, err := d.players.Conn(ctx, ev.Recipient)
		if err != nil || conn == nil {
			d.log.Warn("recipient offline",
				zap.String("event", string(ev.Type)),
				zap.String("player", string(ev.Recipient)),
				zap.Error(err))
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
		err = conn.Send(sendCtx, types.CodeMessage(ev.Code))
		cancel()
		if err != nil {
			d.log.Warn("delivery failed",
				zap.String("event", string(ev.Type)),
				zap.String("player", string(ev.Recipient)),
				zap.Error(err))
		}
	}
}

func toRecord(g engine.Game) store.GameRecord {
	return store.GameRecord{
		ID:           string(g.ID),
		Player1ID:    string(g.Player1),
		Player2ID:    string(g.Player2),
		OriginalCode: g.OriginalCode,
		BuggedCode:   g.BuggedCode,
		FixedCode:    g.FixedCode,
		CreatedAt:    g.CreatedAt,
		EndedAt:      g.EndedAt,
	}
}

package games

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bugfix-relay/internal/engine"
)

var (
	ErrNotFound      = errors.New("game not found")
	ErrNoWaitingGame = fmt.Errorf("no game waiting for a player: %w", ErrNotFound)
	ErrClosed        = errors.New("game registry closed")
)

// Occupancy is the "in game" flag on players. Claim must be an atomic
// test-and-set.
type Occupancy interface {
	Claim(ctx context.Context, id engine.PlayerID) error
	Release(ctx context.Context, ids ...engine.PlayerID) error
}

type GamesMsg interface{ isGamesMsg() }

// Result is the reply to every command. Events are only set on success.
type Result struct {
	Game   engine.Game
	Events []engine.Event
	Err    error
}

type CreateGame struct {
	Owner engine.PlayerID
	Code  string
	Reply chan Result
}

type FindJoinable struct {
	Reply chan Result
}

type JoinGame struct {
	ID     engine.GameID
	Player engine.PlayerID
	Reply  chan Result
}

type SubmitBug struct {
	ID     engine.GameID
	Player engine.PlayerID
	Code   string
	Reply  chan Result
}

type SubmitFix struct {
	ID     engine.GameID
	Player engine.PlayerID
	Code   string
	Reply  chan Result
}

type GetGame struct {
	ID    engine.GameID
	Reply chan Result
}

type Stats struct {
	Live    int
	Waiting int
}

type GetStats struct {
	Reply chan Stats
}

type ShutdownGames struct{}

func (CreateGame) isGamesMsg()    {}
func (FindJoinable) isGamesMsg()  {}
func (JoinGame) isGamesMsg()      {}
func (SubmitBug) isGamesMsg()     {}
func (SubmitFix) isGamesMsg()     {}
func (GetGame) isGamesMsg()       {}
func (GetStats) isGamesMsg()      {}
func (ShutdownGames) isGamesMsg() {}

type Config struct {
	// DefaultCode seeds a game created without code.
	DefaultCode string
	Policy      engine.Policy
}

// Registry owns the live games. A game leaves the registry the moment it
// ends; ids are never reused.
type Registry struct {
	inbox   chan GamesMsg
	games   map[engine.GameID]*engine.Game
	waiting []engine.GameID // oldest first
	ctx     context.Context
	cancel  context.CancelFunc

	players     Occupancy
	policy      engine.Policy
	defaultCode string
	log         *zap.Logger
	now         func() time.Time
	newID       func() string
}

func NewRegistry(parent context.Context, players Occupancy, log *zap.Logger, cfg Config) *Registry {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Policy == nil {
		cfg.Policy = engine.Lenient{}
	}

	r := &Registry{
		inbox:       make(chan GamesMsg, 64),
		games:       make(map[engine.GameID]*engine.Game),
		ctx:         ctx,
		cancel:      cancel,
		players:     players,
		policy:      cfg.Policy,
		defaultCode: cfg.DefaultCode,
		log:         log.Named("games"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- GamesMsg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case CreateGame:
				msg.Reply <- r.create(msg.Owner, msg.Code)

			case FindJoinable:
				if len(r.waiting) == 0 {
					msg.Reply <- Result{Err: ErrNoWaitingGame}
					break
				}
				msg.Reply <- Result{Game: *r.games[r.waiting[0]]}

			case JoinGame:
				msg.Reply <- r.join(msg.ID, msg.Player)

			case SubmitBug:
				msg.Reply <- r.apply(msg.ID, engine.Command{Type: engine.CmdBug, Player: msg.Player, Code: msg.Code, At: r.now()})

			case SubmitFix:
				msg.Reply <- r.fix(msg.ID, msg.Player, msg.Code)

			case GetGame:
				g, ok := r.games[msg.ID]
				if !ok {
					msg.Reply <- Result{Err: ErrNotFound}
					break
				}
				msg.Reply <- Result{Game: *g}

			case GetStats:
				msg.Reply <- Stats{Live: len(r.games), Waiting: len(r.waiting)}

			case ShutdownGames:
				clear(r.games)
				r.waiting = nil
				r.cancel()
				return
			}
		}
	}
}

func (r *Registry) create(owner engine.PlayerID, code string) Result {
	// Occupancy calls use the registry's context: a claim that succeeded must
	// not be abandoned because the requester went away.
	if err := r.players.Claim(r.ctx, owner); err != nil {
		return Result{Err: err}
	}
	if code == "" {
		code = r.defaultCode
	}

	g := engine.NewGame(engine.GameID(r.newID()), owner, code, r.now())
	r.games[g.ID] = &g
	r.waiting = append(r.waiting, g.ID)

	r.log.Info("game created", zap.String("game", string(g.ID)), zap.String("owner", string(owner)))
	return Result{Game: g}
}

func (r *Registry) join(id engine.GameID, joiner engine.PlayerID) Result {
	g, ok := r.games[id]
	if !ok {
		return Result{Err: ErrNotFound}
	}
	if g.State != engine.StateCreated {
		return Result{Err: engine.ErrInvalidState}
	}
	if err := r.players.Claim(r.ctx, joiner); err != nil {
		return Result{Err: err}
	}

	res := r.apply(id, engine.Command{Type: engine.CmdJoin, Player: joiner, At: r.now()})
	if res.Err != nil {
		r.release(joiner)
		return res
	}
	r.waiting = slices.DeleteFunc(r.waiting, func(w engine.GameID) bool { return w == id })
	return res
}

func (r *Registry) fix(id engine.GameID, fixer engine.PlayerID, code string) Result {
	res := r.apply(id, engine.Command{Type: engine.CmdFix, Player: fixer, Code: code, At: r.now()})
	if res.Err != nil {
		return res
	}

	delete(r.games, id)
	r.release(res.Game.Player1, res.Game.Player2)
	r.log.Info("game ended", zap.String("game", string(id)))
	return res
}

func (r *Registry) apply(id engine.GameID, cmd engine.Command) Result {
	g, ok := r.games[id]
	if !ok {
		return Result{Err: ErrNotFound}
	}

	events, next, err := engine.Apply(*g, cmd, r.policy)
	if err != nil {
		return Result{Err: err}
	}
	*g = next

	r.log.Debug("game advanced",
		zap.String("game", string(id)),
		zap.String("command", string(cmd.Type)),
		zap.String("state", string(next.State)))
	return Result{Game: next, Events: events}
}

func (r *Registry) release(ids ...engine.PlayerID) {
	if err := r.players.Release(r.ctx, ids...); err != nil {
		r.log.Warn("release players failed", zap.Error(err))
	}
}

func (r *Registry) call(ctx context.Context, build func(reply chan Result) GamesMsg) Result {
	reply := make(chan Result, 1)

	select {
	case r.inbox <- build(reply):
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-r.ctx.Done():
		return Result{Err: ErrClosed}
	}

	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-r.ctx.Done():
		return Result{Err: ErrClosed}
	}
}

// Create opens a game owned by owner. Fails with players.ErrAlreadyInGame
// if the owner is busy.
func (r *Registry) Create(ctx context.Context, owner engine.PlayerID, code string) (engine.Game, error) {
	res := r.call(ctx, func(reply chan Result) GamesMsg { return CreateGame{Owner: owner, Code: code, Reply: reply} })
	return res.Game, res.Err
}

// FindJoinable returns the oldest game still waiting for a second player.
func (r *Registry) FindJoinable(ctx context.Context) (engine.Game, error) {
	res := r.call(ctx, func(reply chan Result) GamesMsg { return FindJoinable{Reply: reply} })
	return res.Game, res.Err
}

func (r *Registry) Join(ctx context.Context, id engine.GameID, joiner engine.PlayerID) (engine.Game, []engine.Event, error) {
	res := r.call(ctx, func(reply chan Result) GamesMsg { return JoinGame{ID: id, Player: joiner, Reply: reply} })
	return res.Game, res.Events, res.Err
}

func (r *Registry) SubmitBug(ctx context.Context, id engine.GameID, bugger engine.PlayerID, code string) (engine.Game, []engine.Event, error) {
	res := r.call(ctx, func(reply chan Result) GamesMsg { return SubmitBug{ID: id, Player: bugger, Code: code, Reply: reply} })
	return res.Game, res.Events, res.Err
}

// SubmitFix ends the game and returns the finalized record.
func (r *Registry) SubmitFix(ctx context.Context, id engine.GameID, fixer engine.PlayerID, code string) (engine.Game, []engine.Event, error) {
	res := r.call(ctx, func(reply chan Result) GamesMsg { return SubmitFix{ID: id, Player: fixer, Code: code, Reply: reply} })
	return res.Game, res.Events, res.Err
}

func (r *Registry) Get(ctx context.Context, id engine.GameID) (engine.Game, error) {
	res := r.call(ctx, func(reply chan Result) GamesMsg { return GetGame{ID: id, Reply: reply} })
	return res.Game, res.Err
}

func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case r.inbox <- GetStats{Reply: reply}:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-r.ctx.Done():
		return Stats{}, ErrClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-r.ctx.Done():
		return Stats{}, ErrClosed
	}
}

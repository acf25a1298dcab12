package players

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/bugfix-relay/internal/engine"
	"github.com/DoyleJ11/bugfix-relay/internal/store"
	"github.com/DoyleJ11/bugfix-relay/internal/types"
)

var (
	ErrBadCredentials = errors.New("bad password")
	ErrAlreadyInGame  = errors.New("already in game")
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrClosed         = errors.New("player registry closed")
)

// Conn is the outbound half of a live connection. The registry only keeps a
// reference; the session that created it owns its lifetime.
type Conn interface {
	Send(ctx context.Context, msg types.ServerMessage) error
}

type Player struct {
	ID        engine.PlayerID
	Name      string
	InGame    bool
	CreatedAt time.Time
}

// account is a player plus its credential hash. Only the unexported lookup
// and insert messages carry it.
type account struct {
	Player
	Hash []byte
}

type record struct {
	account
	conn Conn
}

// Directory is where identities from earlier runs are looked up by name.
type Directory interface {
	GetPlayer(ctx context.Context, name string) (store.PlayerRecord, error)
}

// Saver receives newly created identities. It must not block.
type Saver interface {
	SavePlayer(p store.PlayerRecord)
}

type Msg interface{ isPlayersMsg() }

type lookup struct {
	Name  string
	Reply chan lookupReply
}

type lookupReply struct {
	account account
	Found   bool
}

// insert adds the account unless the name is taken, in which case the existing
// entry is returned with Inserted false.
type insert struct {
	account account
	Conn    Conn
	Reply   chan insertReply
}

type insertReply struct {
	account  account
	Inserted bool
}

type Bind struct {
	ID    engine.PlayerID
	Conn  Conn
	Reply chan PlayerReply
}

type PlayerReply struct {
	Player Player
	Err    error
}

type Claim struct {
	ID    engine.PlayerID
	Reply chan error
}

type Release struct {
	IDs   []engine.PlayerID
	Reply chan error
}

type GetConn struct {
	ID    engine.PlayerID
	Reply chan Conn
}

type Unbind struct {
	Conn  Conn
	Reply chan int
}

type Get struct {
	Name  string
	Reply chan PlayerReply
}

type Count struct {
	Reply chan int
}

type Shutdown struct{}

func (lookup) isPlayersMsg()   {}
func (insert) isPlayersMsg()   {}
func (Bind) isPlayersMsg()     {}
func (Claim) isPlayersMsg()    {}
func (Release) isPlayersMsg()  {}
func (GetConn) isPlayersMsg()  {}
func (Unbind) isPlayersMsg()   {}
func (Get) isPlayersMsg()      {}
func (Count) isPlayersMsg()    {}
func (Shutdown) isPlayersMsg() {}

type Config struct {
	BcryptCost int
}

// Registry owns every logged-in player. All reads and writes go through one
// goroutine, so lookup-then-create and test-then-set are atomic.
type Registry struct {
	inbox  chan Msg
	byName map[string]*record
	byID   map[engine.PlayerID]*record
	ctx    context.Context
	cancel context.CancelFunc

	dir   Directory
	saver Saver
	cost  int
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// New starts the registry. dir and saver may be nil.
func New(parent context.Context, dir Directory, saver Saver, log *zap.Logger, cfg Config) *Registry {
	ctx, cancel := context.WithCancel(parent)
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	r := &Registry{
		inbox:  make(chan Msg, 64),
		byName: make(map[string]*record),
		byID:   make(map[engine.PlayerID]*record),
		ctx:    ctx,
		cancel: cancel,
		dir:    dir,
		saver:  saver,
		cost:   cfg.BcryptCost,
		log:    log.Named("players"),
		now:    time.Now,
		newID:  uuid.NewString,
	}

	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case lookup:
				rec, ok := r.byName[msg.Name]
				if !ok {
					msg.Reply <- lookupReply{}
					break
				}
				msg.Reply <- lookupReply{account: rec.account, Found: true}

			case insert:
				if rec, ok := r.byName[msg.account.Name]; ok {
					msg.Reply <- insertReply{account: rec.account}
					break
				}
				rec := &record{account: msg.account, conn: msg.Conn}
				r.byName[rec.Name] = rec
				r.byID[rec.ID] = rec
				msg.Reply <- insertReply{account: rec.account, Inserted: true}

			case Bind:
				rec, ok := r.byID[msg.ID]
				if !ok {
					msg.Reply <- PlayerReply{Err: ErrUnknownPlayer}
					break
				}
				// A newer connection for the same player evicts the old one.
				rec.conn = msg.Conn
				msg.Reply <- PlayerReply{Player: rec.Player}

			case Claim:
				rec, ok := r.byID[msg.ID]
				switch {
				case !ok:
					msg.Reply <- ErrUnknownPlayer
				case rec.InGame:
					msg.Reply <- ErrAlreadyInGame
				default:
					rec.InGame = true
					msg.Reply <- nil
				}

			case Release:
				for _, id := range msg.IDs {
					if rec, ok := r.byID[id]; ok {
						rec.InGame = false
					}
				}
				msg.Reply <- nil

			case GetConn:
				if rec, ok := r.byID[msg.ID]; ok {
					msg.Reply <- rec.conn
					break
				}
				msg.Reply <- nil

			case Unbind:
				n := 0
				for _, rec := range r.byID {
					if rec.conn != nil && rec.conn == msg.Conn {
						rec.conn = nil
						n++
					}
				}
				msg.Reply <- n

			case Get:
				rec, ok := r.byName[msg.Name]
				if !ok {
					msg.Reply <- PlayerReply{Err: ErrUnknownPlayer}
					break
				}
				msg.Reply <- PlayerReply{Player: rec.Player}

			case Count:
				msg.Reply <- len(r.byID)

			case Shutdown:
				r.cancel()
				return
			}
		}
	}
}

func call[T any](ctx context.Context, r *Registry, build func(reply chan T) Msg) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case r.inbox <- build(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.ctx.Done():
		return zero, ErrClosed
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.ctx.Done():
		return zero, ErrClosed
	}
}

// ResolveOrCreate authenticates name/password and binds conn to the player.
// An unknown name creates a new player with that password. Hashing runs on
// the caller's goroutine; only the insert itself is serialized.
func (r *Registry) ResolveOrCreate(ctx context.Context, name, password string, conn Conn) (Player, error) {
	found, err := call(ctx, r, func(reply chan lookupReply) Msg { return lookup{Name: name, Reply: reply} })
	if err != nil {
		return Player{}, err
	}
	entry, ok := found.account, found.Found

	if !ok {
		entry, ok, err = r.adopt(ctx, name)
		if err != nil {
			return Player{}, err
		}
	}

	if !ok {
		hash, err := hashPassword(password, r.cost)
		if err != nil {
			return Player{}, err
		}
		fresh := account{
			Player: Player{ID: engine.PlayerID(r.newID()), Name: name, CreatedAt: r.now()},
			Hash:   hash,
		}
		res, err := call(ctx, r, func(reply chan insertReply) Msg { return insert{account: fresh, Conn: conn, Reply: reply} })
		if err != nil {
			return Player{}, err
		}
		if res.Inserted {
			r.log.Info("player created", zap.String("player", string(fresh.ID)), zap.String("name", name))
			if r.saver != nil {
				r.saver.SavePlayer(store.PlayerRecord{
					ID:           string(fresh.ID),
					Name:         name,
					PasswordHash: string(hash),
					CreatedAt:    fresh.CreatedAt,
				})
			}
			return res.account.Player, nil
		}
		// Lost the race to a concurrent login for the same name.
		entry = res.account
	}

	if err := checkPassword(entry.Hash, password); err != nil {
		return Player{}, ErrBadCredentials
	}

	res, err := call(ctx, r, func(reply chan PlayerReply) Msg { return Bind{ID: entry.ID, Conn: conn, Reply: reply} })
	if err != nil {
		return Player{}, err
	}
	return res.Player, res.Err
}

// adopt loads an identity stored by an earlier run into the registry.
func (r *Registry) adopt(ctx context.Context, name string) (account, bool, error) {
	if r.dir == nil {
		return account{}, false, nil
	}

	rec, err := r.dir.GetPlayer(ctx, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Warn("player lookup failed", zap.String("name", name), zap.Error(err))
		}
		return account{}, false, nil
	}

	stored := account{
		Player: Player{ID: engine.PlayerID(rec.ID), Name: rec.Name, CreatedAt: rec.CreatedAt},
		Hash:   []byte(rec.PasswordHash),
	}
	res, err := call(ctx, r, func(reply chan insertReply) Msg { return insert{account: stored, Reply: reply} })
	if err != nil {
		return account{}, false, err
	}
	return res.account, true, nil
}

func (r *Registry) Claim(ctx context.Context, id engine.PlayerID) error {
	err, callErr := call(ctx, r, func(reply chan error) Msg { return Claim{ID: id, Reply: reply} })
	if callErr != nil {
		return callErr
	}
	return err
}

func (r *Registry) Release(ctx context.Context, ids ...engine.PlayerID) error {
	_, err := call(ctx, r, func(reply chan error) Msg { return Release{IDs: ids, Reply: reply} })
	return err
}

// Conn returns the connection currently bound to id, or nil.
func (r *Registry) Conn(ctx context.Context, id engine.PlayerID) (Conn, error) {
	return call(ctx, r, func(reply chan Conn) Msg { return GetConn{ID: id, Reply: reply} })
}

// Unbind detaches conn from every player it is bound to and reports how many.
func (r *Registry) Unbind(ctx context.Context, conn Conn) (int, error) {
	return call(ctx, r, func(reply chan int) Msg { return Unbind{Conn: conn, Reply: reply} })
}

func (r *Registry) Get(ctx context.Context, name string) (Player, error) {
	res, err := call(ctx, r, func(reply chan PlayerReply) Msg { return Get{Name: name, Reply: reply} })
	if err != nil {
		return Player{}, err
	}
	return res.Player, res.Err
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	return call(ctx, r, func(reply chan int) Msg { return Count{Reply: reply} })
}

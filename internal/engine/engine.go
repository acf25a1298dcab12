package engine

import (
	"errors"
	"time"
)

var ErrInvalidState = errors.New("invalid state")
var ErrWrongTurn = errors.New("not your turn")
var ErrSamePlayer = errors.New("cannot join own game")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrGameAlreadyEnded = errors.New("game already ended")

type GameID string
type PlayerID string

type State string

const (
	StateCreated State = "created"
	StateBugging State = "bugging"
	StateFixing  State = "fixing"
	StateEnded   State = "ended"
)

// Game is the authoritative record of one bug/fix round. Player2 is empty
// until someone joins; BuggedCode and FixedCode fill in as the game advances.
type Game struct {
	ID           GameID
	Player1      PlayerID
	Player2      PlayerID
	OriginalCode string
	BuggedCode   string
	FixedCode    string
	State        State
	CreatedAt    time.Time
	EndedAt      time.Time
}

type CommandType string

const (
	CmdJoin CommandType = "Join"
	CmdBug  CommandType = "Bug"
	CmdFix  CommandType = "Fix"
)

/*
	CmdJoin -> EvtPlayerJoined (delivered to Player1 with the original code)
	CmdBug  -> EvtCodeBugged   (delivered to Player2 with the bugged code)
	CmdFix  -> EvtCodeFixed -> EvtGameEnded (nothing delivered, game is archived)
*/

type Command struct {
	Type   CommandType
	Player PlayerID
	Code   string
	At     time.Time
}

type EventType string

const (
	EvtPlayerJoined EventType = "PlayerJoined"
	EvtCodeBugged   EventType = "CodeBugged"
	EvtCodeFixed    EventType = "CodeFixed"
	EvtGameEnded    EventType = "GameEnded"
)

// Event is a fact produced by Apply. Recipient is set when the event carries
// a payload for one of the two players.
type Event struct {
	Type      EventType
	Player    PlayerID
	Recipient PlayerID
	Code      string
	At        time.Time
}

// NewGame returns a game waiting for its second player.
func NewGame(id GameID, owner PlayerID, code string, at time.Time) Game {
	return Game{
		ID:           id,
		Player1:      owner,
		OriginalCode: code,
		State:        StateCreated,
		CreatedAt:    at,
	}
}

func Apply(g Game, cmd Command, p Policy) ([]Event, Game, error) {
	if g.State == StateEnded {
		return nil, g, ErrGameAlreadyEnded
	}

	step, ok := stepFor(cmd.Type)
	if !ok {
		return nil, g, ErrUnsupportedCommand
	}
	if g.State != step.From {
		return nil, g, ErrInvalidState
	}
	if p == nil {
		p = Lenient{}
	}

	newGame := g

	switch cmd.Type {
	case CmdJoin:
		if cmd.Player == g.Player1 {
			return nil, g, ErrSamePlayer
		}

		newGame.Player2 = cmd.Player
		newGame.State = step.To
		return []Event{
			{Type: EvtPlayerJoined, Player: cmd.Player, Recipient: g.Player1, Code: g.OriginalCode, At: cmd.At},
		}, newGame, nil

	case CmdBug:
		if g.Player2 == "" {
			return nil, g, ErrInvalidState
		}
		if !p.CanBug(g, cmd.Player) {
			return nil, g, ErrWrongTurn
		}

		newGame.BuggedCode = cmd.Code
		newGame.State = step.To
		return []Event{
			{Type: EvtCodeBugged, Player: cmd.Player, Recipient: g.Player2, Code: cmd.Code, At: cmd.At},
		}, newGame, nil

	case CmdFix:
		if !p.CanFix(g, cmd.Player) {
			return nil, g, ErrWrongTurn
		}

		newGame.FixedCode = cmd.Code
		newGame.State = step.To
		newGame.EndedAt = cmd.At
		return []Event{
			{Type: EvtCodeFixed, Player: cmd.Player, Code: cmd.Code, At: cmd.At},
			{Type: EvtGameEnded, At: cmd.At},
		}, newGame, nil

	default:
		return nil, g, ErrUnsupportedCommand
	}
}

// Replay folds an event log onto a freshly created game.
func Replay(seed Game, events []Event) Game {
	g := seed
	for _, event := range events {
		switch event.Type {
		case EvtPlayerJoined:
			g.Player2 = event.Player
			g.State = StateBugging
		case EvtCodeBugged:
			g.BuggedCode = event.Code
			g.State = StateFixing
		case EvtCodeFixed:
			g.FixedCode = event.Code
		case EvtGameEnded:
			g.State = StateEnded
			g.EndedAt = event.At
		}
	}
	return g
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

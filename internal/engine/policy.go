package engine

// Policy decides who may submit a bug or a fix. The state machine consults it
// only after the state checks pass.
type Policy interface {
	CanBug(g Game, player PlayerID) bool
	CanFix(g Game, player PlayerID) bool
}

// Lenient accepts a submission from any authenticated player.
type Lenient struct{}

func (Lenient) CanBug(Game, PlayerID) bool { return true }
func (Lenient) CanFix(Game, PlayerID) bool { return true }

// Strict lets only the joiner bug the code and only the author fix it.
type Strict struct{}

func (Strict) CanBug(g Game, player PlayerID) bool { return player == g.Player2 }
func (Strict) CanFix(g Game, player PlayerID) bool { return player == g.Player1 }

func PolicyFor(strict bool) Policy {
	if strict {
		return Strict{}
	}
	return Lenient{}
}

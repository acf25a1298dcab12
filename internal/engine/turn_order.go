package engine

// Lifecycle is the only order a game moves through. Index equals progress.
var Lifecycle = []State{
	StateCreated,
	StateBugging,
	StateFixing,
	StateEnded,
}

// TurnStep is one legal edge of the lifecycle.
type TurnStep struct {
	Command CommandType
	From    State
	To      State
}

var TurnOrder = []TurnStep{
	{Command: CmdJoin, From: StateCreated, To: StateBugging},
	{Command: CmdBug, From: StateBugging, To: StateFixing},
	{Command: CmdFix, From: StateFixing, To: StateEnded},
}

func stepFor(cmd CommandType) (TurnStep, bool) {
	for _, step := range TurnOrder {
		if step.Command == cmd {
			return step, true
		}
	}
	return TurnStep{}, false
}

// Progress reports how far along the lifecycle a state is, or -1 if unknown.
func Progress(s State) int {
	for i, st := range Lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

package engine

// Moves in display order.
var Moves = []Move{MoveRock, MovePaper, MoveScissors}

// beats maps each move to the one it defeats.
var beats = map[Move]Move{
	MoveRock:     MoveScissors,
	MoveScissors: MovePaper,
	MovePaper:    MoveRock,
}

func (m Move) Valid() bool {
	_, ok := beats[m]
	return ok
}

func (m Move) Beats(other Move) bool {
	loser, ok := beats[m]
	return ok && loser == other
}

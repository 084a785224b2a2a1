package engine

import (
	"fmt"
	"strings"
)

// NewRoom is the record a creator writes when it first finds the room absent.
func NewRoom(creator string) Room {
	return Room{
		Status:    StatusWaiting,
		Player1ID: creator,
	}
}

func Ptr[T any](v T) *T {
	return &v
}

// ParseMove accepts a move name or its first letter, any case.
func ParseMove(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return MoveNone, ErrNoMove
	case "r", string(MoveRock):
		return MoveRock, nil
	case "p", string(MovePaper):
		return MovePaper, nil
	case "s", string(MoveScissors):
		return MoveScissors, nil
	default:
		return MoveNone, fmt.Errorf("%w: %q", ErrInvalidMove, s)
	}
}

func (r Role) String() string {
	switch r {
	case RolePlayer1:
		return "Player 1"
	case RolePlayer2:
		return "Player 2"
	default:
		return "unassigned"
	}
}

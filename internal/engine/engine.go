package engine

import "errors"

var ErrNoMove = errors.New("no move selected")
var ErrInvalidMove = errors.New("invalid move")

type Move string

const (
	MoveNone     Move = ""
	MoveRock     Move = "rock"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeTie  Outcome = "tie"
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
)

// Role is a client's seat in a room. RoleUnknown until derived or claimed.
type Role int

const (
	RoleUnknown Role = iota
	RolePlayer1
	RolePlayer2
)

// Room is the shared record both clients read and write. Absent identities
// and moves are the zero value.
type Room struct {
	Status      Status `json:"status"`
	Player1ID   string `json:"player1Id,omitempty"`
	Player2ID   string `json:"player2Id,omitempty"`
	Player1Move Move   `json:"player1Move,omitempty"`
	Player2Move Move   `json:"player2Move,omitempty"`
	Round       int    `json:"round"`
}

// Patch is a partial write. Nil fields are left untouched; a pointer to the
// zero value clears the field.
type Patch struct {
	Status      *Status `json:"status,omitempty"`
	Player1ID   *string `json:"player1Id,omitempty"`
	Player2ID   *string `json:"player2Id,omitempty"`
	Player1Move *Move   `json:"player1Move,omitempty"`
	Player2Move *Move   `json:"player2Move,omitempty"`
	Round       *int    `json:"round,omitempty"`
}

// Precondition guards a write: every non-nil field must equal the stored value.
type Precondition struct {
	Player2ID   *string `json:"player2Id,omitempty"`
	Player1Move *Move   `json:"player1Move,omitempty"`
	Player2Move *Move   `json:"player2Move,omitempty"`
	Round       *int    `json:"round,omitempty"`
}

func Apply(r Room, p Patch) Room {
	next := r
	if p.Status != nil {
		// status only ever moves forward
		if !(r.Status == StatusActive && *p.Status == StatusWaiting) {
			next.Status = *p.Status
		}
	}
	if p.Player1ID != nil {
		next.Player1ID = *p.Player1ID
	}
	if p.Player2ID != nil {
		next.Player2ID = *p.Player2ID
	}
	if p.Player1Move != nil {
		next.Player1Move = *p.Player1Move
	}
	if p.Player2Move != nil {
		next.Player2Move = *p.Player2Move
	}
	if p.Round != nil {
		next.Round = *p.Round
	}
	return next
}

func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

func (c Precondition) Holds(r Room) bool {
	if c.Player2ID != nil && *c.Player2ID != r.Player2ID {
		return false
	}
	if c.Player1Move != nil && *c.Player1Move != r.Player1Move {
		return false
	}
	if c.Player2Move != nil && *c.Player2Move != r.Player2Move {
		return false
	}
	if c.Round != nil && *c.Round != r.Round {
		return false
	}
	return true
}

// Resolve scores mine against theirs. Either move absent or unknown yields
// OutcomeNone.
func Resolve(mine, theirs Move) Outcome {
	if !mine.Valid() || !theirs.Valid() {
		return OutcomeNone
	}
	switch {
	case mine == theirs:
		return OutcomeTie
	case mine.Beats(theirs):
		return OutcomeWin
	default:
		return OutcomeLose
	}
}

func (o Outcome) Invert() Outcome {
	switch o {
	case OutcomeWin:
		return OutcomeLose
	case OutcomeLose:
		return OutcomeWin
	default:
		return o
	}
}

func (r Room) MoveOf(role Role) Move {
	switch role {
	case RolePlayer1:
		return r.Player1Move
	case RolePlayer2:
		return r.Player2Move
	default:
		return MoveNone
	}
}

func (r Room) OpponentMoveOf(role Role) Move {
	switch role {
	case RolePlayer1:
		return r.Player2Move
	case RolePlayer2:
		return r.Player1Move
	default:
		return MoveNone
	}
}

// Resolved reports whether both moves of the current round are in.
func (r Room) Resolved() bool {
	return r.Player1Move != MoveNone && r.Player2Move != MoveNone
}

// SeatOf returns the role already held by id, or RoleUnknown.
func (r Room) SeatOf(id string) Role {
	switch {
	case id == "":
		return RoleUnknown
	case r.Player1ID == id:
		return RolePlayer1
	case r.Player2ID == id:
		return RolePlayer2
	default:
		return RoleUnknown
	}
}

// ClaimPlayer2 takes the open second seat and activates the room in one merge.
func ClaimPlayer2(id string) (Patch, Precondition) {
	return Patch{
			Player2ID: Ptr(id),
			Status:    Ptr(StatusActive),
		}, Precondition{
			Player2ID: Ptr(""),
		}
}

// SubmitMove writes role's move for round. It only lands while the seat's move
// is still empty in that round, so it can never overwrite a resolved round or
// be erased by a late reset.
func SubmitMove(role Role, m Move, round int) (Patch, Precondition) {
	var p Patch
	c := Precondition{Round: Ptr(round)}
	switch role {
	case RolePlayer1:
		p.Player1Move = Ptr(m)
		c.Player1Move = Ptr(MoveNone)
	case RolePlayer2:
		p.Player2Move = Ptr(m)
		c.Player2Move = Ptr(MoveNone)
	}
	return p, c
}

// ResetRound clears a resolved round and advances the counter, only if the
// record still holds exactly the moves that were resolved.
func ResetRound(resolved Room) (Patch, Precondition) {
	return Patch{
			Player1Move: Ptr(MoveNone),
			Player2Move: Ptr(MoveNone),
			Round:       Ptr(resolved.Round + 1),
		}, Precondition{
			Player1Move: Ptr(resolved.Player1Move),
			Player2Move: Ptr(resolved.Player2Move),
			Round:       Ptr(resolved.Round),
		}
}

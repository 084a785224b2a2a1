package engine

type Phase string

const (
	PhaseWaitingForOpponent Phase = "waiting_for_opponent"
	PhaseResolved           Phase = "resolved"
	PhaseMoveSubmitted      Phase = "move_submitted"
	PhaseOpponentMoved      Phase = "opponent_moved"
	PhaseChoosing           Phase = "choosing"
)

const (
	MsgWaitingForOpponent = "Waiting for an opponent..."
	MsgRoundFinished      = "Round finished! Make your choice for the next round."
	MsgMoveSubmitted      = "Move submitted! Waiting for opponent's choice."
	MsgOpponentMoved      = "Opponent has submitted a choice. Make yours!"
	MsgMakeChoice         = "Make your choice for the next round."
)

// Directive is what a client shows for one snapshot.
type Directive struct {
	Phase          Phase
	Message        string
	ButtonsEnabled bool
	MyMove         Move
	OpponentMove   Move
	Outcome        Outcome
	Round          int
	// NeedsReset is set for player 1 on a resolved round.
	NeedsReset bool
}

// Derive computes the directive for role from a snapshot. Precedence: waiting
// status, resolved round, own move only, opponent move only, neither.
func Derive(r Room, role Role) Directive {
	d := Directive{
		MyMove:       r.MoveOf(role),
		OpponentMove: r.OpponentMoveOf(role),
		Round:        r.Round,
	}

	switch {
	case r.Status == StatusWaiting:
		d.Phase = PhaseWaitingForOpponent
		d.Message = MsgWaitingForOpponent
	case d.MyMove != MoveNone && d.OpponentMove != MoveNone:
		d.Phase = PhaseResolved
		d.Outcome = Resolve(d.MyMove, d.OpponentMove)
		d.Message = MsgRoundFinished
		d.ButtonsEnabled = true
		d.NeedsReset = role == RolePlayer1
	case d.MyMove != MoveNone:
		d.Phase = PhaseMoveSubmitted
		d.Message = MsgMoveSubmitted
	case d.OpponentMove != MoveNone:
		d.Phase = PhaseOpponentMoved
		d.Message = MsgOpponentMoved
		d.ButtonsEnabled = true
	default:
		d.Phase = PhaseChoosing
		d.Message = MsgMakeChoice
		d.ButtonsEnabled = true
	}
	return d
}

func (o Outcome) Text() string {
	switch o {
	case OutcomeTie:
		return "It's a tie!"
	case OutcomeWin:
		return "You win the round!"
	case OutcomeLose:
		return "You lose the round!"
	default:
		return ""
	}
}

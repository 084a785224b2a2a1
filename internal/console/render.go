package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/session"
)

// Render formats one view as terminal lines.
func Render(v session.View) string {
	var b strings.Builder

	if v.Notice != "" {
		mark := "*"
		if v.Err != nil {
			mark = "!"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, v.Notice)
	}
	if v.Phase == "" {
		return b.String()
	}

	fmt.Fprintf(&b, "[Room %s | %s | round %d] %s\n", v.RoomID, v.Role, v.Round+1, v.Message)
	if v.MyMove != engine.MoveNone || v.OpponentMove != engine.MoveNone {
		fmt.Fprintf(&b, "  You: %s   Opponent: %s\n", moveText(v.MyMove), opponentText(v))
	}
	if v.Outcome != engine.OutcomeNone {
		fmt.Fprintf(&b, "  %s\n", v.Outcome.Text())
	}
	if v.ButtonsEnabled {
		fmt.Fprintf(&b, "  %s\n", prompt)
	}
	return b.String()
}

func moveText(m engine.Move) string {
	if m == engine.MoveNone {
		return "-"
	}
	return string(m)
}

// opponentText hides the opponent's move until the round resolves.
func opponentText(v session.View) string {
	switch {
	case v.OpponentMove == engine.MoveNone:
		return "-"
	case v.Phase == engine.PhaseResolved:
		return string(v.OpponentMove)
	}
	return "chosen"
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) print(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, text)
}

// Package console renders a session to a terminal and turns typed lines
// into moves.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/session"
)

// Player is the part of a session the console drives.
type Player interface {
	Views() <-chan session.View
	SubmitMove(ctx context.Context, m engine.Move) error
	Done() <-chan struct{}
	Err() error
}

// ErrQuit ends Run when the user types quit.
var ErrQuit = errors.New("quit")

const prompt = "Choose [r]ock, [p]aper or [s]cissors (q to quit)"

// Run renders views to out and submits moves read from in until the user
// quits, the session ends or ctx is done.
func Run(ctx context.Context, p Player, in io.Reader, out io.Writer, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	w := &syncWriter{w: out}
	g, ctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go scan(ctx, in, lines)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, ok := <-p.Views():
				if !ok {
					if err := p.Err(); err != nil {
						return err
					}
					return session.ErrClosed
				}
				w.print(Render(v))
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-p.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return ErrQuit
				}
				if err := handleLine(ctx, p, line, w, log); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

func handleLine(ctx context.Context, p Player, line string, w *syncWriter, log *zap.Logger) error {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return nil
	case "q", "quit", "exit":
		return ErrQuit
	}

	m, err := engine.ParseMove(line)
	if err != nil {
		w.print(fmt.Sprintf("! %q is not a move. %s\n", line, prompt))
		return nil
	}
	if err := p.SubmitMove(ctx, m); err != nil {
		if errors.Is(err, session.ErrClosed) {
			return nil
		}
		log.Debug("move rejected", zap.String("move", string(m)), zap.Error(err))
		w.print("! " + rejection(err) + "\n")
	}
	return nil
}

func rejection(err error) string {
	switch {
	case errors.Is(err, session.ErrRoomFull):
		return session.NoticeRoomFull
	case errors.Is(err, session.ErrNotActive):
		return engine.MsgWaitingForOpponent
	case errors.Is(err, session.ErrMoveAlreadySubmitted):
		return "You already chose this round."
	case errors.Is(err, session.ErrNoRole):
		return "Still joining the room. Please wait."
	}
	return err.Error()
}

func scan(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

func (s *Session) onSnapshot(snap store.Snapshot) {
	if s.haveLast && snap.Version < s.last.Version {
		// stores only freshen; ignore anything older than what we rendered
		return
	}
	s.last = snap
	s.haveLast = true

	if !snap.Exists {
		s.onAbsent()
		return
	}

	if s.join != joinJoined {
		if !s.assignRole(snap.Room) {
			return
		}
	}
	s.render(snap)
}

func (s *Session) onAbsent() {
	switch {
	case s.join == joinNone && !s.createTried:
		s.createTried = true
		s.join = joinCreating
		s.role = engine.RolePlayer1
		room := engine.NewRoom(s.identity)
		s.log.Info("room absent, creating")
		s.write(opCreate, 0, func(ctx context.Context) error {
			return s.store.Create(ctx, s.key, room)
		})
	case s.join == joinJoined:
		s.emit(s.viewFor(engine.Directive{}, NoticeRoomGone, ErrRoomGone))
	}
}

// assignRole runs until a seat is confirmed. It reports whether snapshot
// processing may continue with a known role.
func (s *Session) assignRole(room engine.Room) bool {
	if seat := room.SeatOf(s.identity); seat != engine.RoleUnknown {
		s.role = seat
		s.join = joinJoined
		s.claimLost = false
		s.log.Info("seated", zap.Stringer("role", seat))
		// shown on the first rendered view so coalescing cannot drop it
		s.joinNotice = fmt.Sprintf("Successfully joined Room %s as %s.", s.key.RoomID, seat)
		return true
	}

	switch s.join {
	case joinCreating, joinClaiming:
		// our write has not been observed yet
		return false
	case joinFailed:
		return false
	case joinFull:
		s.emit(s.viewFor(engine.Directive{}, NoticeRoomFull, ErrRoomFull))
		return false
	}

	if room.Player2ID == "" {
		if s.claimLost {
			// someone else won the seat; wait for the snapshot showing them
			return false
		}
		s.join = joinClaiming
		s.role = engine.RolePlayer2
		patch, cond := engine.ClaimPlayer2(s.identity)
		s.log.Info("claiming player 2")
		s.write(opClaim, 0, func(ctx context.Context) error {
			return s.store.Merge(ctx, s.key, patch, cond)
		})
		return false
	}

	s.join = joinFull
	s.role = engine.RoleUnknown
	s.log.Info("room full", zap.String("player1", room.Player1ID), zap.String("player2", room.Player2ID))
	s.emit(s.viewFor(engine.Directive{}, NoticeRoomFull, ErrRoomFull))
	return false
}

func (s *Session) render(snap store.Snapshot) {
	room := snap.Room
	d := engine.Derive(room, s.role)

	if s.submitting && (room.Round > s.submitRound || (room.Round == s.submitRound && d.MyMove != engine.MoveNone)) {
		// the record already shows our move; its writeDone may still be queued
		s.submitting = false
	}

	if s.pending != engine.MoveNone && room.Status == engine.StatusActive &&
		room.Round > s.pendingRound && d.MyMove == engine.MoveNone {
		m := s.pending
		s.pending = engine.MoveNone
		s.startSubmit(m, room.Round)
		d = optimistic(d, m)
	}

	if d.NeedsReset && !(s.resetInFlight && s.resetRound == room.Round) {
		s.startReset(room)
	}

	v := s.viewFor(d, "", nil)
	v.Version = snap.Version
	if s.pending != engine.MoveNone {
		v.ButtonsEnabled = false
		v.Notice = NoticeMoveQueued
	}
	if s.submitting && d.MyMove == engine.MoveNone {
		// our write is still in flight
		v = s.viewFor(optimistic(d, s.submitted), "", nil)
		v.Version = snap.Version
	}
	if s.joinNotice != "" && v.Notice == "" {
		v.Notice = s.joinNotice
	}
	s.joinNotice = ""
	s.emit(v)
}

func (s *Session) onSubmit(m engine.Move) error {
	if s.join != joinJoined {
		if s.join == joinFull {
			return ErrRoomFull
		}
		return ErrNoRole
	}
	room := s.last.Room
	if room.Status != engine.StatusActive {
		return ErrNotActive
	}
	d := engine.Derive(room, s.role)
	if s.pending != engine.MoveNone {
		if d.NeedsReset && !s.resetInFlight {
			s.startReset(room)
		}
		return ErrMoveAlreadySubmitted
	}
	if s.submitting {
		return ErrMoveAlreadySubmitted
	}

	switch d.Phase {
	case engine.PhaseMoveSubmitted:
		return ErrMoveAlreadySubmitted

	case engine.PhaseResolved:
		// hold until the reset lands so it cannot erase this move
		s.pending = m
		s.pendingRound = room.Round
		if d.NeedsReset && !s.resetInFlight {
			s.startReset(room)
		}
		v := s.viewFor(d, NoticeMoveQueued, nil)
		v.ButtonsEnabled = false
		v.Version = s.last.Version
		s.emit(v)
		return nil
	}

	s.startSubmit(m, room.Round)
	v := s.viewFor(optimistic(d, m), "", nil)
	v.Version = s.last.Version
	s.emit(v)
	return nil
}

func (s *Session) startSubmit(m engine.Move, round int) {
	s.submitting = true
	s.submitted = m
	s.submitRound = round
	patch, cond := engine.SubmitMove(s.role, m, round)
	s.log.Debug("submitting move", zap.String("move", string(m)), zap.Int("round", round))
	s.write(opSubmit, round, func(ctx context.Context) error {
		return s.store.Merge(ctx, s.key, patch, cond)
	})
}

func (s *Session) startReset(resolved engine.Room) {
	s.resetInFlight = true
	s.resetRound = resolved.Round
	patch, cond := engine.ResetRound(resolved)
	s.log.Debug("resetting round", zap.Int("round", resolved.Round))
	s.write(opReset, resolved.Round, func(ctx context.Context) error {
		return s.store.Merge(ctx, s.key, patch, cond)
	})
}

func (s *Session) onWriteDone(w writeDone) {
	switch w.Op {
	case opCreate:
		if w.Err == nil {
			return // the echoed snapshot confirms the seat
		}
		s.role = engine.RoleUnknown
		if errors.Is(w.Err, store.ErrRoomExists) {
			// lost the create race; seat ourselves from the winner's record
			s.join = joinNone
			s.reassign()
			return
		}
		s.join = joinFailed
		s.log.Error("create room failed", zap.Error(w.Err))
		s.emit(s.viewFor(engine.Directive{}, NoticeCreateFailed, fmt.Errorf("%w: %w", ErrCreateFailed, w.Err)))

	case opClaim:
		if w.Err == nil {
			return
		}
		s.role = engine.RoleUnknown
		if errors.Is(w.Err, store.ErrPreconditionFailed) {
			s.join = joinNone
			s.claimLost = true
			s.reassign()
			return
		}
		s.join = joinFailed
		s.log.Error("claim seat failed", zap.Error(w.Err))
		s.emit(s.viewFor(engine.Directive{}, NoticeClaimFailed, fmt.Errorf("%w: %w", ErrClaimFailed, w.Err)))

	case opSubmit:
		if w.Round != s.submitRound {
			return // superseded by a later round's submit
		}
		s.submitting = false
		if w.Err == nil {
			return
		}
		s.log.Warn("submit move failed", zap.Error(w.Err))
		// back to what the record says, so the player can retry
		v := s.viewFor(engine.Derive(s.last.Room, s.role), NoticeSubmitFailed, fmt.Errorf("%w: %w", ErrSubmitFailed, w.Err))
		v.Version = s.last.Version
		s.emit(v)

	case opReset:
		if w.Round != s.resetRound {
			return // a later round's reset is the one that matters
		}
		s.resetInFlight = false
		if w.Err == nil || errors.Is(w.Err, store.ErrPreconditionFailed) {
			return
		}
		s.log.Warn("reset round failed", zap.Int("round", w.Round), zap.Error(w.Err))
		// a held move would wait on this reset forever; hand it back so the
		// next click retries both
		s.pending = engine.MoveNone
		v := s.viewFor(engine.Derive(s.last.Room, s.role), NoticeResetFailed, fmt.Errorf("%w: %w", ErrResetFailed, w.Err))
		v.Version = s.last.Version
		s.emit(v)
	}
}

// reassign re-runs seat selection against the newest snapshot after a lost
// race, since no further snapshot may arrive.
func (s *Session) reassign() {
	if !s.haveLast || !s.last.Exists {
		return
	}
	if s.assignRole(s.last.Room) {
		s.render(s.last)
	}
}

// write runs op off the loop; completion comes back through the inbox.
func (s *Session) write(op writeOp, round int, fn func(ctx context.Context) error) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		err := fn(s.ctx)
		select {
		case s.inbox <- writeDone{Op: op, Round: round, Err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) viewFor(d engine.Directive, notice string, err error) View {
	return View{
		RoomID:    s.key.RoomID,
		Role:      s.confirmedRole(),
		Joined:    s.join == joinJoined,
		Directive: d,
		Notice:    notice,
		Err:       err,
	}
}

// emit keeps only the newest views if the reader falls behind.
func (s *Session) emit(v View) {
	for {
		select {
		case s.views <- v:
			return
		default:
		}
		select {
		case <-s.views:
		default:
		}
	}
}

func optimistic(d engine.Directive, m engine.Move) engine.Directive {
	d.Phase = engine.PhaseMoveSubmitted
	d.Message = engine.MsgMoveSubmitted
	d.ButtonsEnabled = false
	d.Outcome = engine.OutcomeNone
	d.NeedsReset = false
	if m != engine.MoveNone {
		d.MyMove = m
	}
	return d
}

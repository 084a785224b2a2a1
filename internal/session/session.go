// Package session is the client side of a room: it derives this player's
// seat and round state from store snapshots and decides which writes this
// client owes the shared record.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/identity"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

// View is everything a presentation adapter needs to render one state.
type View struct {
	RoomID string
	Role   engine.Role
	Joined bool
	engine.Directive
	Version int64
	// Notice is transient user-facing text, set with Err or on join.
	Notice string
	Err    error
}

type joinState int

const (
	joinNone joinState = iota
	joinCreating
	joinClaiming
	joinJoined
	joinFull
	joinFailed
)

type writeOp string

const (
	opCreate writeOp = "create"
	opClaim  writeOp = "claim"
	opSubmit writeOp = "submit"
	opReset  writeOp = "reset"
)

type msg interface{ isSessionMsg() }

type submitMsg struct {
	Move  engine.Move
	Reply chan error
}

func (submitMsg) isSessionMsg() {}

type writeDone struct {
	Op    writeOp
	Round int
	Err   error
}

func (writeDone) isSessionMsg() {}

type getState struct {
	Reply chan state
}

func (getState) isSessionMsg() {}

// state is a race-free copy of the loop's fields.
type state struct {
	Role          engine.Role
	Join          joinState
	Pending       engine.Move
	ResetInFlight bool
}

type Session struct {
	key      store.Key
	identity string
	store    store.RoomStore
	log      *zap.Logger

	sub    store.Subscription
	inbox  chan msg
	views  chan View
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	writes sync.WaitGroup

	errMu sync.Mutex
	err   error

	// owned by loop
	role          engine.Role
	join          joinState
	createTried   bool
	claimLost     bool
	last          store.Snapshot
	haveLast      bool
	submitting    bool
	submitted     engine.Move
	submitRound   int
	joinNotice    string
	pending       engine.Move
	pendingRound  int
	resetInFlight bool
	resetRound    int
}

// Join starts a session on roomID. It fails fast on input and identity errors
// without touching the store. The session lives until Close or until ctx ends.
func Join(ctx context.Context, rs store.RoomStore, ids identity.Provider, roomID string, opts ...Option) (*Session, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}

	id, err := ids.Identity(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrPending) {
			return nil, fmt.Errorf("%w: %w", ErrIdentityPending, err)
		}
		return nil, fmt.Errorf("identity: %w", err)
	}
	if id == "" {
		return nil, ErrIdentityPending
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	key := store.Key{Namespace: o.namespace, Collection: o.collection, RoomID: roomID}
	sctx, cancel := context.WithCancel(ctx)

	// Subscribe before anything else; the first snapshot decides create vs claim.
	sub, err := rs.Subscribe(sctx, key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	s := &Session{
		key:      key,
		identity: id,
		store:    rs,
		log:      o.log.With(zap.String("room", roomID), zap.String("identity", id)),
		sub:      sub,
		inbox:    make(chan msg, 16),
		views:    make(chan View, o.viewBuffer),
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go s.loop()
	return s, nil
}

// Views delivers render directives, newest last. It is closed when the
// session ends.
func (s *Session) Views() <-chan View { return s.views }

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session stopped, nil after a clean Close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) RoomID() string { return s.key.RoomID }

func (s *Session) Identity() string { return s.identity }

// Role is RoleUnknown until a seat is confirmed.
func (s *Session) Role() engine.Role {
	st, ok := s.state()
	if !ok {
		return engine.RoleUnknown
	}
	return st.Role
}

// Close releases the subscription and waits for the session to stop.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// SubmitMove records this player's move for the current round. Input and
// state errors are returned directly; store failures arrive as a View.
func (s *Session) SubmitMove(ctx context.Context, m engine.Move) error {
	if m == engine.MoveNone {
		return engine.ErrNoMove
	}
	if !m.Valid() {
		return fmt.Errorf("%w: %q", engine.ErrInvalidMove, m)
	}

	reply := make(chan error, 1)
	select {
	case s.inbox <- submitMsg{Move: m, Reply: reply}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) state() (state, bool) {
	reply := make(chan state, 1)
	select {
	case s.inbox <- getState{Reply: reply}:
	case <-s.done:
		return state{}, false
	}
	select {
	case st := <-reply:
		return st, true
	case <-s.done:
		return state{}, false
	}
}

func (s *Session) loop() {
	defer s.teardown()

	snaps := s.sub.Snapshots()
	for {
		select {
		case <-s.ctx.Done():
			return

		case snap, ok := <-snaps:
			if !ok {
				if s.ctx.Err() == nil {
					s.subscriptionEnded()
				}
				return
			}
			s.onSnapshot(snap)

		case m := <-s.inbox:
			switch msg := m.(type) {
			case submitMsg:
				msg.Reply <- s.onSubmit(msg.Move)

			case writeDone:
				s.onWriteDone(msg)

			case getState:
				msg.Reply <- state{
					Role:          s.confirmedRole(),
					Join:          s.join,
					Pending:       s.pending,
					ResetInFlight: s.resetInFlight,
				}
			}
		}
	}
}

func (s *Session) teardown() {
	s.cancel()
	_ = s.sub.Close()
	s.writes.Wait()
	close(s.views)
	close(s.done)
}

func (s *Session) subscriptionEnded() {
	cause := s.sub.Err()
	if cause == nil {
		cause = store.ErrClosed
	}
	err := fmt.Errorf("%w: %w", ErrSubscription, cause)
	s.log.Warn("subscription ended", zap.Error(cause))

	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()

	s.emit(View{RoomID: s.key.RoomID, Role: s.confirmedRole(), Joined: s.join == joinJoined, Notice: NoticeListenFailed, Err: err})
}

// confirmedRole hides a provisional claim.
func (s *Session) confirmedRole() engine.Role {
	if s.join != joinJoined {
		return engine.RoleUnknown
	}
	return s.role
}

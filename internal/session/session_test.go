package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/identity"
	"github.com/DoyleJ11/rps-rooms/internal/store"
	"github.com/DoyleJ11/rps-rooms/internal/store/memstore"
)

const wait = time.Second

var errBoom = errors.New("boom")

// recordingStore counts one client's store calls on top of a shared backend.
// before runs ahead of the backend write and after once it has landed; both
// are set before the session starts.
type recordingStore struct {
	store.RoomStore
	mock.Mock

	before func(ctx context.Context, p engine.Patch, c engine.Precondition) error
	after  func(ctx context.Context, p engine.Patch)
}

func (r *recordingStore) Create(ctx context.Context, key store.Key, room engine.Room) error {
	if err := r.Called(key.RoomID, room).Error(0); err != nil {
		return err
	}
	return r.RoomStore.Create(ctx, key, room)
}

func (r *recordingStore) Merge(ctx context.Context, key store.Key, patch engine.Patch, cond engine.Precondition) error {
	if err := r.Called(key.RoomID, patch, cond).Error(0); err != nil {
		return err
	}
	if r.before != nil {
		if err := r.before(ctx, patch, cond); err != nil {
			return err
		}
	}
	if err := r.RoomStore.Merge(ctx, key, patch, cond); err != nil {
		return err
	}
	if r.after != nil {
		r.after(ctx, patch)
	}
	return nil
}

// hold parks a write until release closes or the session abandons it.
func hold(ctx context.Context, started chan<- struct{}, release <-chan struct{}) error {
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitSignal(t *testing.T, ch <-chan struct{}, desc string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(wait):
		t.Fatalf("timed out waiting for %s", desc)
	}
}

func (r *recordingStore) Subscribe(ctx context.Context, key store.Key) (store.Subscription, error) {
	if err := r.Called(key.RoomID).Error(0); err != nil {
		return nil, err
	}
	return r.RoomStore.Subscribe(ctx, key)
}

// newRecorder registers setup expectations ahead of the pass-through defaults
// so they match first.
func newRecorder(backing store.RoomStore, setup ...func(r *recordingStore)) *recordingStore {
	r := &recordingStore{RoomStore: backing}
	for _, fn := range setup {
		fn(r)
	}
	r.On("Subscribe", mock.Anything).Return(nil)
	r.On("Create", mock.Anything, mock.Anything).Return(nil)
	r.On("Merge", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return r
}

func isReset(p engine.Patch) bool { return p.Round != nil }

func isClaim(p engine.Patch) bool { return p.Player2ID != nil }

func isSubmit(role engine.Role) func(engine.Patch) bool {
	return func(p engine.Patch) bool {
		if p.Round != nil {
			return false
		}
		m := p.Player1Move
		if role == engine.RolePlayer2 {
			m = p.Player2Move
		}
		return m != nil && *m != engine.MoveNone
	}
}

func newMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ms := memstore.New(ctx, nil)
	t.Cleanup(func() { _ = ms.Close() })
	return ms
}

func join(t *testing.T, rs store.RoomStore, id, room string) *Session {
	t.Helper()
	s, err := Join(context.Background(), rs, identity.Static(id), room, WithNamespace("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, s *Session, desc string, pred func(View) bool) View {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case v, ok := <-s.Views():
			if !ok {
				t.Fatalf("views closed while waiting for %s", desc)
			}
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
			return View{} // unreachable
		}
	}
}

func inPhase(p engine.Phase) func(View) bool {
	return func(v View) bool { return v.Joined && v.Err == nil && v.Phase == p }
}

func current(t *testing.T, rs store.RoomStore, room string) store.Snapshot {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := rs.Subscribe(ctx, store.NewKey("test", room))
	require.NoError(t, err)
	defer sub.Close()
	select {
	case snap := <-sub.Snapshots():
		return snap
	case <-time.After(wait):
		t.Fatalf("timed out reading room %s", room)
		return store.Snapshot{}
	}
}

func TestJoin_RejectsEmptyRoomWithoutStoreAccess(t *testing.T) {
	rs := &recordingStore{}
	_, err := Join(context.Background(), rs, identity.Static("A"), "   ")
	require.ErrorIs(t, err, ErrEmptyRoomID)
	rs.AssertNotCalled(t, "Subscribe", mock.Anything)
}

func TestJoin_IdentityPending(t *testing.T) {
	rs := &recordingStore{}
	_, err := Join(context.Background(), rs, identity.Static(""), "R1")
	require.ErrorIs(t, err, ErrIdentityPending)
	rs.AssertNotCalled(t, "Subscribe", mock.Anything)
}

func TestJoin_SubscribeFailure(t *testing.T) {
	rs := &recordingStore{}
	rs.On("Subscribe", mock.Anything).Return(errBoom)
	_, err := Join(context.Background(), rs, identity.Static("A"), "R1")
	require.ErrorIs(t, err, ErrSubscription)
	require.ErrorIs(t, err, errBoom)
}

func TestJoin_AbsentRoomCreatesOnceAsPlayer1(t *testing.T) {
	ms := newMemStore(t)
	a := newRecorder(ms)

	s := join(t, a, "A", " R1 ")
	v := waitFor(t, s, "waiting room", inPhase(engine.PhaseWaitingForOpponent))
	assert.Equal(t, engine.RolePlayer1, v.Role)
	assert.False(t, v.ButtonsEnabled)
	assert.Equal(t, "Successfully joined Room R1 as Player 1.", v.Notice)
	assert.Equal(t, "R1", s.RoomID())
	assert.Equal(t, engine.RolePlayer1, s.Role())

	a.AssertNumberOfCalls(t, "Create", 1)
	a.AssertNumberOfCalls(t, "Merge", 0)

	snap := current(t, ms, "R1")
	require.True(t, snap.Exists)
	assert.Equal(t, engine.Room{Status: engine.StatusWaiting, Player1ID: "A"}, snap.Room)
}

func TestJoin_OpenSeatClaimsPlayer2(t *testing.T) {
	ms := newMemStore(t)
	require.NoError(t, ms.Create(context.Background(), store.NewKey("test", "R1"), engine.NewRoom("A")))
	b := newRecorder(ms)

	s := join(t, b, "B", "R1")
	v := waitFor(t, s, "choosing", inPhase(engine.PhaseChoosing))
	assert.Equal(t, engine.RolePlayer2, v.Role)
	assert.True(t, v.ButtonsEnabled)
	assert.Equal(t, "Successfully joined Room R1 as Player 2.", v.Notice)

	b.AssertNumberOfCalls(t, "Create", 0)
	b.AssertNumberOfCalls(t, "Merge", 1)
	b.AssertCalled(t, "Merge", "R1", mock.MatchedBy(isClaim), mock.Anything)

	snap := current(t, ms, "R1")
	assert.Equal(t, engine.StatusActive, snap.Room.Status)
	assert.Equal(t, "A", snap.Room.Player1ID)
	assert.Equal(t, "B", snap.Room.Player2ID)
}

func TestJoin_FullRoomNeverWrites(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	key := store.NewKey("test", "R1")
	require.NoError(t, ms.Create(ctx, key, engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))
	c := newRecorder(ms)

	s := join(t, c, "C", "R1")
	v := waitFor(t, s, "room full", func(v View) bool { return errors.Is(v.Err, ErrRoomFull) })
	assert.Equal(t, NoticeRoomFull, v.Notice)
	assert.False(t, v.Joined)
	assert.Equal(t, engine.RoleUnknown, v.Role)

	// every later snapshot signals it again, still without writing
	p, cond := engine.SubmitMove(engine.RolePlayer1, engine.MoveRock, 0)
	require.NoError(t, ms.Merge(ctx, key, p, cond))
	waitFor(t, s, "room full again", func(v View) bool { return errors.Is(v.Err, ErrRoomFull) })

	require.ErrorIs(t, s.SubmitMove(ctx, engine.MovePaper), ErrRoomFull)
	c.AssertNumberOfCalls(t, "Create", 0)
	c.AssertNumberOfCalls(t, "Merge", 0)
	assert.Equal(t, engine.RoleUnknown, s.Role())
}

func TestJoin_ReturningIdentityKeepsSeat(t *testing.T) {
	ms := newMemStore(t)
	require.NoError(t, ms.Create(context.Background(), store.NewKey("test", "R1"),
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	for _, tc := range []struct {
		id   string
		want engine.Role
	}{
		{id: "A", want: engine.RolePlayer1},
		{id: "B", want: engine.RolePlayer2},
	} {
		t.Run(tc.id, func(t *testing.T) {
			r := newRecorder(ms)
			s := join(t, r, tc.id, "R1")
			v := waitFor(t, s, "choosing", inPhase(engine.PhaseChoosing))
			assert.Equal(t, tc.want, v.Role)
			r.AssertNumberOfCalls(t, "Create", 0)
			r.AssertNumberOfCalls(t, "Merge", 0)
		})
	}
}

func TestJoin_ConcurrentCreatorsSplitSeats(t *testing.T) {
	ms := newMemStore(t)
	a := newRecorder(ms)
	b := newRecorder(ms)

	sa := join(t, a, "A", "R1")
	sb := join(t, b, "B", "R1")
	va := waitFor(t, sa, "A seated", func(v View) bool { return v.Joined })
	vb := waitFor(t, sb, "B seated", func(v View) bool { return v.Joined })

	assert.ElementsMatch(t, []engine.Role{engine.RolePlayer1, engine.RolePlayer2}, []engine.Role{va.Role, vb.Role})
	// each client writes at most one create and the loser at most one claim
	assert.LessOrEqual(t, countCalls(a, "Create"), 1)
	assert.LessOrEqual(t, countCalls(b, "Create"), 1)
	assert.Equal(t, 1, countCalls(a, "Merge")+countCalls(b, "Merge"))
}

// countCalls is only safe once the session has nothing in flight.
func countCalls(r *recordingStore, method string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func countMerges(r *recordingStore, match func(engine.Patch) bool) int {
	n := 0
	for _, c := range r.Calls {
		if c.Method == "Merge" && match(c.Arguments.Get(1).(engine.Patch)) {
			n++
		}
	}
	return n
}

func TestSubmitMove_InputErrors(t *testing.T) {
	ms := newMemStore(t)
	s := join(t, newRecorder(ms), "A", "R1")
	ctx := context.Background()

	require.ErrorIs(t, s.SubmitMove(ctx, engine.MoveNone), engine.ErrNoMove)
	require.ErrorIs(t, s.SubmitMove(ctx, engine.Move("lizard")), engine.ErrInvalidMove)

	waitFor(t, s, "waiting room", inPhase(engine.PhaseWaitingForOpponent))
	require.ErrorIs(t, s.SubmitMove(ctx, engine.MoveRock), ErrNotActive)
}

func TestSubmitMove_NoRoleYet(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	key := store.NewKey("test", "R1")
	require.NoError(t, ms.Create(ctx, key, engine.NewRoom("A")))

	// the claim never completes, so the seat stays provisional
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	b := newRecorder(ms)
	b.before = func(ctx context.Context, p engine.Patch, _ engine.Precondition) error {
		if isClaim(p) {
			return hold(ctx, started, release)
		}
		return nil
	}

	s := join(t, b, "B", "R1")
	awaitSignal(t, started, "claim")
	require.ErrorIs(t, s.SubmitMove(ctx, engine.MoveRock), ErrNoRole)
	assert.Equal(t, engine.RoleUnknown, s.Role())
}

func TestSession_FullMatch(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	a := newRecorder(ms)
	b := newRecorder(ms)

	sa := join(t, a, "A", "R1")
	waitFor(t, sa, "A waiting", inPhase(engine.PhaseWaitingForOpponent))
	snap := current(t, ms, "R1")
	assert.Equal(t, engine.Room{Status: engine.StatusWaiting, Player1ID: "A"}, snap.Room)

	sb := join(t, b, "B", "R1")
	waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))
	waitFor(t, sa, "A choosing", inPhase(engine.PhaseChoosing))
	snap = current(t, ms, "R1")
	assert.Equal(t, engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}, snap.Room)

	require.NoError(t, sa.SubmitMove(ctx, engine.MoveRock))
	waitFor(t, sb, "B sees A moved", inPhase(engine.PhaseOpponentMoved))
	require.ErrorIs(t, sa.SubmitMove(ctx, engine.MovePaper), ErrMoveAlreadySubmitted)
	require.NoError(t, sb.SubmitMove(ctx, engine.MoveScissors))

	va := waitFor(t, sa, "A resolved", inPhase(engine.PhaseResolved))
	vb := waitFor(t, sb, "B resolved", inPhase(engine.PhaseResolved))
	assert.Equal(t, engine.OutcomeWin, va.Outcome)
	assert.Equal(t, engine.OutcomeLose, vb.Outcome)
	assert.Equal(t, engine.MoveRock, va.MyMove)
	assert.Equal(t, engine.MoveScissors, va.OpponentMove)

	next := waitFor(t, sa, "A next round", func(v View) bool { return inPhase(engine.PhaseChoosing)(v) && v.Round == 1 })
	assert.True(t, next.ButtonsEnabled)
	waitFor(t, sb, "B next round", func(v View) bool { return inPhase(engine.PhaseChoosing)(v) && v.Round == 1 })

	snap = current(t, ms, "R1")
	assert.Equal(t, engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B", Round: 1}, snap.Room)

	// only player 1 resets
	a.AssertCalled(t, "Merge", "R1", mock.MatchedBy(isReset), mock.Anything)
	b.AssertNotCalled(t, "Merge", "R1", mock.MatchedBy(isReset), mock.Anything)
}

func TestSubmitMove_SecondMoveInRoundRejected(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, store.NewKey("test", "R1"),
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	sa := join(t, newRecorder(ms), "A", "R1")
	waitFor(t, sa, "choosing", inPhase(engine.PhaseChoosing))

	require.NoError(t, sa.SubmitMove(ctx, engine.MoveRock))
	require.ErrorIs(t, sa.SubmitMove(ctx, engine.MovePaper), ErrMoveAlreadySubmitted)
	waitFor(t, sa, "submitted", inPhase(engine.PhaseMoveSubmitted))
	require.ErrorIs(t, sa.SubmitMove(ctx, engine.MovePaper), ErrMoveAlreadySubmitted)
}

func TestSubmitMove_HeldUntilResetLands(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, store.NewKey("test", "R1"),
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	release := make(chan struct{})
	releaseReset := sync.OnceFunc(func() { close(release) })
	defer releaseReset()
	a := newRecorder(ms)
	a.before = func(ctx context.Context, p engine.Patch, _ engine.Precondition) error {
		if isReset(p) {
			return hold(ctx, nil, release)
		}
		return nil
	}
	b := newRecorder(ms)

	sa := join(t, a, "A", "R1")
	sb := join(t, b, "B", "R1")
	waitFor(t, sa, "A choosing", inPhase(engine.PhaseChoosing))
	waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))

	require.NoError(t, sa.SubmitMove(ctx, engine.MoveRock))
	waitFor(t, sb, "B sees A moved", inPhase(engine.PhaseOpponentMoved))
	require.NoError(t, sb.SubmitMove(ctx, engine.MoveScissors))
	waitFor(t, sa, "A resolved", inPhase(engine.PhaseResolved))
	waitFor(t, sb, "B resolved", inPhase(engine.PhaseResolved))

	// B is quick; A's reset is stuck in flight
	require.NoError(t, sb.SubmitMove(ctx, engine.MovePaper))
	queued := waitFor(t, sb, "queued", func(v View) bool { return v.Notice == NoticeMoveQueued })
	assert.False(t, queued.ButtonsEnabled)
	st, ok := sb.state()
	require.True(t, ok)
	assert.Equal(t, engine.MovePaper, st.Pending)

	releaseReset()
	waitFor(t, sa, "A sees B moved next round", func(v View) bool {
		return inPhase(engine.PhaseOpponentMoved)(v) && v.Round == 1
	})

	snap := current(t, ms, "R1")
	assert.Equal(t, engine.Room{
		Status: engine.StatusActive, Player1ID: "A", Player2ID: "B",
		Player2Move: engine.MovePaper, Round: 1,
	}, snap.Room)
}

func TestSubmitMove_WriteFailureIsRetryable(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, store.NewKey("test", "R1"),
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	b := newRecorder(ms, func(r *recordingStore) {
		r.On("Merge", mock.Anything, mock.MatchedBy(isSubmit(engine.RolePlayer2)), mock.Anything).Return(errBoom).Once()
	})
	sa := join(t, newRecorder(ms), "A", "R1")
	sb := join(t, b, "B", "R1")
	waitFor(t, sa, "A choosing", inPhase(engine.PhaseChoosing))
	waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))

	require.NoError(t, sb.SubmitMove(ctx, engine.MoveRock))
	failed := waitFor(t, sb, "submit failure", func(v View) bool { return v.Err != nil })
	require.ErrorIs(t, failed.Err, ErrSubmitFailed)
	require.ErrorIs(t, failed.Err, errBoom)
	assert.Equal(t, NoticeSubmitFailed, failed.Notice)
	assert.True(t, failed.ButtonsEnabled)
	assert.Equal(t, engine.PhaseChoosing, failed.Phase)

	require.NoError(t, sb.SubmitMove(ctx, engine.MoveRock))
	waitFor(t, sa, "A sees B moved", inPhase(engine.PhaseOpponentMoved))
}

func TestSession_CreateFailureReported(t *testing.T) {
	ms := newMemStore(t)
	a := newRecorder(ms, func(r *recordingStore) {
		r.On("Create", mock.Anything, mock.Anything).Return(errBoom).Once()
	})

	s := join(t, a, "A", "R1")
	v := waitFor(t, s, "create failure", func(v View) bool { return v.Err != nil })
	require.ErrorIs(t, v.Err, ErrCreateFailed)
	assert.Equal(t, NoticeCreateFailed, v.Notice)
	assert.False(t, v.Joined)
	a.AssertNumberOfCalls(t, "Create", 1)
}

func TestSession_SubscriptionLossEndsSession(t *testing.T) {
	ms := memstore.New(context.Background(), nil)
	s := join(t, newRecorder(ms), "A", "R1")
	waitFor(t, s, "waiting room", inPhase(engine.PhaseWaitingForOpponent))

	require.NoError(t, ms.Close())
	v := waitFor(t, s, "subscription error", func(v View) bool { return v.Err != nil })
	require.ErrorIs(t, v.Err, ErrSubscription)
	assert.Equal(t, NoticeListenFailed, v.Notice)

	select {
	case <-s.Done():
	case <-time.After(wait):
		t.Fatalf("session did not stop")
	}
	require.ErrorIs(t, s.Err(), ErrSubscription)
	require.ErrorIs(t, s.SubmitMove(context.Background(), engine.MoveRock), ErrClosed)
}

func TestSession_CloseReleasesSubscription(t *testing.T) {
	ms := newMemStore(t)
	s := join(t, newRecorder(ms), "A", "R1")
	waitFor(t, s, "waiting room", inPhase(engine.PhaseWaitingForOpponent))

	require.NoError(t, s.Close())
	require.NoError(t, s.Err())
	_, open := <-s.Views()
	for open {
		_, open = <-s.Views()
	}
	assert.Equal(t, engine.RoleUnknown, s.Role())
}

func TestJoin_LostClaimSeesRoomFull(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, store.NewKey("test", "R1"), engine.NewRoom("A")))

	// C claims first but its write lands after B has taken the seat
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	releaseClaim := sync.OnceFunc(func() { close(release) })
	defer releaseClaim()
	c := newRecorder(ms)
	c.before = func(ctx context.Context, p engine.Patch, _ engine.Precondition) error {
		if isClaim(p) {
			return hold(ctx, started, release)
		}
		return nil
	}

	sc := join(t, c, "C", "R1")
	awaitSignal(t, started, "C's claim")

	sb := join(t, newRecorder(ms), "B", "R1")
	vb := waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))
	assert.Equal(t, engine.RolePlayer2, vb.Role)

	releaseClaim()
	vc := waitFor(t, sc, "C room full", func(v View) bool { return errors.Is(v.Err, ErrRoomFull) })
	assert.Equal(t, NoticeRoomFull, vc.Notice)
	assert.False(t, vc.Joined)
	assert.Equal(t, engine.RoleUnknown, sc.Role())
	require.ErrorIs(t, sc.SubmitMove(ctx, engine.MoveRock), ErrRoomFull)
	assert.Equal(t, 1, countCalls(c, "Merge"))
	c.AssertNumberOfCalls(t, "Create", 0)

	assert.Equal(t, "B", current(t, ms, "R1").Room.Player2ID)
}

func TestSubmitMove_NextRoundAfterEchoBeforeWriteDone(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, store.NewKey("test", "R1"),
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	// B's move lands in the record, but B's write is slow to report back
	release := make(chan struct{})
	releaseDone := sync.OnceFunc(func() { close(release) })
	defer releaseDone()
	b := newRecorder(ms)
	b.after = func(ctx context.Context, p engine.Patch) {
		if isSubmit(engine.RolePlayer2)(p) {
			_ = hold(ctx, nil, release)
		}
	}

	sa := join(t, newRecorder(ms), "A", "R1")
	sb := join(t, b, "B", "R1")
	waitFor(t, sa, "A choosing", inPhase(engine.PhaseChoosing))
	waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))

	require.NoError(t, sa.SubmitMove(ctx, engine.MoveRock))
	waitFor(t, sb, "B sees A moved", inPhase(engine.PhaseOpponentMoved))
	require.NoError(t, sb.SubmitMove(ctx, engine.MoveScissors))
	resolved := waitFor(t, sb, "B resolved", inPhase(engine.PhaseResolved))
	require.True(t, resolved.ButtonsEnabled)

	// an enabled button must take the click
	require.NoError(t, sb.SubmitMove(ctx, engine.MovePaper))

	releaseDone()
	waitFor(t, sa, "A sees B moved next round", func(v View) bool {
		return inPhase(engine.PhaseOpponentMoved)(v) && v.Round == 1
	})
	snap := current(t, ms, "R1")
	assert.Equal(t, engine.MovePaper, snap.Room.Player2Move)
	assert.Equal(t, 1, snap.Room.Round)
}

func TestReset_FailureHandsBackHeldMove(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, store.NewKey("test", "R1"),
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	// the first reset stalls, then fails; later ones go through
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	releaseReset := sync.OnceFunc(func() { close(release) })
	defer releaseReset()
	var resets atomic.Int32
	a := newRecorder(ms)
	a.before = func(ctx context.Context, p engine.Patch, _ engine.Precondition) error {
		if !isReset(p) || resets.Add(1) > 1 {
			return nil
		}
		if err := hold(ctx, started, release); err != nil {
			return err
		}
		return errBoom
	}

	sa := join(t, a, "A", "R1")
	sb := join(t, newRecorder(ms), "B", "R1")
	waitFor(t, sa, "A choosing", inPhase(engine.PhaseChoosing))
	waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))

	require.NoError(t, sa.SubmitMove(ctx, engine.MoveRock))
	waitFor(t, sb, "B sees A moved", inPhase(engine.PhaseOpponentMoved))
	require.NoError(t, sb.SubmitMove(ctx, engine.MoveScissors))
	awaitSignal(t, started, "A's reset")

	// both players queue next-round moves behind the stalled reset
	require.NoError(t, sa.SubmitMove(ctx, engine.MovePaper))
	waitFor(t, sb, "B resolved", inPhase(engine.PhaseResolved))
	require.NoError(t, sb.SubmitMove(ctx, engine.MoveScissors))

	releaseReset()
	failed := waitFor(t, sa, "reset failure", func(v View) bool { return v.Err != nil })
	require.ErrorIs(t, failed.Err, ErrResetFailed)
	require.ErrorIs(t, failed.Err, errBoom)
	assert.Equal(t, NoticeResetFailed, failed.Notice)
	assert.Equal(t, engine.PhaseResolved, failed.Phase)
	assert.True(t, failed.ButtonsEnabled)
	st, ok := sa.state()
	require.True(t, ok)
	assert.Equal(t, engine.MoveNone, st.Pending)
	assert.False(t, st.ResetInFlight)

	// the retry click restarts the reset and both held moves land in round 1
	require.NoError(t, sa.SubmitMove(ctx, engine.MovePaper))
	v := waitFor(t, sa, "round 1 resolved", func(v View) bool {
		return inPhase(engine.PhaseResolved)(v) && v.Round == 1
	})
	assert.Equal(t, engine.MovePaper, v.MyMove)
	assert.Equal(t, engine.MoveScissors, v.OpponentMove)
	assert.Equal(t, engine.OutcomeLose, v.Outcome)
}

func TestReset_DuplicateLosesSilently(t *testing.T) {
	ms := newMemStore(t)
	ctx := context.Background()
	key := store.NewKey("test", "R1")
	require.NoError(t, ms.Create(ctx, key,
		engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}))

	// an identical reset lands just ahead of A's, so A's fails its precondition
	var resets atomic.Int32
	a := newRecorder(ms)
	a.before = func(ctx context.Context, p engine.Patch, c engine.Precondition) error {
		if isReset(p) && resets.Add(1) == 1 {
			return ms.Merge(ctx, key, p, c)
		}
		return nil
	}

	sa := join(t, a, "A", "R1")
	sb := join(t, newRecorder(ms), "B", "R1")
	waitFor(t, sa, "A choosing", inPhase(engine.PhaseChoosing))
	waitFor(t, sb, "B choosing", inPhase(engine.PhaseChoosing))

	require.NoError(t, sa.SubmitMove(ctx, engine.MoveRock))
	waitFor(t, sb, "B sees A moved", inPhase(engine.PhaseOpponentMoved))
	require.NoError(t, sb.SubmitMove(ctx, engine.MoveRock))

	waitFor(t, sa, "A next round", func(v View) bool {
		require.NoError(t, v.Err)
		return inPhase(engine.PhaseChoosing)(v) && v.Round == 1
	})
	waitFor(t, sb, "B next round", func(v View) bool { return inPhase(engine.PhaseChoosing)(v) && v.Round == 1 })

	snap := current(t, ms, "R1")
	assert.Equal(t, 1, snap.Room.Round)
	assert.Equal(t, engine.MoveNone, snap.Room.Player1Move)
	assert.Equal(t, engine.MoveNone, snap.Room.Player2Move)
	assert.Equal(t, int32(1), resets.Load())
	assert.Equal(t, 1, countMerges(a, isReset))
}

// scriptedStore hands the session whatever snapshots the test pushes.
type scriptedStore struct {
	snaps chan store.Snapshot
}

func (f *scriptedStore) Create(context.Context, store.Key, engine.Room) error { return nil }

func (f *scriptedStore) Merge(context.Context, store.Key, engine.Patch, engine.Precondition) error {
	return nil
}

func (f *scriptedStore) Subscribe(context.Context, store.Key) (store.Subscription, error) {
	return scriptedSub{ch: f.snaps}, nil
}

type scriptedSub struct{ ch chan store.Snapshot }

func (s scriptedSub) Snapshots() <-chan store.Snapshot { return s.ch }
func (s scriptedSub) Err() error                       { return nil }
func (s scriptedSub) Close() error                     { return nil }

func TestSession_RoomVanishesAfterJoin(t *testing.T) {
	fs := &scriptedStore{snaps: make(chan store.Snapshot, 4)}
	r := newRecorder(fs)
	s := join(t, r, "A", "R1")

	fs.snaps <- store.Snapshot{Version: 1, Exists: true, Room: engine.NewRoom("A")}
	waitFor(t, s, "waiting room", inPhase(engine.PhaseWaitingForOpponent))

	fs.snaps <- store.Snapshot{Version: 2}
	v := waitFor(t, s, "room gone", func(v View) bool { return v.Err != nil })
	require.ErrorIs(t, v.Err, ErrRoomGone)
	assert.Equal(t, NoticeRoomGone, v.Notice)
	assert.True(t, v.Joined)

	// a vanished room is never recreated by a seated player
	r.AssertNumberOfCalls(t, "Create", 0)
	r.AssertNumberOfCalls(t, "Merge", 0)
	select {
	case <-s.Done():
		t.Fatalf("session stopped after room vanished")
	default:
	}
}

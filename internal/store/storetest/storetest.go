// Package storetest is a behavioural suite every RoomStore backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

// Wait bounds every receive; external backends need more slack than memory.
var Wait = 2 * time.Second

// Run exercises rs. Each test uses a fresh room id, so a shared database
// is fine.
func Run(t *testing.T, rs store.RoomStore) {
	t.Run("SubscribeAbsentThenCreate", func(t *testing.T) { testSubscribeAbsentThenCreate(t, rs) })
	t.Run("CreateTwice", func(t *testing.T) { testCreateTwice(t, rs) })
	t.Run("MergeMissing", func(t *testing.T) { testMergeMissing(t, rs) })
	t.Run("SeatRace", func(t *testing.T) { testSeatRace(t, rs) })
	t.Run("DisjointMerges", func(t *testing.T) { testDisjointMerges(t, rs) })
	t.Run("ResetIsCompareAndSwap", func(t *testing.T) { testResetCAS(t, rs) })
	t.Run("VersionsIncrease", func(t *testing.T) { testVersionsIncrease(t, rs) })
	t.Run("CloseSubscription", func(t *testing.T) { testCloseSubscription(t, rs) })
}

func freshKey() store.Key {
	return store.NewKey("storetest", uuid.NewString())
}

// Recv returns the next snapshot or fails the test.
func Recv(t *testing.T, sub store.Subscription) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatalf("subscription closed unexpectedly: %v", sub.Err())
		}
		return snap
	case <-time.After(Wait):
		t.Fatalf("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}

// RecvUntil reads snapshots until ok reports true.
func RecvUntil(t *testing.T, sub store.Subscription, ok func(store.Snapshot) bool) store.Snapshot {
	t.Helper()
	for {
		snap := Recv(t, sub)
		if ok(snap) {
			return snap
		}
	}
}

// Current reads the record through a throwaway subscription.
func Current(t *testing.T, rs store.RoomStore, key store.Key) store.Snapshot {
	t.Helper()
	sub, err := rs.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	return Recv(t, sub)
}

func activeRoom() engine.Room {
	return engine.Room{Status: engine.StatusActive, Player1ID: "A", Player2ID: "B"}
}

func testSubscribeAbsentThenCreate(t *testing.T, rs store.RoomStore) {
	ctx := context.Background()
	key := freshKey()

	sub, err := rs.Subscribe(ctx, key)
	require.NoError(t, err)
	defer sub.Close()

	first := Recv(t, sub)
	require.False(t, first.Exists)

	require.NoError(t, rs.Create(ctx, key, engine.NewRoom("A")))
	next := RecvUntil(t, sub, func(s store.Snapshot) bool { return s.Exists })
	require.Greater(t, next.Version, first.Version)
	require.Equal(t, engine.NewRoom("A"), next.Room)
}

func testCreateTwice(t *testing.T, rs store.RoomStore) {
	ctx := context.Background()
	key := freshKey()
	require.NoError(t, rs.Create(ctx, key, engine.NewRoom("A")))
	require.ErrorIs(t, rs.Create(ctx, key, engine.NewRoom("B")), store.ErrRoomExists)
	require.Equal(t, "A", Current(t, rs, key).Room.Player1ID)
}

func testMergeMissing(t *testing.T, rs store.RoomStore) {
	patch, cond := engine.ClaimPlayer2("B")
	require.ErrorIs(t, rs.Merge(context.Background(), freshKey(), patch, cond), store.ErrRoomNotFound)
}

func testSeatRace(t *testing.T, rs store.RoomStore) {
	ctx := context.Background()
	key := freshKey()
	require.NoError(t, rs.Create(ctx, key, engine.NewRoom("A")))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"B", "C"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			patch, cond := engine.ClaimPlayer2(id)
			errs[i] = rs.Merge(ctx, key, patch, cond)
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, store.ErrPreconditionFailed)
	}
	require.Equal(t, 1, won)

	room := Current(t, rs, key).Room
	require.Contains(t, []string{"B", "C"}, room.Player2ID)
	require.Equal(t, engine.StatusActive, room.Status)
	require.Equal(t, "A", room.Player1ID)
}

func testDisjointMerges(t *testing.T, rs store.RoomStore) {
	ctx := context.Background()
	key := freshKey()
	require.NoError(t, rs.Create(ctx, key, activeRoom()))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	moves := map[engine.Role]engine.Move{engine.RolePlayer1: engine.MoveRock, engine.RolePlayer2: engine.MoveScissors}
	i := 0
	for role, m := range moves {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch, cond := engine.SubmitMove(role, m, 0)
			errs[i] = rs.Merge(ctx, key, patch, cond)
		}(i)
		i++
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	room := Current(t, rs, key).Room
	require.Equal(t, engine.MoveRock, room.Player1Move)
	require.Equal(t, engine.MoveScissors, room.Player2Move)
}

func testResetCAS(t *testing.T, rs store.RoomStore) {
	ctx := context.Background()
	key := freshKey()
	resolved := activeRoom()
	resolved.Player1Move = engine.MoveRock
	resolved.Player2Move = engine.MovePaper
	require.NoError(t, rs.Create(ctx, key, resolved))

	patch, cond := engine.ResetRound(resolved)
	require.NoError(t, rs.Merge(ctx, key, patch, cond))
	// the same reset a second time must not land on the next round
	require.ErrorIs(t, rs.Merge(ctx, key, patch, cond), store.ErrPreconditionFailed)

	room := Current(t, rs, key).Room
	require.Equal(t, 1, room.Round)
	require.Equal(t, engine.MoveNone, room.Player1Move)
	require.Equal(t, engine.MoveNone, room.Player2Move)
	require.Equal(t, engine.StatusActive, room.Status)
}

func testVersionsIncrease(t *testing.T, rs store.RoomStore) {
	ctx := context.Background()
	key := freshKey()

	sub, err := rs.Subscribe(ctx, key)
	require.NoError(t, err)
	defer sub.Close()
	last := Recv(t, sub).Version

	require.NoError(t, rs.Create(ctx, key, engine.NewRoom("A")))
	patch, cond := engine.ClaimPlayer2("B")
	require.NoError(t, rs.Merge(ctx, key, patch, cond))

	for {
		snap := Recv(t, sub)
		require.Greater(t, snap.Version, last)
		last = snap.Version
		if snap.Exists && snap.Room.Player2ID == "B" {
			return
		}
	}
}

func testCloseSubscription(t *testing.T, rs store.RoomStore) {
	sub, err := rs.Subscribe(context.Background(), freshKey())
	require.NoError(t, err)
	_ = Recv(t, sub)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	deadline := time.After(Wait)
	for {
		select {
		case _, ok := <-sub.Snapshots():
			if !ok {
				require.NoError(t, sub.Err())
				return
			}
		case <-deadline:
			t.Fatalf("snapshots not closed after Close")
		}
	}
}

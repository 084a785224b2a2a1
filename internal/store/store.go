// Package store defines the shared room document store both clients sync
// through. Backends live in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
)

var (
	ErrRoomExists         = errors.New("room already exists")
	ErrRoomNotFound       = errors.New("room not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrClosed             = errors.New("store closed")
	ErrUnexpected         = errors.New("unexpected store error")
)

const DefaultCollection = "rps_rooms"

// Key addresses one room: namespace, collection, room id.
type Key struct {
	Namespace  string
	Collection string
	RoomID     string
}

func NewKey(namespace, roomID string) Key {
	return Key{Namespace: namespace, Collection: DefaultCollection, RoomID: roomID}
}

func (k Key) Path() string {
	collection := k.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return fmt.Sprintf("artifacts/%s/public/data/%s/%s", k.Namespace, collection, k.RoomID)
}

func (k Key) String() string { return k.Path() }

// Snapshot is the full document as of Version. Exists is false when no
// record has been created yet.
type Snapshot struct {
	Version int64
	Exists  bool
	Room    engine.Room
}

// Subscription delivers the current snapshot immediately and then one per
// change. Intermediate writes may be coalesced. Snapshots is closed when the
// subscription ends; Err reports why.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Err() error
	Close() error
}

type RoomStore interface {
	// Create writes room only if no record exists at key.
	Create(ctx context.Context, key Key, room engine.Room) error
	// Merge writes the named fields of patch if cond holds.
	Merge(ctx context.Context, key Key, patch engine.Patch, cond engine.Precondition) error
	Subscribe(ctx context.Context, key Key) (Subscription, error)
}

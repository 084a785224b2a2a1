package memstore

import (
	"context"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

type docMsg interface{ isDocMsg() }

type createDoc struct {
	Room  engine.Room
	Reply chan error
}

func (createDoc) isDocMsg() {}

type mergeDoc struct {
	Patch engine.Patch
	Cond  engine.Precondition
	Reply chan error
}

func (mergeDoc) isDocMsg() {}

type join struct {
	SubID  string
	Outbox chan store.Snapshot // where this subscriber receives snapshots
}

func (join) isDocMsg() {}

type leave struct{ SubID string }

func (leave) isDocMsg() {}

type shutdown struct{}

func (shutdown) isDocMsg() {}

type getState struct {
	Reply chan view
}

func (getState) isDocMsg() {}

type view struct {
	Snapshot       store.Snapshot
	NumSubscribers int
}

// document owns one room record. All reads and writes go through its inbox.
type document struct {
	inbox   chan docMsg
	exists  bool
	room    engine.Room
	version int64
	subs    map[string]chan store.Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
}

func newDocument(parent context.Context) *document {
	ctx, cancel := context.WithCancel(parent)

	d := &document{
		inbox:  make(chan docMsg, 64),
		subs:   make(map[string]chan store.Snapshot),
		ctx:    ctx,
		cancel: cancel,
	}

	go d.loop()
	return d
}

func (d *document) loop() {
	for {
		select {
		case <-d.ctx.Done():
			d.shutdown()
			return

		case m := <-d.inbox:
			switch msg := m.(type) {
			case join:
				// Register and send the current snapshot immediately
				d.subs[msg.SubID] = msg.Outbox
				push(msg.Outbox, d.snapshot())

			case leave:
				if ch, ok := d.subs[msg.SubID]; ok {
					close(ch)
					delete(d.subs, msg.SubID)
				}

			case createDoc:
				if d.exists {
					msg.Reply <- store.ErrRoomExists
					break
				}
				d.exists = true
				d.room = msg.Room
				d.version++
				msg.Reply <- nil
				d.broadcast(d.snapshot())

			case mergeDoc:
				if !d.exists {
					msg.Reply <- store.ErrRoomNotFound
					break
				}
				if !msg.Cond.Holds(d.room) {
					msg.Reply <- store.ErrPreconditionFailed
					break
				}
				d.room = engine.Apply(d.room, msg.Patch)
				d.version++
				msg.Reply <- nil
				d.broadcast(d.snapshot())

			case getState:
				// test-only: reflect internal state without data races
				msg.Reply <- view{Snapshot: d.snapshot(), NumSubscribers: len(d.subs)}

			case shutdown:
				d.shutdown()
				return
			}
		}
	}
}

func (d *document) snapshot() store.Snapshot {
	return store.Snapshot{Version: d.version, Exists: d.exists, Room: d.room}
}

func (d *document) shutdown() {
	// cancel first so a subscriber that sees its outbox closed also sees Done
	d.cancel()
	for id, ch := range d.subs {
		close(ch) // no more snapshots
		delete(d.subs, id)
	}
}

func (d *document) broadcast(snap store.Snapshot) {
	for _, ch := range d.subs {
		push(ch, snap)
	}
}

// push never blocks the document. A full outbox loses its oldest snapshot,
// so a slow subscriber sees coalesced but never stale state.
func push(ch chan store.Snapshot, snap store.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// send delivers m unless the document has shut down.
func (d *document) send(ctx context.Context, m docMsg) error {
	select {
	case d.inbox <- m:
		return nil
	case <-d.ctx.Done():
		return store.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

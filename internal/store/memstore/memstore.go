// Package memstore is an in-process RoomStore. Each room document is an actor
// goroutine; a registry actor maps paths to documents.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

var errClosed = store.ErrClosed

// outboxSize bounds how many undelivered snapshots a subscriber may hold
// before older ones are coalesced away.
const outboxSize = 8

type Store struct {
	reg *registry
	log *zap.Logger
}

var _ store.RoomStore = (*Store)(nil)

func New(ctx context.Context, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{reg: newRegistry(ctx), log: log}
}

func (s *Store) Create(ctx context.Context, key store.Key, room engine.Room) error {
	d, err := s.reg.ensure(ctx, key.Path())
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := d.send(ctx, createDoc{Room: room, Reply: reply}); err != nil {
		return err
	}
	if err := await(ctx, d, reply); err != nil {
		return err
	}
	s.log.Debug("room created", zap.String("path", key.Path()), zap.String("player1", room.Player1ID))
	return nil
}

func (s *Store) Merge(ctx context.Context, key store.Key, patch engine.Patch, cond engine.Precondition) error {
	d, err := s.reg.ensure(ctx, key.Path())
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := d.send(ctx, mergeDoc{Patch: patch, Cond: cond, Reply: reply}); err != nil {
		return err
	}
	return await(ctx, d, reply)
}

func (s *Store) Subscribe(ctx context.Context, key store.Key) (store.Subscription, error) {
	d, err := s.reg.ensure(ctx, key.Path())
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:     uuid.NewString(),
		doc:    d,
		outbox: make(chan store.Snapshot, outboxSize),
		done:   make(chan struct{}),
	}
	if err := d.send(ctx, join{SubID: sub.id, Outbox: sub.outbox}); err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-d.ctx.Done():
			sub.fail(errClosed)
		case <-sub.done:
		}
	}()

	s.log.Debug("subscribed", zap.String("path", key.Path()), zap.String("sub", sub.id))
	return sub, nil
}

func (s *Store) Close() error {
	select {
	case s.reg.inbox <- shutdownRegistry{}:
	case <-s.reg.ctx.Done():
	}
	return nil
}

func await(ctx context.Context, d *document, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-d.ctx.Done():
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscription struct {
	id     string
	doc    *document
	outbox chan store.Snapshot

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Snapshots() <-chan store.Snapshot { return s.outbox }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.closed {
		return s.err
	}
	if s.doc.ctx.Err() != nil {
		return errClosed
	}
	return nil
}

func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() {
		close(s.done)
		// the document closes the outbox on leave or on its own shutdown
		_ = s.doc.send(context.Background(), leave{SubID: s.id})
	})
	return nil
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

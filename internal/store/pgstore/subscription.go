package pgstore

import (
	"context"
	"sync"

	"github.com/DoyleJ11/rps-rooms/internal/store"
)

const outboxSize = 8

type subscription struct {
	cancel context.CancelFunc
	outbox chan store.Snapshot
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Snapshots() <-chan store.Snapshot { return s.outbox }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

// push drops the oldest queued snapshot when the reader falls behind.
func (s *subscription) push(snap store.Snapshot) {
	for {
		select {
		case s.outbox <- snap:
			return
		default:
		}
		select {
		case <-s.outbox:
		default:
		}
	}
}

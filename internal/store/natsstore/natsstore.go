// Package natsstore keeps rooms in a JetStream key-value bucket. Bucket
// revisions are the snapshot versions; updates are compare-and-set on them.
package natsstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

const (
	DefaultBucket = "rps_rooms"

	outboxSize  = 8
	maxAttempts = 16
)

type Store struct {
	nc  *nats.Conn
	kv  nats.KeyValue
	log *zap.Logger
}

var _ store.RoomStore = (*Store)(nil)

// Connect dials url and opens bucket, creating it if missing.
func Connect(url, bucket string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "rock paper scissors rooms",
			History:     1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}

	log.Info("nats store ready", zap.String("bucket", bucket))
	return &Store{nc: nc, kv: kv, log: log}, nil
}

func (s *Store) Close() error {
	s.nc.Close()
	return nil
}

// kvKey encodes each path part so any room id is a legal key.
func kvKey(key store.Key) string {
	collection := key.Collection
	if collection == "" {
		collection = store.DefaultCollection
	}
	parts := []string{key.Namespace, collection, key.RoomID}
	for i, p := range parts {
		if p == "" {
			parts[i] = "_"
			continue
		}
		parts[i] = base64.RawURLEncoding.EncodeToString([]byte(p))
	}
	return "rooms." + strings.Join(parts, ".")
}

func (s *Store) Create(ctx context.Context, key store.Key, room engine.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if _, err := s.kv.Create(kvKey(key), data); err != nil {
		if errors.Is(err, nats.ErrKeyExists) || wrongSequence(err) {
			return store.ErrRoomExists
		}
		return fmt.Errorf("%w: %w", store.ErrUnexpected, err)
	}
	s.log.Debug("room created", zap.String("path", key.Path()))
	return nil
}

// Merge reads, checks cond and writes against the read revision, retrying
// when another writer got in between.
func (s *Store) Merge(ctx context.Context, key store.Key, patch engine.Patch, cond engine.Precondition) error {
	k := kvKey(key)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := s.kv.Get(k)
		if errors.Is(err, nats.ErrKeyNotFound) {
			return store.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnexpected, err)
		}
		var current engine.Room
		if err := json.Unmarshal(entry.Value(), &current); err != nil {
			return fmt.Errorf("%w: decode room: %w", store.ErrUnexpected, err)
		}
		if !cond.Holds(current) {
			return store.ErrPreconditionFailed
		}

		data, err := json.Marshal(engine.Apply(current, patch))
		if err != nil {
			return err
		}
		_, err = s.kv.Update(k, data, entry.Revision())
		if err == nil {
			return nil
		}
		if !wrongSequence(err) {
			return fmt.Errorf("%w: %w", store.ErrUnexpected, err)
		}
		s.log.Debug("merge lost revision race, retrying", zap.String("path", key.Path()), zap.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: too much contention on %s", store.ErrUnexpected, key.Path())
}

func wrongSequence(err error) bool {
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

func (s *Store) Subscribe(ctx context.Context, key store.Key) (store.Subscription, error) {
	w, err := s.kv.Watch(kvKey(key), nats.Context(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: watch: %w", store.ErrUnexpected, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		cancel: cancel,
		outbox: make(chan store.Snapshot, outboxSize),
		done:   make(chan struct{}),
	}
	go sub.run(sctx, w, s.log.With(zap.String("path", key.Path())))
	return sub, nil
}

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

func (s *subscription) run(ctx context.Context, w nats.KeyWatcher, log *zap.Logger) {
	defer close(s.done)
	defer close(s.outbox)
	defer func() { _ = w.Stop() }()

	seen := false
	var last int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.Updates():
			if !ok {
				if ctx.Err() == nil {
					s.setErr(store.ErrClosed)
				}
				return
			}
			if entry == nil {
				// end of initial values
				if !seen {
					seen = true
					last = 0
					s.push(store.Snapshot{})
				}
				continue
			}
			seen = true

			snap := store.Snapshot{Version: int64(entry.Revision())}
			if snap.Version <= last {
				continue
			}
			if entry.Operation() == nats.KeyValuePut {
				if err := json.Unmarshal(entry.Value(), &snap.Room); err != nil {
					log.Warn("bad room record", zap.Error(err))
					continue
				}
				snap.Exists = true
			}
			last = snap.Version
			s.push(snap)
		}
	}
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

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

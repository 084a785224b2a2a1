// Package pgstore keeps rooms in Postgres. Writes go through gorm; change
// feeds use LISTEN/NOTIFY on a dedicated pgx connection per subscription.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

// Channel carries the path of every changed room.
const Channel = "rps_rooms_changed"

type Store struct {
	db   *gorm.DB
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ store.RoomStore = (*Store)(nil)

// New connects to dsn and migrates the rooms table.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&roomRow{}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		closeDB(db)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("postgres store ready")
	return &Store{db: db, pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	closeDB(s.db)
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *Store) Create(ctx context.Context, key store.Key, room engine.Room) error {
	row := newRow(key, room)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return notify(tx, row.Path)
	})
	if err != nil {
		return mapError(err)
	}
	s.log.Debug("room created", zap.String("path", row.Path))
	return nil
}

// Merge locks the row, checks cond against it and writes the patched fields.
func (s *Store) Merge(ctx context.Context, key store.Key, patch engine.Patch, cond engine.Precondition) error {
	path := key.Path()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row roomRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("path = ?", path).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		current := row.room()
		if !cond.Holds(current) {
			return store.ErrPreconditionFailed
		}
		row.set(engine.Apply(current, patch))

		res := tx.Model(&roomRow{}).Where("path = ?", path).Updates(map[string]any{
			"status":       row.Status,
			"player1_id":   row.Player1ID,
			"player2_id":   row.Player2ID,
			"player1_move": row.Player1Move,
			"player2_move": row.Player2Move,
			"round":        row.Round,
			"version":      gorm.Expr("version + 1"),
		})
		if res.Error != nil {
			return res.Error
		}
		return notify(tx, path)
	})
	return mapError(err)
}

func notify(tx *gorm.DB, path string) error {
	return tx.Exec("SELECT pg_notify(?, ?)", Channel, path).Error
}

func (s *Store) load(ctx context.Context, path string) (store.Snapshot, error) {
	var row roomRow
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Snapshot{}, nil
	}
	if err != nil {
		return store.Snapshot{}, mapError(err)
	}
	return row.snapshot(), nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrRoomNotFound) || errors.Is(err, store.ErrPreconditionFailed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// unique_violation on the path key
		return store.ErrRoomExists
	}
	return fmt.Errorf("%w: %w", store.ErrUnexpected, err)
}

// Subscribe holds one pooled connection in LISTEN for the life of the
// subscription and reloads the row on each matching notification.
func (s *Store) Subscribe(ctx context.Context, key store.Key) (store.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, mapError(err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		cancel: cancel,
		outbox: make(chan store.Snapshot, outboxSize),
		done:   make(chan struct{}),
	}
	go s.watch(sctx, conn, key.Path(), sub)
	return sub, nil
}

func (s *Store) watch(ctx context.Context, conn *pgxpool.Conn, path string, sub *subscription) {
	defer close(sub.done)
	defer close(sub.outbox)
	defer func() {
		// a connection still listening must not go back to the pool
		_, err := conn.Exec(context.Background(), "UNLISTEN *")
		if err != nil {
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}()

	// LISTEN is active, so nothing written after this load is missed.
	snap, err := s.load(ctx, path)
	if err != nil {
		sub.fail(ctx, err)
		return
	}
	last := snap.Version
	sub.push(snap)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			sub.fail(ctx, mapError(err))
			return
		}
		if n.Payload != path {
			continue
		}
		snap, err := s.load(ctx, path)
		if err != nil {
			sub.fail(ctx, err)
			return
		}
		if snap.Version <= last {
			continue
		}
		last = snap.Version
		sub.push(snap)
	}
}

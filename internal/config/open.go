package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/store"
	"github.com/DoyleJ11/rps-rooms/internal/store/memstore"
	"github.com/DoyleJ11/rps-rooms/internal/store/natsstore"
	"github.com/DoyleJ11/rps-rooms/internal/store/pgstore"
	"github.com/DoyleJ11/rps-rooms/internal/store/remote"
)

// Backend is a RoomStore the caller must Close.
type Backend interface {
	store.RoomStore
	Close() error
}

// OpenStore connects the backend named by c.Store.
func (c *Config) OpenStore(ctx context.Context, log *zap.Logger) (Backend, error) {
	log = log.With(zap.String("store", c.Store))
	switch c.Store {
	case StoreMemory:
		return memstore.New(ctx, log), nil
	case StorePostgres:
		s, err := pgstore.New(ctx, c.PostgresURL, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreNATS:
		s, err := natsstore.Connect(c.NatsURL, c.NatsBucket, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreRemote:
		s, err := c.RemoteClient(log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store %q", c.Store)
}

// RemoteClient builds a roomd client whose requests are bounded by --http-timeout.
func (c *Config) RemoteClient(log *zap.Logger) (*remote.Client, error) {
	return remote.New(c.ServerURL,
		remote.WithHTTPClient(&http.Client{Timeout: c.HTTPTimeout}),
		remote.WithLogger(log),
	)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

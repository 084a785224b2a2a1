// Package identity supplies the stable per-client id a player is seated by.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrPending = errors.New("identity not available yet")

type Provider interface {
	Identity(ctx context.Context) (string, error)
}

// Static always returns the same id. An empty Static is pending.
type Static string

func (s Static) Identity(context.Context) (string, error) {
	if s == "" {
		return "", ErrPending
	}
	return string(s), nil
}

// File keeps an anonymous uuid on disk so a restarted client rejoins its
// room in the same seat.
type File struct {
	Path string

	mu sync.Mutex
	id string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

// DefaultPath is rps/identity under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rps", "identity"), nil
}

func (f *File) Identity(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.id != "" {
		return f.id, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(f.Path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", fmt.Errorf("identity file %s: %w", f.Path, perr)
		}
		f.id = id
		return id, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	f.id = id
	return id, nil
}

package docserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
	"github.com/DoyleJ11/rps-rooms/internal/types"
)

const codeAttempts = 16

// GenerateCode returns a random six character room id.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateCode hands out a room id that has no record yet. Nothing is
// reserved; the first client to join creates the room.
func CreateCode(rs store.RoomStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ns, err := pathParam(r, "ns")
		if err != nil || ns == "" {
			writeError(w, http.StatusBadRequest, types.CodeBadRequest, "bad namespace")
			return
		}

		for i := 0; i < codeAttempts; i++ {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, types.CodeInternal, "failed to generate code")
				return
			}
			key := store.Key{Namespace: ns, Collection: store.DefaultCollection, RoomID: c}
			snap, err := peek(r.Context(), rs, key)
			if err != nil {
				log.Error("peek room", zap.String("path", key.Path()), zap.Error(err))
				writeError(w, http.StatusInternalServerError, types.CodeInternal, "failed to check code")
				return
			}
			if snap.Exists {
				log.Debug("collision on code, regenerating", zap.String("code", c))
				continue
			}
			writeJSON(w, http.StatusCreated, types.CodeResponse{Code: c})
			return
		}
		writeError(w, http.StatusServiceUnavailable, types.CodeInternal, "no free code")
	}
}

func GetRoom(rs store.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := roomKey(w, r)
		if !ok {
			return
		}
		snap, err := peek(r.Context(), rs, key)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshotMessage(snap))
	}
}

func CreateRoom(rs store.RoomStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := roomKey(w, r)
		if !ok {
			return
		}
		var room engine.Room
		if err := json.NewDecoder(r.Body).Decode(&room); err != nil {
			writeError(w, http.StatusBadRequest, types.CodeBadRequest, "bad json")
			return
		}
		if err := rs.Create(r.Context(), key, room); err != nil {
			writeStoreError(w, err)
			return
		}
		log.Info("room created", zap.String("path", key.Path()))
		w.WriteHeader(http.StatusCreated)
	}
}

func MergeRoom(rs store.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := roomKey(w, r)
		if !ok {
			return
		}
		var req types.MergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, types.CodeBadRequest, "bad json")
			return
		}
		if req.Patch.IsEmpty() {
			writeError(w, http.StatusBadRequest, types.CodeBadRequest, "empty patch")
			return
		}
		if err := rs.Merge(r.Context(), key, req.Patch, req.Precondition); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Version(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version + "\n"))
	}
}

func roomKey(w http.ResponseWriter, r *http.Request) (store.Key, bool) {
	ns, err1 := pathParam(r, "ns")
	room, err2 := pathParam(r, "room")
	if err1 != nil || err2 != nil || ns == "" || room == "" {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "bad room path")
		return store.Key{}, false
	}
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		collection = store.DefaultCollection
	}
	return store.Key{Namespace: ns, Collection: collection, RoomID: room}, true
}

// pathParam unescapes a route parameter. chi matches against RawPath when
// the request has one, so only then are parameters still escaped.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

// peek reads the current snapshot through a short-lived subscription.
func peek(ctx context.Context, rs store.RoomStore, key store.Key) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sub, err := rs.Subscribe(ctx, key)
	if err != nil {
		return store.Snapshot{}, err
	}
	defer sub.Close()

	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			if err := sub.Err(); err != nil {
				return store.Snapshot{}, err
			}
			return store.Snapshot{}, store.ErrClosed
		}
		return snap, nil
	case <-ctx.Done():
		return store.Snapshot{}, ctx.Err()
	}
}

func snapshotMessage(snap store.Snapshot) types.ServerMessage {
	msg := types.ServerMessage{Type: types.MsgSnapshot, Version: snap.Version, Exists: snap.Exists}
	if snap.Exists {
		room := snap.Room
		msg.Room = &room
	}
	return msg
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRoomExists):
		writeError(w, http.StatusConflict, types.CodeRoomExists, err.Error())
	case errors.Is(err, store.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, types.CodeRoomNotFound, err.Error())
	case errors.Is(err, store.ErrPreconditionFailed):
		writeError(w, http.StatusPreconditionFailed, types.CodePreconditionFailed, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, types.CodeInternal, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, types.CodeInternal, "store error")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package docserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/store"
	"github.com/DoyleJ11/rps-rooms/internal/types"
)

const writeTimeout = 3 * time.Second

// Subscribe streams a room's snapshots over a websocket. The client never
// sends; writes go through the HTTP routes.
func Subscribe(rs store.RoomStore, log *zap.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := roomKey(w, r)
		if !ok {
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// CloseRead discards client frames and cancels ctx once the peer goes away.
		ctx := conn.CloseRead(r.Context())

		sub, err := rs.Subscribe(ctx, key)
		if err != nil {
			log.Warn("subscribe failed", zap.String("path", key.Path()), zap.Error(err))
			_ = writeMessage(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: err.Error()})
			conn.Close(websocket.StatusInternalError, "subscribe failed")
			return
		}
		defer sub.Close()

		log.Debug("ws subscribed", zap.String("path", key.Path()))
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.Snapshots():
				if !ok {
					cause := sub.Err()
					if cause == nil {
						return
					}
					_ = writeMessage(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: cause.Error()})
					conn.Close(websocket.StatusGoingAway, "subscription ended")
					return
				}
				if err := writeMessage(ctx, conn, snapshotMessage(snap)); err != nil {
					if !errors.Is(err, context.Canceled) {
						log.Debug("ws write failed", zap.String("path", key.Path()), zap.Error(err))
					}
					return
				}
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

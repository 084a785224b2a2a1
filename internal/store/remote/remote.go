// Package remote is a RoomStore client for a docserver.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
	"github.com/DoyleJ11/rps-rooms/internal/types"
)

const outboxSize = 8

type Client struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger
}

var _ store.RoomStore = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) Create(ctx context.Context, key store.Key, room engine.Room) error {
	return c.do(ctx, http.MethodPut, c.roomURL(key, ""), room, http.StatusCreated)
}

func (c *Client) Merge(ctx context.Context, key store.Key, patch engine.Patch, cond engine.Precondition) error {
	return c.do(ctx, http.MethodPatch, c.roomURL(key, ""), types.MergeRequest{Patch: patch, Precondition: cond}, http.StatusNoContent)
}

// NewCode asks the server for an unused room id.
func (c *Client) NewCode(ctx context.Context, namespace string) (string, error) {
	u := c.base.String() + "/rooms/" + url.PathEscape(namespace) + "/code"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrUnexpected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", decodeError(resp)
	}
	var out types.CodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode code: %w", store.ErrUnexpected, err)
	}
	return out.Code, nil
}

func (c *Client) Subscribe(ctx context.Context, key store.Key) (store.Subscription, error) {
	conn, resp, err := websocket.Dial(ctx, c.roomURL(key, "ws"), &websocket.DialOptions{HTTPClient: c.wsHTTPClient()})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: bad room path", store.ErrUnexpected)
		}
		return nil, fmt.Errorf("%w: dial: %w", store.ErrUnexpected, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		conn:   conn,
		cancel: cancel,
		outbox: make(chan store.Snapshot, outboxSize),
		done:   make(chan struct{}),
	}
	go sub.run(sctx, c.log.With(zap.String("path", key.Path())))
	return sub, nil
}

// wsHTTPClient drops the request timeout, which would cut a long-lived
// websocket.
func (c *Client) wsHTTPClient() *http.Client {
	hc := *c.http
	hc.Timeout = 0
	return &hc
}

func (c *Client) roomURL(key store.Key, suffix string) string {
	u := c.base.String() + "/rooms/" + url.PathEscape(key.Namespace) + "/" + url.PathEscape(key.RoomID)
	if suffix != "" {
		u += "/" + suffix
	}
	if key.Collection != "" && key.Collection != store.DefaultCollection {
		u += "?" + url.Values{"collection": {key.Collection}}.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, body any, want int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", store.ErrUnexpected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == want {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	var e types.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
	switch e.Code {
	case types.CodeRoomExists:
		return store.ErrRoomExists
	case types.CodeRoomNotFound:
		return store.ErrRoomNotFound
	case types.CodePreconditionFailed:
		return store.ErrPreconditionFailed
	}
	if e.Error != "" {
		return fmt.Errorf("%w: %s: %s", store.ErrUnexpected, resp.Status, e.Error)
	}
	return fmt.Errorf("%w: %s", store.ErrUnexpected, resp.Status)
}

type subscription struct {
	conn   *websocket.Conn
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

func (s *subscription) run(ctx context.Context, log *zap.Logger) {
	defer close(s.done)
	defer close(s.outbox)
	defer s.conn.Close(websocket.StatusNormalClosure, "bye")

	var last int64 = -1
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("bad server message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case types.MsgError:
			s.setErr(fmt.Errorf("%w: %s", store.ErrUnexpected, msg.Error))
			return
		case types.MsgSnapshot:
			if msg.Version <= last {
				continue
			}
			last = msg.Version
			snap := store.Snapshot{Version: msg.Version, Exists: msg.Exists}
			if msg.Exists && msg.Room != nil {
				snap.Room = *msg.Room
			}
			s.push(snap)
		}
	}
}

func (s *subscription) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// closed by us or by the caller's context
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.setErr(store.ErrClosed)
	default:
		s.setErr(fmt.Errorf("%w: %w", store.ErrUnexpected, err))
	}
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

// push drops the oldest queued snapshot rather than block the reader.
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

// Package ws is the live transport for chat: one websocket connection per
// conversation, with inbound frames fanned out to handlers by event type.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/legalcheck/legalcheck-client/internal/auth"
	"github.com/legalcheck/legalcheck-client/internal/observability"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultCloseTimeout   = 2 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultMaxFrameBytes  = 4 << 20
	defaultCookieName     = "legalcheck_access_token"
)

// Handler receives the raw payload of one inbound frame.
type Handler func(payload json.RawMessage)

// Subscription identifies a registered handler so it can be removed.
type Subscription uint64

// State is the channel's connection status. The zero value is disconnected
// and unbound.
type State struct {
	Connected      bool
	Connecting     bool
	ConversationID int64
}

// Config configures a Channel.
type Config struct {
	// URL is the websocket root, e.g. "ws://localhost:8000/api/v1/ws".
	URL string

	AuthMode   AuthMode
	CookieName string
	Tokens     auth.TokenSource

	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int64

	// Dialer overrides the default gorilla dialer.
	Dialer *websocket.Dialer
	Tracer *observability.Tracer
}

type handlerEntry struct {
	id Subscription
	fn Handler
}

// Channel owns at most one websocket connection. It is safe for concurrent
// use. Handlers run on the connection's reader goroutine in the order frames
// arrive; they must not call Connect or Disconnect.
type Channel struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	conn     *websocket.Conn
	readDone chan struct{}
	state    State
	// gen changes whenever the current connection attempt is superseded.
	gen      uint64
	handlers map[EventType][]handlerEntry
	nextSub  Subscription

	writeMu sync.Mutex

	notifyMu  sync.Mutex
	watchMu   sync.Mutex
	watchers  []watcher
	nextWatch uint64
}

type watcher struct {
	id uint64
	fn func(State)
}

// NewChannel builds a disconnected channel. logger and metrics may be nil.
func NewChannel(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthQuery
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = defaultCookieName
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.ConnectTimeout,
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger.With("component", "ws"),
		metrics:  metrics,
		handlers: make(map[EventType][]handlerEntry),
	}
}

// State returns a snapshot of the connection status.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens a connection bound to conversationID and reports whether it
// is open when the call returns.
//
// Connecting to the id that is already open returns true without touching
// the connection. While another connect is in flight it returns false. A
// connection bound to a different id is closed, and its handlers dropped,
// before dialing. Dial errors, rejected handshakes and the connect timeout
// all yield false; none are returned as errors.
func (c *Channel) Connect(ctx context.Context, conversationID int64) bool {
	if conversationID <= 0 {
		c.logger.Warn("refusing to connect without a conversation id", "conversation_id", conversationID)
		return false
	}

	c.mu.Lock()
	if c.state.Connected && c.state.ConversationID == conversationID {
		c.mu.Unlock()
		return true
	}
	if c.state.Connecting {
		c.mu.Unlock()
		c.logger.Debug("websocket connection in progress", "conversation_id", conversationID)
		return false
	}
	old, oldDone := c.conn, c.readDone
	c.conn, c.readDone = nil, nil
	c.gen++
	gen := c.gen
	c.handlers = make(map[EventType][]handlerEntry)
	c.state = State{Connecting: true, ConversationID: conversationID}
	c.mu.Unlock()
	c.notify()

	if old != nil {
		c.logger.Info("closing previous websocket before reconnecting", "conversation_id", conversationID)
		_ = c.closeConn(ctx, old, oldDone)
	}

	ctx = observability.AddConversationID(ctx, conversationID)
	ctx, span := c.cfg.Tracer.TraceConnect(ctx, conversationID)
	defer span.End()

	target, header, err := c.dialTarget(ctx, conversationID)
	if err != nil {
		c.logger.ErrorContext(ctx, "cannot prepare websocket handshake", "error", err)
		c.cfg.Tracer.RecordError(span, err)
		c.metrics.RecordConnect("error")
		c.abandon(gen)
		return false
	}

	c.logger.InfoContext(ctx, "connecting to websocket", "url", target)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, target, header)
	cancel()
	if err != nil {
		result := "error"
		if isTimeout(err) && ctx.Err() == nil {
			result = "timeout"
		}
		c.logger.WarnContext(ctx, "websocket connect failed", "result", result, "error", err)
		c.cfg.Tracer.RecordError(span, err)
		c.metrics.RecordConnect(result)
		c.abandon(gen)
		return false
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "discarding websocket superseded during connect")
		c.metrics.RecordConnect("superseded")
		_ = conn.Close()
		return false
	}
	conn.SetReadLimit(c.cfg.MaxFrameBytes)
	done := make(chan struct{})
	c.conn = conn
	c.readDone = done
	c.state = State{Connected: true, ConversationID: conversationID}
	c.mu.Unlock()

	c.metrics.RecordConnect("success")
	c.metrics.ConnectionOpened()
	c.logger.InfoContext(ctx, "websocket connection established")

	go c.readLoop(conn, gen, done)
	c.notify()
	return true
}

func (c *Channel) dialTarget(ctx context.Context, conversationID int64) (string, http.Header, error) {
	token := ""
	if c.cfg.Tokens != nil {
		var err error
		token, err = c.cfg.Tokens.Token(ctx)
		switch {
		case errors.Is(err, auth.ErrNoToken):
			if c.cfg.AuthMode == AuthQuery {
				return "", nil, err
			}
		case err != nil:
			return "", nil, err
		}
	}
	target, err := BuildURL(c.cfg.URL, conversationID, c.cfg.AuthMode, token)
	if err != nil {
		return "", nil, err
	}
	return target, handshakeHeader(c.cfg.AuthMode, c.cfg.CookieName, token), nil
}

// abandon resets the state after a failed attempt unless a newer call has
// already taken over.
func (c *Channel) abandon(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = State{}
	c.mu.Unlock()
	c.notify()
}

// Disconnect drops every handler and closes the connection, waiting up to
// the close timeout for the peer to acknowledge. It is safe to call at any
// time and any number of times; afterwards the channel is unbound.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.handlers = make(map[EventType][]handlerEntry)
	conn, done := c.conn, c.readDone
	c.conn, c.readDone = nil, nil
	c.gen++
	changed := c.state != State{}
	c.state = State{}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
	if conn == nil {
		return nil
	}
	err := c.closeConn(ctx, conn, done)
	c.logger.Info("websocket disconnected")
	return err
}

// closeConn sends a close frame, waits for the reader to observe the peer's
// reply, then releases the connection.
func (c *Channel) closeConn(ctx context.Context, conn *websocket.Conn, done chan struct{}) error {
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	writeErr := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	if writeErr == nil {
		c.waitDone(ctx, done)
	}
	err := conn.Close()
	c.waitDone(ctx, done)
	c.metrics.ConnectionClosed()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Channel) waitDone(ctx context.Context, done chan struct{}) {
	if done == nil {
		return
	}
	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, gen, err)
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "message_type", messageType)
			continue
		}
		c.dispatch(data)
	}
}

// handleClosed resets the state when the connection ends without a local
// Disconnect.
func (c *Channel) handleClosed(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	conversationID := c.state.ConversationID
	c.conn, c.readDone = nil, nil
	c.state = State{}
	c.mu.Unlock()

	_ = conn.Close()
	c.metrics.ConnectionClosed()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("websocket connection closed", "conversation_id", conversationID)
	} else {
		c.logger.Warn("websocket connection lost", "conversation_id", conversationID, "error", err)
	}
	c.notify()
}

func (c *Channel) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		c.metrics.FrameError("decode")
		c.logger.Warn("dropping malformed websocket frame", "error", err, "bytes", len(data))
		return
	}
	c.metrics.FrameReceived(string(frame.Type))

	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[frame.Type]...)
	c.mu.Unlock()

	if len(entries) == 0 {
		c.logger.Debug("no handlers registered for websocket frame", "type", frame.Type, "known", frame.Type.Known())
		return
	}
	for _, entry := range entries {
		entry.fn(frame.Payload)
	}
}

// On registers fn for frames of type t. Handlers for one type run in
// registration order. Handlers are dropped by Disconnect and by any Connect
// that opens a new connection.
func (c *Channel) On(t EventType, fn Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.handlers[t] = append(c.handlers[t], handlerEntry{id: c.nextSub, fn: fn})
	return c.nextSub
}

// Off removes the handler registered as sub. Unknown subscriptions are
// ignored.
func (c *Channel) Off(t EventType, sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.handlers[t]
	for i, entry := range entries {
		if entry.id == sub {
			c.handlers[t] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Send encodes v as JSON and writes it if the connection is open. Otherwise
// the frame is dropped and false returned; nothing is queued.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state.Connected
	c.mu.Unlock()
	if conn == nil || !open {
		c.logger.Warn("websocket not connected, dropping frame")
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.metrics.FrameError("encode")
		c.logger.Error("cannot encode websocket frame", "error", err)
		return false
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.metrics.FrameError("write")
		c.logger.Warn("websocket write failed", "error", err)
		return false
	}
	c.metrics.FrameSent(frameType(v))
	return true
}

// Ping sends an on-demand keepalive frame for conversationID.
func (c *Channel) Ping(conversationID int64) bool {
	return c.Send(PingFrame(conversationID, time.Now()))
}

// Watch calls fn with the current state and again after every change, in
// order. fn must not call Connect or Disconnect. The returned func removes
// the watcher.
func (c *Channel) Watch(fn func(State)) (cancel func()) {
	c.notifyMu.Lock()
	c.watchMu.Lock()
	c.nextWatch++
	id := c.nextWatch
	c.watchers = append(c.watchers, watcher{id: id, fn: fn})
	c.watchMu.Unlock()
	fn(c.State())
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			defer c.watchMu.Unlock()
			for i, w := range c.watchers {
				if w.id == id {
					c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

// notify delivers the latest state to every watcher. Notifications are
// serialized so watchers never observe states out of order.
func (c *Channel) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	state := c.State()
	c.watchMu.Lock()
	watchers := append([]watcher(nil), c.watchers...)
	c.watchMu.Unlock()
	for _, w := range watchers {
		w.fn(state)
	}
}

func frameType(v any) string {
	switch f := v.(type) {
	case OutboundFrame:
		return string(f.Type)
	case *OutboundFrame:
		return string(f.Type)
	default:
		return "custom"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Package chat holds the conversation store: the state of the document chat
// that is currently open, kept in sync with the live channel and the REST
// fallback.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/legalcheck/legalcheck-client/internal/api"
	"github.com/legalcheck/legalcheck-client/internal/observability"
	"github.com/legalcheck/legalcheck-client/internal/ws"
	"github.com/legalcheck/legalcheck-client/pkg/models"
)

// Validation errors. They are returned before any network call and leave
// the store untouched.
var (
	ErrEmptyContent    = errors.New("message content is empty")
	ErrInvalidDocument = errors.New("document id must be positive")
	ErrNoConversation  = errors.New("no conversation loaded")
)

// User-facing error strings stored in State.Error.
const (
	MsgNoConversation = "No conversation exists for this document yet."
	MsgLoadFailed     = "Failed to load chat messages. Please try again later."
	MsgSendFailed     = "Failed to send message. Please try again."
	MsgUpdateFailed   = "Failed to update conversation title."
	msgServerError    = "The chat server reported an error."
)

// Transport is the live channel. *ws.Channel satisfies it.
type Transport interface {
	Connect(ctx context.Context, conversationID int64) bool
	Disconnect(ctx context.Context) error
	On(t ws.EventType, fn ws.Handler) ws.Subscription
	Off(t ws.EventType, sub ws.Subscription)
	Send(v any) bool
	Ping(conversationID int64) bool
	State() ws.State
	Watch(fn func(ws.State)) (cancel func())
}

// Transfer is the request/response fallback. *api.Client satisfies it.
type Transfer interface {
	FetchHistory(ctx context.Context, documentID int64) (*models.Conversation, error)
	SendMessage(ctx context.Context, documentID int64, content string) (*models.Message, error)
	UpdateTitle(ctx context.Context, conversation *models.Conversation) (*models.Conversation, error)
}

// Options configures a Store. Every field is optional.
type Options struct {
	Logger          *slog.Logger
	Metrics         *observability.Metrics
	Tracer          *observability.Tracer
	ReconcileWindow time.Duration
	Now             func() time.Time
}

// State is what the chat screen observes. Conversation is replaced, never
// mutated, so it may be read without copying but must not be modified.
type State struct {
	Conversation *models.Conversation
	DocumentID   int64
	Loading      bool
	Sending      bool
	Error        string

	// Mirrored from the transport.
	WSConnected           bool
	WSConnecting          bool
	CurrentConversationID int64
}

// Phase is the store's coarse lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseConnecting
	PhaseLive
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseConnecting:
		return "connecting"
	case PhaseLive:
		return "live"
	case PhaseDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Phase derives the lifecycle state from the flags.
func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseLoading
	case s.Conversation == nil:
		return PhaseIdle
	case s.WSConnecting:
		return PhaseConnecting
	case s.WSConnected && s.CurrentConversationID == s.Conversation.ID:
		return PhaseLive
	default:
		return PhaseDegraded
	}
}

type binding struct {
	event ws.EventType
	sub   ws.Subscription
}

type subscriber struct {
	id uint64
	fn func(State)
}

// Store owns the loaded conversation. It is safe for concurrent use;
// subscribers are called without the store lock held, in order, and must
// not block or call back into the store.
type Store struct {
	transport Transport
	transfer  Transfer
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	window    time.Duration
	now       func() time.Time

	mu    sync.Mutex
	state State
	// fetchSeq discards history responses that a newer fetch superseded.
	fetchSeq uint64
	// handlerGen is the generation whose channel handlers may apply frames.
	handlerGen uint64
	bindings   []binding

	bindMu sync.Mutex

	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers []subscriber
	nextSub     uint64

	unwatch func()
}

// NewStore builds an idle store and starts mirroring the transport's
// connection state.
func NewStore(transport Transport, transfer Transfer, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := opts.ReconcileWindow
	if window <= 0 {
		window = DefaultReconcileWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		transport: transport,
		transfer:  transfer,
		logger:    logger.With("component", "chat"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		window:    window,
		now:       now,
	}
	s.unwatch = transport.Watch(s.mirror)
	return s
}

// mirror copies the transport's connection flags into the store.
func (s *Store) mirror(ts ws.State) {
	s.mu.Lock()
	changed := s.state.WSConnected != ts.Connected ||
		s.state.WSConnecting != ts.Connecting ||
		s.state.CurrentConversationID != ts.ConversationID
	s.state.WSConnected = ts.Connected
	s.state.WSConnecting = ts.Connecting
	s.state.CurrentConversationID = ts.ConversationID
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn with the current state and after every change. The
// returned func removes the subscription.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.notifyMu.Lock()
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.subMu.Unlock()
	fn(s.Snapshot())
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	state := s.Snapshot()
	s.subMu.Lock()
	subs := append([]subscriber(nil), s.subscribers...)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(state)
	}
}

// update applies fn to the state under the lock and notifies subscribers.
func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
	s.notify()
}

// InitializeChat loads the document's conversation and, when it exists,
// opens the live channel for it. A failed connect is not an error: the store
// stays usable through the REST fallback.
func (s *Store) InitializeChat(ctx context.Context, documentID int64) error {
	conversation, err := s.FetchMessages(ctx, documentID)
	if err != nil {
		return err
	}
	if conversation.ID > 0 {
		s.ConnectWebSocket(ctx, conversation.ID)
	}
	return nil
}

// FetchMessages loads the conversation for a document without touching the
// channel. Optimistic messages that the server copy does not contain yet are
// kept.
func (s *Store) FetchMessages(ctx context.Context, documentID int64) (*models.Conversation, error) {
	if documentID <= 0 {
		return nil, ErrInvalidDocument
	}
	ctx = observability.AddDocumentID(ctx, documentID)

	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	previous := s.state.DocumentID
	s.state.DocumentID = documentID
	s.state.Loading = true
	s.state.Error = ""
	s.mu.Unlock()
	s.notify()

	conversation, err := s.transfer.FetchHistory(ctx, documentID)
	if err == nil && (conversation == nil || conversation.ID <= 0) {
		conversation, err = nil, fmt.Errorf("empty conversation: %w", api.ErrNotFound)
	}

	s.mu.Lock()
	if seq != s.fetchSeq {
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		s.logger.DebugContext(ctx, "discarding superseded history response")
		return conversation.Clone(), nil
	}
	s.state.Loading = false
	if err != nil {
		notFound := errors.Is(err, api.ErrNotFound)
		if notFound {
			s.state.Error = MsgNoConversation
		} else {
			s.state.Error = MsgLoadFailed
		}
		// Not found is authoritative; a transient failure on a reload keeps
		// the conversation already on screen.
		if notFound || previous != documentID {
			s.state.Conversation = nil
		}
		s.mu.Unlock()
		s.notify()
		if notFound {
			s.logger.InfoContext(ctx, "document has no conversation yet")
		} else {
			s.logger.ErrorContext(ctx, "failed to fetch chat history", "error", err)
		}
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	s.state.Conversation = mergeSnapshot(conversation, s.state.Conversation, s.window)
	s.mu.Unlock()
	s.notify()

	s.logger.DebugContext(ctx, "chat history loaded",
		"conversation_id", conversation.ID, "messages", len(conversation.Messages))
	return conversation.Clone(), nil
}

// ConnectWebSocket opens the channel for a conversation and routes its
// frames into the store. It reports whether the channel is open.
func (s *Store) ConnectWebSocket(ctx context.Context, conversationID int64) bool {
	if conversationID <= 0 {
		return false
	}
	ctx = observability.AddConversationID(ctx, conversationID)
	if !s.transport.Connect(ctx, conversationID) {
		s.logger.WarnContext(ctx, "live channel unavailable, using request fallback")
		return false
	}
	s.bind()
	return true
}

// bind registers a fresh set of frame handlers and retires the previous
// set. New handlers are inert until the generation flips, so each frame is
// applied exactly once across the swap.
func (s *Store) bind() {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	s.mu.Lock()
	gen := s.handlerGen + 1
	s.mu.Unlock()

	fresh := []binding{
		{ws.EventHistory, s.transport.On(ws.EventHistory, func(p json.RawMessage) { s.onHistory(gen, p) })},
		{ws.EventNewMessage, s.transport.On(ws.EventNewMessage, func(p json.RawMessage) { s.onNewMessage(gen, p) })},
		{ws.EventPong, s.transport.On(ws.EventPong, func(p json.RawMessage) { s.onPong(gen, p) })},
		{ws.EventError, s.transport.On(ws.EventError, func(p json.RawMessage) { s.onError(gen, p) })},
	}

	s.mu.Lock()
	s.handlerGen = gen
	stale := s.bindings
	s.bindings = fresh
	s.mu.Unlock()

	for _, b := range stale {
		s.transport.Off(b.event, b.sub)
	}
}

// unbind retires the current handlers.
func (s *Store) unbind() {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	s.mu.Lock()
	s.handlerGen++
	stale := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	for _, b := range stale {
		s.transport.Off(b.event, b.sub)
	}
}

func (s *Store) onHistory(gen uint64, payload json.RawMessage) {
	var snapshot models.Conversation
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		s.metrics.FrameError("payload")
		s.logger.Warn("dropping history frame with invalid payload", "error", err)
		return
	}
	s.mu.Lock()
	if gen != s.handlerGen {
		s.mu.Unlock()
		return
	}
	s.state.Conversation = mergeSnapshot(&snapshot, s.state.Conversation, s.window)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) onNewMessage(gen uint64, payload json.RawMessage) {
	var message models.Message
	if err := json.Unmarshal(payload, &message); err != nil {
		s.metrics.FrameError("payload")
		s.logger.Warn("dropping new_message frame with invalid payload", "error", err)
		return
	}
	s.mu.Lock()
	if gen != s.handlerGen {
		s.mu.Unlock()
		return
	}
	if s.state.Conversation == nil {
		s.mu.Unlock()
		s.logger.Warn("received message but no conversation is loaded", "message_id", message.ID)
		return
	}
	s.appendLocked(message)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) onPong(gen uint64, payload json.RawMessage) {
	s.mu.Lock()
	live := gen == s.handlerGen
	s.mu.Unlock()
	if live {
		s.logger.Debug("pong received", "payload", string(payload))
	}
}

func (s *Store) onError(gen uint64, payload json.RawMessage) {
	var body ws.ErrorPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		s.logger.Warn("error frame with invalid payload", "error", err)
	}
	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = msgServerError
	}
	s.mu.Lock()
	if gen != s.handlerGen {
		s.mu.Unlock()
		return
	}
	s.state.Error = message
	s.mu.Unlock()
	s.logger.Warn("chat server reported an error", "message", message)
	s.notify()
}

// appendLocked adds message to the loaded conversation, replacing the
// optimistic entry it confirms. s.mu must be held.
func (s *Store) appendLocked(message models.Message) {
	next := s.state.Conversation.Clone()
	if message.IsProvisional() {
		next.Messages = append(next.Messages, message)
	} else {
		next.Messages, _ = withConfirmed(next.Messages, message, s.window)
	}
	s.state.Conversation = next
}

// AddMessage appends a message to the loaded conversation. It is dropped
// when no conversation is loaded.
func (s *Store) AddMessage(message models.Message) {
	s.mu.Lock()
	if s.state.Conversation == nil {
		s.mu.Unlock()
		s.logger.Warn("dropping message, no conversation loaded", "message_id", message.ID)
		return
	}
	s.appendLocked(message)
	s.mu.Unlock()
	s.notify()
}

// SendMessage delivers a user message for a document.
//
// When the channel is open on the loaded conversation the message goes out
// as a frame and nothing is added locally; the server echo arrives as a
// new_message frame. Otherwise an optimistic entry is appended before the
// REST call returns and is replaced by the server copy on success. On failure
// the optimistic entry stays and State.Error is set.
func (s *Store) SendMessage(ctx context.Context, documentID int64, content string) error {
	if documentID <= 0 {
		return ErrInvalidDocument
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	ctx = observability.AddDocumentID(ctx, documentID)
	ctx, span := s.tracer.TraceSend(ctx, documentID)
	defer span.End()

	s.mu.Lock()
	conversation := s.state.Conversation
	if s.state.DocumentID != documentID {
		conversation = nil
	}
	s.mu.Unlock()

	if conversation != nil && conversation.ID > 0 {
		ts := s.transport.State()
		if ts.Connected && ts.ConversationID == conversation.ID {
			if s.transport.Send(ws.NewMessageFrame(conversation.ID, content, s.now())) {
				s.metrics.RecordSend("live", "ok")
				s.tracer.SetAttributes(span, "chat.path", "live")
				return nil
			}
			s.metrics.RecordSend("live", "dropped")
			s.logger.WarnContext(ctx, "live send failed, falling back to request")
		}
	}
	s.tracer.SetAttributes(span, "chat.path", "fallback")

	s.mu.Lock()
	if conversation != nil {
		optimistic := models.Message{
			ID:             nextProvisionalID(),
			Content:        content,
			ConversationID: conversation.ID,
			Author:         models.AuthorUser,
			CreatedAt:      models.NewTimestamp(s.now().UTC()),
		}
		if s.state.Conversation != nil && s.state.Conversation.ID == conversation.ID {
			s.appendLocked(optimistic)
		}
	}
	s.state.Sending = true
	s.state.Error = ""
	s.mu.Unlock()
	s.notify()

	message, err := s.transfer.SendMessage(ctx, documentID, content)
	if err != nil {
		s.update(func(st *State) {
			st.Sending = false
			st.Error = MsgSendFailed
		})
		s.metrics.RecordSend("fallback", "error")
		s.tracer.RecordError(span, err)
		s.logger.ErrorContext(ctx, "failed to send chat message", "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	s.metrics.RecordSend("fallback", "ok")

	if conversation == nil {
		s.update(func(st *State) { st.Sending = false })
		s.logger.InfoContext(ctx, "first message created a conversation, loading it")
		if err := s.InitializeChat(ctx, documentID); err != nil {
			s.logger.WarnContext(ctx, "could not load the new conversation", "error", err)
		}
		return nil
	}

	s.mu.Lock()
	s.state.Sending = false
	if message != nil && s.state.Conversation != nil && s.state.Conversation.ID == message.ConversationID {
		s.appendLocked(*message)
	} else {
		s.logger.WarnContext(ctx, "sent message belongs to a conversation that is no longer loaded")
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// UpdateConversation sets the loaded conversation's title immediately and
// then saves it. A failed save keeps the local title and sets State.Error.
func (s *Store) UpdateConversation(ctx context.Context, title string) error {
	s.mu.Lock()
	if s.state.Conversation == nil {
		s.mu.Unlock()
		return ErrNoConversation
	}
	next := s.state.Conversation.Clone()
	next.Title = &title
	s.state.Conversation = next
	s.state.Error = ""
	s.mu.Unlock()
	s.notify()

	ctx = observability.AddConversationID(ctx, next.ID)
	saved, err := s.transfer.UpdateTitle(ctx, next)
	if err != nil {
		s.update(func(st *State) { st.Error = MsgUpdateFailed })
		s.logger.ErrorContext(ctx, "failed to update conversation title", "error", err)
		return fmt.Errorf("update title: %w", err)
	}
	if saved == nil {
		return nil
	}

	s.mu.Lock()
	current := s.state.Conversation
	if current == nil || current.ID != saved.ID {
		s.mu.Unlock()
		return nil
	}
	merged := current.Clone()
	merged.Title = saved.Title
	if !saved.UpdatedAt.IsZero() {
		merged.UpdatedAt = saved.UpdatedAt
	}
	s.state.Conversation = merged
	s.mu.Unlock()
	s.notify()
	return nil
}

// DisconnectWebSocket tears down the channel. It does nothing when the
// channel is neither open nor opening and is safe to call repeatedly.
func (s *Store) DisconnectWebSocket(ctx context.Context) error {
	ts := s.transport.State()
	if !ts.Connected && !ts.Connecting {
		return nil
	}
	s.unbind()
	if err := s.transport.Disconnect(ctx); err != nil {
		s.logger.WarnContext(ctx, "websocket close reported an error", "error", err)
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Ping sends a keepalive frame on the live channel. It reports false when
// the store is not Live or the frame could not be queued.
func (s *Store) Ping(ctx context.Context) bool {
	s.mu.Lock()
	live := s.state.Phase() == PhaseLive
	var conversationID int64
	if live {
		conversationID = s.state.Conversation.ID
	}
	s.mu.Unlock()
	if !live {
		s.logger.DebugContext(ctx, "ping skipped, channel not live")
		return false
	}
	if !s.transport.Ping(conversationID) {
		s.logger.WarnContext(ctx, "ping frame not sent", "conversation_id", conversationID)
		return false
	}
	return true
}

// Reset disconnects and returns the store to Idle.
func (s *Store) Reset(ctx context.Context) error {
	err := s.DisconnectWebSocket(ctx)
	s.unbind()
	ts := s.transport.State()
	s.mu.Lock()
	s.fetchSeq++
	s.state = State{
		WSConnected:           ts.Connected,
		WSConnecting:          ts.Connecting,
		CurrentConversationID: ts.ConversationID,
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// Close stops mirroring the transport and removes the store's handlers. It
// does not disconnect the channel, which may outlive the store.
func (s *Store) Close() {
	s.unbind()
	if s.unwatch != nil {
		s.unwatch()
	}
}

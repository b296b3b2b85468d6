package fixly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime connection.
type RealtimeConfig struct {
	// DisableReconnect turns off automatic reconnection. By default the
	// client retries indefinitely with capped exponential backoff.
	DisableReconnect bool
	// MaxReconnectAttempts caps reconnection attempts. Zero means
	// unlimited.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected  RealtimeState = "disconnected"
	StateConnecting    RealtimeState = "connecting"
	StateConnected     RealtimeState = "connected"
	StateAuthenticated RealtimeState = "authenticated"
	StateReconnecting  RealtimeState = "reconnecting"
)

// ErrAuthRejected is returned by Connect when the server refuses the
// credential. Auth failures are fatal to the session: they are surfaced
// once and never retried automatically.
var ErrAuthRejected = errors.New("credential rejected by server")

// Wire event names.
const (
	EventMessage             = "message"
	EventConversation        = "conversation"
	EventConversations       = "conversations"
	EventConversationUpdated = "conversation_updated"
	EventUnreadCount         = "unread_count"
	EventNotification        = "notification"
	EventTyping              = "typing"
	EventError               = "error"
	EventAuthenticated       = "authenticated"
)

// Client-to-server verbs.
const (
	cmdAuthenticate      = "authenticate"
	cmdJoinConversation  = "join_conversation"
	cmdLeaveConversation = "leave_conversation"
	cmdTyping            = "typing"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(eventType string, payload json.RawMessage)

// Unsubscribe removes a previously registered handler. Calling it more
// than once is a no-op.
type Unsubscribe func()

type subID int

type eventDispatcher struct {
	mu     sync.RWMutex
	nextID subID

	generic map[string]map[subID]RealtimeEventHandler

	onMessage             map[subID]func(Message)
	onConversation        map[subID]func(Conversation)
	onConversations       map[subID]func([]Conversation)
	onConversationUpdated map[subID]func(ConversationPatch)
	onUnreadCount         map[subID]func(int)
	onNotification        map[subID]func(Notification)
	onTyping              map[subID]func(TypingPayload)
	onAuthenticated       map[subID]func(AuthenticatedPayload)
	onError               map[subID]func(RealtimeErrorPayload)
	onConnected           map[subID]func()
	onDisconnected        map[subID]func(code int, reason string)
	onReconnecting        map[subID]func(attempt int, delay time.Duration)

	logger *slog.Logger
}

func newEventDispatcher(logger *slog.Logger) *eventDispatcher {
	return &eventDispatcher{
		generic:               make(map[string]map[subID]RealtimeEventHandler),
		onMessage:             make(map[subID]func(Message)),
		onConversation:        make(map[subID]func(Conversation)),
		onConversations:       make(map[subID]func([]Conversation)),
		onConversationUpdated: make(map[subID]func(ConversationPatch)),
		onUnreadCount:         make(map[subID]func(int)),
		onNotification:        make(map[subID]func(Notification)),
		onTyping:              make(map[subID]func(TypingPayload)),
		onAuthenticated:       make(map[subID]func(AuthenticatedPayload)),
		onError:               make(map[subID]func(RealtimeErrorPayload)),
		onConnected:           make(map[subID]func()),
		onDisconnected:        make(map[subID]func(code int, reason string)),
		onReconnecting:        make(map[subID]func(attempt int, delay time.Duration)),
		logger:                logger,
	}
}

func (d *eventDispatcher) allocate() subID {
	d.nextID++
	return d.nextID
}

// snapshot copies a handler registry under the read lock so handlers
// run without holding it. A handler may therefore unsubscribe itself
// (or register new handlers) from inside the callback without
// deadlocking the read loop.
func snapshot[T any](d *eventDispatcher, m map[subID]T) []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]T, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}

func (d *eventDispatcher) genericSnapshot(eventType string) []RealtimeEventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RealtimeEventHandler, 0, len(d.generic[eventType]))
	for _, h := range d.generic[eventType] {
		out = append(out, h)
	}
	return out
}

// dispatch decodes the envelope and invokes registered handlers
// synchronously on the calling goroutine. Malformed payloads are
// logged and skipped, never propagated as panics or errors.
func (d *eventDispatcher) dispatch(env RealtimeEnvelope) {
	switch env.Type {
	case EventMessage:
		var p Message
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID == "" {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onMessage) {
			h(p)
		}
	case EventConversation:
		var p Conversation
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID == "" {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onConversation) {
			h(p)
		}
	case EventConversations:
		var p []Conversation
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onConversations) {
			h(p)
		}
	case EventConversationUpdated:
		var p ConversationPatch
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID == "" {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onConversationUpdated) {
			h(p)
		}
	case EventUnreadCount:
		var p UnreadCountPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onUnreadCount) {
			h(p.Count)
		}
	case EventNotification:
		var p Notification
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID == "" {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onNotification) {
			h(p)
		}
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == "" {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onTyping) {
			h(p)
		}
	case EventAuthenticated:
		var p AuthenticatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onAuthenticated) {
			h(p)
		}
	case EventError:
		var p RealtimeErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.drop(env.Type, err)
			return
		}
		for _, h := range snapshot(d, d.onError) {
			h(p)
		}
	}

	for _, h := range d.genericSnapshot(env.Type) {
		h(env.Type, env.Payload)
	}
}

func (d *eventDispatcher) drop(eventType string, err error) {
	d.logger.Warn("dropping malformed realtime payload", "event", eventType, "err", err)
}

func (d *eventDispatcher) emitConnected() {
	for _, h := range snapshot(d, d.onConnected) {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	for _, h := range snapshot(d, d.onDisconnected) {
		h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	for _, h := range snapshot(d, d.onReconnecting) {
		h(attempt, delay)
	}
}

func (d *eventDispatcher) emitError(p RealtimeErrorPayload) {
	for _, h := range snapshot(d, d.onError) {
		h(p)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks backoff state. It is touched from the read and
// reconnect goroutines as well as from Disconnect on the caller's
// goroutine, so every access goes through its own mutex.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu          sync.Mutex
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

func (r *reconnector) nextDelay() (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay, r.attempt
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.connectedAt = time.Time{}
	r.mu.Unlock()
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the one persistent duplex connection per
// authenticated session. It is constructed explicitly (never a module
// singleton) so tests can use fresh instances; the intended lifetime
// is one client per login.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	token            string
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector
}

// NewRealtimeClient creates a realtime client for the given API base
// URL. Call Connect to establish the connection.
func NewRealtimeClient(baseURL string, config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(cfg.Logger),
		recon:      newReconnector(&cfg),
	}
}

// ── Subscriptions ────────────────────────────────────────────────────
//
// Each On* method registers an independent handler and returns an
// Unsubscribe. Multiple subscribers may register for the same event;
// every registration must be paired with its unsubscribe on teardown
// to avoid handler leaks across repeated mounts.

// OnMessage registers a handler for pushed messages.
func (rt *RealtimeClient) OnMessage(h func(Message)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onMessage[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onMessage, id) })
}

// OnConversation registers a handler for full conversation snapshots.
func (rt *RealtimeClient) OnConversation(h func(Conversation)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onConversation[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onConversation, id) })
}

// OnConversations registers a handler for bulk conversation pushes.
func (rt *RealtimeClient) OnConversations(h func([]Conversation)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onConversations[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onConversations, id) })
}

// OnConversationUpdated registers a handler for partial conversation
// updates.
func (rt *RealtimeClient) OnConversationUpdated(h func(ConversationPatch)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onConversationUpdated[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onConversationUpdated, id) })
}

// OnUnreadCount registers a handler for the authoritative unread total.
func (rt *RealtimeClient) OnUnreadCount(h func(int)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onUnreadCount[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onUnreadCount, id) })
}

// OnNotification registers a handler for pushed notifications.
func (rt *RealtimeClient) OnNotification(h func(Notification)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onNotification[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onNotification, id) })
}

// OnTyping registers a handler for typing signals.
func (rt *RealtimeClient) OnTyping(h func(TypingPayload)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onTyping[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onTyping, id) })
}

// OnAuthenticated registers a handler for session binding.
func (rt *RealtimeClient) OnAuthenticated(h func(AuthenticatedPayload)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onAuthenticated[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onAuthenticated, id) })
}

// OnError registers a handler for connection-level errors. Errors are
// reported here exactly once per failure; they never crash dependent
// components.
func (rt *RealtimeClient) OnError(h func(RealtimeErrorPayload)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onError[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onError, id) })
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onConnected[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onConnected, id) })
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(code int, reason string)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onDisconnected[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onDisconnected, id) })
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	rt.dispatcher.onReconnecting[id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.onReconnecting, id) })
}

// On registers a generic handler for a raw event name.
func (rt *RealtimeClient) On(eventType string, h RealtimeEventHandler) Unsubscribe {
	rt.dispatcher.mu.Lock()
	id := rt.dispatcher.allocate()
	if rt.dispatcher.generic[eventType] == nil {
		rt.dispatcher.generic[eventType] = make(map[subID]RealtimeEventHandler)
	}
	rt.dispatcher.generic[eventType][id] = h
	rt.dispatcher.mu.Unlock()
	return rt.remover(func(d *eventDispatcher) { delete(d.generic[eventType], id) })
}

func (rt *RealtimeClient) remover(remove func(*eventDispatcher)) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			rt.dispatcher.mu.Lock()
			remove(rt.dispatcher)
			rt.dispatcher.mu.Unlock()
		})
	}
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Connect dials the transport and authenticates the session with the
// given credential. A no-op when already live with the same credential;
// a different credential tears the old connection down first.
// Transport-level drops after a successful Connect are recovered
// automatically and never surface as errors; only logical failures
// (rejected credential) are returned.
func (rt *RealtimeClient) Connect(ctx context.Context, token string) error {
	rt.mu.Lock()
	switch rt.state {
	case StateConnecting, StateConnected, StateAuthenticated:
		if rt.token == token {
			rt.mu.Unlock()
			return nil
		}
		rt.mu.Unlock()
		_ = rt.Disconnect()
		rt.mu.Lock()
	case StateReconnecting:
		// A pending reconnect loop holds the old credential and would
		// dial on its own schedule; an explicit Connect supersedes it.
		// Tear it down even for the same token so exactly one
		// connection attempt is ever in flight.
		rt.mu.Unlock()
		_ = rt.Disconnect()
		rt.mu.Lock()
	default:
		// Disconnected after a transport drop may still have a
		// scheduled reconnect; cancel it before dialing fresh.
		if rt.cancelFn != nil {
			rt.cancelFn()
			rt.cancelFn = nil
		}
	}
	rt.state = StateConnecting
	rt.token = token
	rt.intentionalClose = false
	rt.mu.Unlock()

	return rt.dial(ctx)
}

func (rt *RealtimeClient) dial(ctx context.Context) error {
	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws"

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	token := rt.token
	rt.mu.Unlock()

	// Bind the connection to the session for private-channel delivery.
	auth := RealtimeCommand{Type: cmdAuthenticate, Payload: map[string]string{"token": token}}
	data, _ := json.Marshal(auth)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("send authenticate: %w", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("read authenticate reply: %w", err)
	}

	var env RealtimeEnvelope
	if err := json.Unmarshal(reply, &env); err != nil || env.Type != EventAuthenticated {
		conn.Close(websocket.StatusPolicyViolation, "authentication rejected")
		rt.setState(StateDisconnected)
		failure := RealtimeErrorPayload{Code: "AUTH_REJECTED", Message: "credential rejected by server"}
		if env.Type == EventError {
			json.Unmarshal(env.Payload, &failure)
		}
		rt.dispatcher.emitError(failure)
		return fmt.Errorf("%w: %s", ErrAuthRejected, failure.Message)
	}

	rt.setState(StateAuthenticated)
	rt.recon.markConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	if rt.cancelFn != nil {
		// The previous connection's context also parents its reconnect
		// loop; cancel it so no orphaned loop dials a second socket.
		rt.cancelFn()
	}
	rt.cancelFn = cancel
	rt.mu.Unlock()

	rt.dispatcher.dispatch(env)
	rt.dispatcher.emitConnected()

	go rt.readLoop(connCtx, conn)
	return nil
}

// Disconnect tears down the transport. Idempotent; room membership and
// subscriptions on dependent components are cleared via the
// disconnected meta-event.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	alreadyDown := rt.state == StateDisconnected && rt.conn == nil
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if alreadyDown {
		return nil
	}
	rt.recon.reset()
	rt.dispatcher.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (rt *RealtimeClient) setState(s RealtimeState) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

// ── Outbound verbs ───────────────────────────────────────────────────

// JoinConversation subscribes this connection to a conversation room.
func (rt *RealtimeClient) JoinConversation(ctx context.Context, conversationID string) error {
	return rt.send(ctx, &RealtimeCommand{
		Type:    cmdJoinConversation,
		Payload: map[string]string{"conversationId": conversationID},
	})
}

// LeaveConversation unsubscribes this connection from a conversation
// room. Only used on teardown; navigation keeps all rooms joined.
func (rt *RealtimeClient) LeaveConversation(ctx context.Context, conversationID string) error {
	return rt.send(ctx, &RealtimeCommand{
		Type:    cmdLeaveConversation,
		Payload: map[string]string{"conversationId": conversationID},
	})
}

// SendTyping emits a typing signal for a conversation.
func (rt *RealtimeClient) SendTyping(ctx context.Context, signal TypingPayload) error {
	return rt.send(ctx, &RealtimeCommand{Type: cmdTyping, Payload: signal})
}

func (rt *RealtimeClient) send(ctx context.Context, cmd *RealtimeCommand) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ── Read loop and reconnection ───────────────────────────────────────

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()

			rt.dispatcher.emitDisconnected(0, err.Error())

			if !rt.config.DisableReconnect && rt.recon.shouldReconnect() {
				go rt.reconnectLoop(ctx)
			}
			return
		}

		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			rt.config.Logger.Warn("dropping unparseable realtime frame", "err", err)
			continue
		}
		rt.dispatcher.dispatch(env)
	}
}

func (rt *RealtimeClient) reconnectLoop(ctx context.Context) {
	for {
		delay, attempt := rt.recon.nextDelay()
		rt.setState(StateReconnecting)
		rt.dispatcher.emitReconnecting(attempt, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		rt.mu.Lock()
		if rt.intentionalClose || ctx.Err() != nil {
			rt.mu.Unlock()
			return
		}
		rt.state = StateConnecting
		rt.mu.Unlock()

		err := rt.dial(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthRejected) {
			rt.setState(StateDisconnected)
			return
		}
		if rt.config.DisableReconnect || !rt.recon.shouldReconnect() {
			rt.setState(StateDisconnected)
			return
		}
	}
}

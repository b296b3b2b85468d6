package fixly

import (
	"context"
	"sync"
	"time"
)

// DefaultTypingExpiry is how long a received typing=true signal stays
// live without a refresh before the indicator clears on its own.
const DefaultTypingExpiry = 3000 * time.Millisecond

// TypingTransport is the outbound half the coordinator needs from the
// connection. *RealtimeClient satisfies it.
type TypingTransport interface {
	SendTyping(ctx context.Context, signal TypingPayload) error
}

// TypingOptions configures a TypingCoordinator.
type TypingOptions struct {
	// Expiry overrides the auto-clear timeout for received signals.
	Expiry time.Duration
}

type remoteTyping struct {
	userName string
	timer    *time.Timer
}

// TypingCoordinator emits and receives ephemeral typing signals scoped
// to a conversation.
//
// Outbound signals are deduplicated: while the local user keeps typing
// in one conversation only the first StartTyping emits. Inbound
// signals from the local user are filtered out by email; a received
// typing=true auto-clears after the expiry window if no refresh
// arrives. Only the most recent remote typist is surfaced per
// conversation.
type TypingCoordinator struct {
	transport TypingTransport
	self      User
	expiry    time.Duration

	mu        sync.Mutex
	nextID    subID
	outbound  map[string]bool          // conversations we've signalled typing=true in
	remote    map[string]*remoteTyping // most recent remote typist per conversation
	listeners map[string]map[subID]func(userName string, isTyping bool)
	closed    bool
}

// NewTypingCoordinator creates a coordinator for the given local user.
// Wire inbound signals by registering HandleSignal on the connection's
// typing event.
func NewTypingCoordinator(transport TypingTransport, self User, opts *TypingOptions) *TypingCoordinator {
	expiry := DefaultTypingExpiry
	if opts != nil && opts.Expiry > 0 {
		expiry = opts.Expiry
	}
	return &TypingCoordinator{
		transport: transport,
		self:      self,
		expiry:    expiry,
		outbound:  make(map[string]bool),
		remote:    make(map[string]*remoteTyping),
		listeners: make(map[string]map[subID]func(string, bool)),
	}
}

// ── Outbound ─────────────────────────────────────────────────────────

// StartTyping emits a typing=true signal for the conversation.
// Suppressed while already in the typing state there.
func (tc *TypingCoordinator) StartTyping(ctx context.Context, conversationID string) error {
	tc.mu.Lock()
	if tc.closed || tc.outbound[conversationID] {
		tc.mu.Unlock()
		return nil
	}
	tc.outbound[conversationID] = true
	tc.mu.Unlock()

	err := tc.transport.SendTyping(ctx, tc.signal(conversationID, true))
	if err != nil {
		tc.mu.Lock()
		delete(tc.outbound, conversationID)
		tc.mu.Unlock()
	}
	return err
}

// StopTyping emits a typing=false signal. A no-op when not currently
// marked as typing in that conversation.
func (tc *TypingCoordinator) StopTyping(ctx context.Context, conversationID string) error {
	tc.mu.Lock()
	if !tc.outbound[conversationID] {
		tc.mu.Unlock()
		return nil
	}
	delete(tc.outbound, conversationID)
	tc.mu.Unlock()

	return tc.transport.SendTyping(ctx, tc.signal(conversationID, false))
}

func (tc *TypingCoordinator) signal(conversationID string, isTyping bool) TypingPayload {
	return TypingPayload{
		ConversationID: conversationID,
		UserID:         tc.self.ID,
		UserEmail:      tc.self.Email,
		UserName:       tc.self.DisplayName,
		IsTyping:       isTyping,
	}
}

// ── Inbound ──────────────────────────────────────────────────────────

// OnTypingSignal registers a handler for remote typing state changes in
// one conversation. The handler receives the typist's name and true on
// typing, and an empty name and false when the state clears (explicit
// stop or auto-expiry).
func (tc *TypingCoordinator) OnTypingSignal(conversationID string, h func(userName string, isTyping bool)) Unsubscribe {
	tc.mu.Lock()
	tc.nextID++
	id := tc.nextID
	if tc.listeners[conversationID] == nil {
		tc.listeners[conversationID] = make(map[subID]func(string, bool))
	}
	tc.listeners[conversationID][id] = h
	tc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			tc.mu.Lock()
			delete(tc.listeners[conversationID], id)
			tc.mu.Unlock()
		})
	}
}

// HandleSignal folds one inbound typing signal into the coordinator.
// Signals originating from the local session are filtered out.
func (tc *TypingCoordinator) HandleSignal(signal TypingPayload) {
	if signal.ConversationID == "" || signal.UserEmail == tc.self.Email {
		return
	}

	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	existing := tc.remote[signal.ConversationID]
	if existing != nil && existing.timer != nil {
		existing.timer.Stop()
	}

	if !signal.IsTyping {
		delete(tc.remote, signal.ConversationID)
		handlers := tc.snapshotListeners(signal.ConversationID)
		tc.mu.Unlock()
		for _, h := range handlers {
			h("", false)
		}
		return
	}

	// Last writer wins: only the most recent typist is surfaced.
	conversationID := signal.ConversationID
	tc.remote[conversationID] = &remoteTyping{
		userName: signal.UserName,
		timer: time.AfterFunc(tc.expiry, func() {
			tc.expire(conversationID)
		}),
	}
	handlers := tc.snapshotListeners(conversationID)
	tc.mu.Unlock()
	for _, h := range handlers {
		h(signal.UserName, true)
	}
}

func (tc *TypingCoordinator) expire(conversationID string) {
	tc.mu.Lock()
	if _, ok := tc.remote[conversationID]; !ok {
		tc.mu.Unlock()
		return
	}
	delete(tc.remote, conversationID)
	handlers := tc.snapshotListeners(conversationID)
	tc.mu.Unlock()
	for _, h := range handlers {
		h("", false)
	}
}

func (tc *TypingCoordinator) snapshotListeners(conversationID string) []func(string, bool) {
	handlers := make([]func(string, bool), 0, len(tc.listeners[conversationID]))
	for _, h := range tc.listeners[conversationID] {
		handlers = append(handlers, h)
	}
	return handlers
}

// RemoteTypist returns the current remote typist for a conversation,
// if any.
func (tc *TypingCoordinator) RemoteTypist(conversationID string) (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if r, ok := tc.remote[conversationID]; ok {
		return r.userName, true
	}
	return "", false
}

// Close stops all expiry timers and emits a final typing=false for any
// conversation still marked as locally typing, so the remote side never
// shows a stuck indicator. This exit-path signal is mandatory, not
// best-effort.
func (tc *TypingCoordinator) Close(ctx context.Context) error {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return nil
	}
	tc.closed = true
	pending := make([]string, 0, len(tc.outbound))
	for id := range tc.outbound {
		pending = append(pending, id)
	}
	tc.outbound = make(map[string]bool)
	for _, r := range tc.remote {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	tc.remote = make(map[string]*remoteTyping)
	tc.mu.Unlock()

	var firstErr error
	for _, id := range pending {
		if err := tc.transport.SendTyping(ctx, tc.signal(id, false)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

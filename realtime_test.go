package fixly

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestRealtimeClient() *RealtimeClient {
	return NewRealtimeClient("https://api.example.com", &RealtimeConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func envelope(t *testing.T, eventType string, payload any) RealtimeEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return RealtimeEnvelope{Type: eventType, Payload: data}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

func TestDispatcher(t *testing.T) {
	t.Run("typed handler receives decoded payload", func(t *testing.T) {
		rt := newTestRealtimeClient()

		var got Message
		rt.OnMessage(func(m Message) { got = m })

		rt.dispatcher.dispatch(envelope(t, EventMessage, Message{
			ID: "m1", ConversationID: "conv-a", SenderID: "v", Body: "hi",
		}))
		if got.ID != "m1" || got.Body != "hi" {
			t.Fatalf("handler got %+v", got)
		}
	})

	t.Run("multiple independent subscribers", func(t *testing.T) {
		rt := newTestRealtimeClient()
		a, b := 0, 0
		rt.OnUnreadCount(func(int) { a++ })
		rt.OnUnreadCount(func(int) { b++ })

		rt.dispatcher.dispatch(envelope(t, EventUnreadCount, UnreadCountPayload{Count: 3}))
		if a != 1 || b != 1 {
			t.Fatalf("expected both subscribers called, got %d/%d", a, b)
		}
	})

	t.Run("unsubscribe removes only its handler", func(t *testing.T) {
		rt := newTestRealtimeClient()
		a, b := 0, 0
		unsubA := rt.OnNotification(func(Notification) { a++ })
		rt.OnNotification(func(Notification) { b++ })

		unsubA()
		unsubA() // second call is a no-op

		rt.dispatcher.dispatch(envelope(t, EventNotification, Notification{ID: "n1"}))
		if a != 0 {
			t.Fatal("unsubscribed handler still called")
		}
		if b != 1 {
			t.Fatal("sibling handler lost")
		}
	})

	t.Run("handler may unsubscribe itself during dispatch", func(t *testing.T) {
		rt := newTestRealtimeClient()

		calls := 0
		done := make(chan struct{})
		var unsub Unsubscribe
		unsub = rt.OnMessage(func(Message) {
			calls++
			unsub()
			close(done)
		})

		go rt.dispatcher.dispatch(envelope(t, EventMessage, Message{ID: "m1", ConversationID: "conv-a"}))
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch blocked on a handler unsubscribing itself")
		}

		rt.dispatcher.dispatch(envelope(t, EventMessage, Message{ID: "m2", ConversationID: "conv-a"}))
		if calls != 1 {
			t.Fatalf("handler called %d times after unsubscribing itself", calls)
		}
	})

	t.Run("malformed payload dropped without reaching handlers", func(t *testing.T) {
		rt := newTestRealtimeClient()
		called := false
		rt.OnMessage(func(Message) { called = true })

		rt.dispatcher.dispatch(RealtimeEnvelope{Type: EventMessage, Payload: json.RawMessage(`{"id":`)})
		rt.dispatcher.dispatch(RealtimeEnvelope{Type: EventMessage, Payload: json.RawMessage(`{"body":"no id"}`)})
		if called {
			t.Fatal("malformed payload reached a handler")
		}
	})

	t.Run("generic handler gets raw payload", func(t *testing.T) {
		rt := newTestRealtimeClient()
		var gotType string
		var gotRaw json.RawMessage
		rt.On("custom_event", func(eventType string, payload json.RawMessage) {
			gotType, gotRaw = eventType, payload
		})

		rt.dispatcher.dispatch(RealtimeEnvelope{Type: "custom_event", Payload: json.RawMessage(`{"x":1}`)})
		if gotType != "custom_event" || string(gotRaw) != `{"x":1}` {
			t.Fatalf("got %q %s", gotType, gotRaw)
		}
	})

	t.Run("typing payload without conversation id dropped", func(t *testing.T) {
		rt := newTestRealtimeClient()
		called := false
		rt.OnTyping(func(TypingPayload) { called = true })
		rt.dispatcher.dispatch(envelope(t, EventTyping, TypingPayload{UserName: "x", IsTyping: true}))
		if called {
			t.Fatal("typing signal without conversation id reached a handler")
		}
	})
}

// ============================================================================
// Reconnector
// ============================================================================

func TestReconnector(t *testing.T) {
	cfg := &RealtimeConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
	}

	t.Run("delays grow and stay capped", func(t *testing.T) {
		r := newReconnector(cfg)
		var prev time.Duration
		for i := 0; i < 10; i++ {
			d, attempt := r.nextDelay()
			if attempt != i+1 {
				t.Fatalf("expected attempt %d, got %d", i+1, attempt)
			}
			if d > cfg.ReconnectMaxDelay {
				t.Fatalf("attempt %d: delay %v exceeds cap", i, d)
			}
			if i > 0 && d < prev && d != cfg.ReconnectMaxDelay {
				t.Fatalf("attempt %d: delay %v shrank below %v before hitting the cap", i, d, prev)
			}
			prev = d
		}
		if prev != cfg.ReconnectMaxDelay {
			t.Fatalf("expected delays to converge on the cap, got %v", prev)
		}
	})

	t.Run("attempt counter resets after a long stable connection", func(t *testing.T) {
		r := newReconnector(cfg)
		for i := 0; i < 8; i++ {
			r.nextDelay()
		}
		r.connectedAt = time.Now().Add(-2 * time.Minute)
		if d, _ := r.nextDelay(); d >= 2*cfg.ReconnectBaseDelay {
			t.Fatalf("expected first-attempt delay after stable connection, got %v", d)
		}
	})

	t.Run("attempt cap honored", func(t *testing.T) {
		capped := newReconnector(&RealtimeConfig{
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    time.Second,
			MaxReconnectAttempts: 2,
		})
		if !capped.shouldReconnect() {
			t.Fatal("fresh reconnector must allow attempts")
		}
		capped.nextDelay()
		capped.nextDelay()
		if capped.shouldReconnect() {
			t.Fatal("cap of 2 exceeded")
		}

		unlimited := newReconnector(cfg)
		for i := 0; i < 100; i++ {
			unlimited.nextDelay()
		}
		if !unlimited.shouldReconnect() {
			t.Fatal("zero max attempts means unlimited")
		}
	})

	t.Run("reset restores initial state", func(t *testing.T) {
		r := newReconnector(cfg)
		r.nextDelay()
		r.nextDelay()
		r.markConnected()
		r.reset()
		if r.attempt != 0 || !r.connectedAt.IsZero() {
			t.Fatalf("reset incomplete: attempt=%d connectedAt=%v", r.attempt, r.connectedAt)
		}
	})

	t.Run("safe under concurrent use", func(t *testing.T) {
		// Disconnect resets from the caller's goroutine while the
		// reconnect goroutine is still scheduling; the race detector
		// verifies the locking.
		r := newReconnector(cfg)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					r.nextDelay()
					r.shouldReconnect()
					r.markConnected()
					r.reset()
				}
			}()
		}
		wg.Wait()
	})
}

// ============================================================================
// Client state
// ============================================================================

func TestRealtimeClientState(t *testing.T) {
	t.Run("starts disconnected", func(t *testing.T) {
		rt := newTestRealtimeClient()
		if rt.State() != StateDisconnected {
			t.Fatalf("expected disconnected, got %s", rt.State())
		}
	})

	t.Run("disconnect before connect is a no-op", func(t *testing.T) {
		rt := newTestRealtimeClient()
		fired := false
		rt.OnDisconnected(func(int, string) { fired = true })
		if err := rt.Disconnect(); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		if fired {
			t.Fatal("disconnected event fired without a prior connection")
		}
	})

	t.Run("send without connection fails", func(t *testing.T) {
		rt := newTestRealtimeClient()
		if err := rt.JoinConversation(context.Background(), "conv-a"); err == nil {
			t.Fatal("expected error when not connected")
		}
	})

	t.Run("connect during reconnect cancels the pending loop", func(t *testing.T) {
		rt := NewRealtimeClient("http://127.0.0.1:1", &RealtimeConfig{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})

		// Stand in for a reconnect loop scheduled after a transport
		// drop: its lifetime is the connection context held in cancelFn.
		loopCtx, loopCancel := context.WithCancel(context.Background())
		defer loopCancel()
		rt.mu.Lock()
		rt.state = StateReconnecting
		rt.cancelFn = loopCancel
		rt.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// The dial target is unreachable; only the teardown matters here.
		_ = rt.Connect(ctx, "token-a")

		select {
		case <-loopCtx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("pending reconnect loop left running after explicit Connect")
		}
	})
}

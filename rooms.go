package fixly

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ============================================================================
// Room Membership Tracker
// ============================================================================

// RoomTransport is what the tracker needs from the connection.
// *RealtimeClient satisfies it.
type RoomTransport interface {
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	OnDisconnected(h func(code int, reason string)) Unsubscribe
}

// RoomTracker keeps the set of conversation rooms this connection has
// joined, deduplicating join requests so repeated JoinAll calls never
// send duplicate join verbs.
//
// Policy: all known conversations stay joined simultaneously so unread
// badges and list previews stay live for threads the user is not
// looking at. Leave is only used on logout/teardown, not on navigation.
//
// Membership does not survive a reconnect, so the joined set is reset
// whenever the connection drops; the owner rejoins on the next
// connected event.
type RoomTracker struct {
	rt RoomTransport

	mu     sync.Mutex
	joined map[string]struct{}

	unsubDisconnect Unsubscribe
}

// NewRoomTracker creates a tracker bound to the given connection.
func NewRoomTracker(rt RoomTransport) *RoomTracker {
	t := &RoomTracker{
		rt:     rt,
		joined: make(map[string]struct{}),
	}
	t.unsubDisconnect = rt.OnDisconnected(func(code int, reason string) {
		t.mu.Lock()
		t.joined = make(map[string]struct{})
		t.mu.Unlock()
	})
	return t
}

// Join joins a single conversation room. Already-joined ids are
// skipped.
func (t *RoomTracker) Join(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	t.mu.Lock()
	if _, ok := t.joined[conversationID]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.rt.JoinConversation(ctx, conversationID); err != nil {
		return err
	}
	t.mu.Lock()
	t.joined[conversationID] = struct{}{}
	t.mu.Unlock()
	return nil
}

// JoinAll joins every id not already joined. Safe to call repeatedly
// whenever the known conversation set changes.
func (t *RoomTracker) JoinAll(ctx context.Context, conversationIDs []string) error {
	var errs []error
	for _, id := range conversationIDs {
		if err := t.Join(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Leave leaves a conversation room. Invoked on logout/teardown only.
func (t *RoomTracker) Leave(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	if _, ok := t.joined[conversationID]; !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.joined, conversationID)
	t.mu.Unlock()
	return t.rt.LeaveConversation(ctx, conversationID)
}

// IsJoined reports whether the room is currently joined.
func (t *RoomTracker) IsJoined(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.joined[conversationID]
	return ok
}

// Joined returns the sorted set of currently joined room ids.
func (t *RoomTracker) Joined() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.joined))
	for id := range t.joined {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close releases the tracker's connection subscription.
func (t *RoomTracker) Close() {
	t.unsubDisconnect()
}

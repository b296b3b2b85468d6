package fixly

import (
	"sort"
)

// ============================================================================
// Chat State
// ============================================================================

// ChatState is the client-side view of conversations and messages. It
// is a value: every Apply* operation returns a new snapshot and never
// mutates its input, so a caller can hold the previous state for
// comparison or rendering while folding in the next event.
//
// Order is always sorted by each conversation's LastMessageAt
// descending, ties broken by conversation id ascending. Message lists
// are sorted by CreatedAt then id and deduplicated by id.
type ChatState struct {
	Conversations map[string]Conversation
	Order         []string
	Messages      map[string][]Message
	UnreadTotal   int
}

// NewChatState returns an empty state.
func NewChatState() ChatState {
	return ChatState{
		Conversations: map[string]Conversation{},
		Messages:      map[string][]Message{},
	}
}

// OrderedConversations returns conversations in display order.
func (s ChatState) OrderedConversations() []Conversation {
	out := make([]Conversation, 0, len(s.Order))
	for _, id := range s.Order {
		out = append(out, s.Conversations[id])
	}
	return out
}

// ConversationMessages returns the cached message list for a
// conversation in display order.
func (s ChatState) ConversationMessages(conversationID string) []Message {
	return s.Messages[conversationID]
}

func (s ChatState) clone() ChatState {
	next := ChatState{
		Conversations: make(map[string]Conversation, len(s.Conversations)),
		Order:         append([]string(nil), s.Order...),
		Messages:      make(map[string][]Message, len(s.Messages)),
		UnreadTotal:   s.UnreadTotal,
	}
	for id, c := range s.Conversations {
		next.Conversations[id] = c
	}
	// Slices are shared until an operation rebuilds them; operations
	// never mutate a shared slice in place.
	for id, msgs := range s.Messages {
		next.Messages[id] = msgs
	}
	return next
}

func sortOrder(conversations map[string]Conversation) []string {
	ids := make([]string, 0, len(conversations))
	for id := range conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := conversations[ids[i]], conversations[ids[j]]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
	return ids
}

// mergeMessage inserts msg into list keeping order by CreatedAt then
// id. When the id already exists, the incoming copy replaces it only
// if it carries a newer UpdatedAt or a read receipt; a read flag never
// regresses to unread. Returns the new list and whether the message
// was newly added.
func mergeMessage(list []Message, msg Message) ([]Message, bool) {
	for i, existing := range list {
		if existing.ID != msg.ID {
			continue
		}
		newer := msg.UpdatedAt.After(existing.UpdatedAt) ||
			(msg.ReadAt != nil && existing.ReadAt == nil)
		if !newer {
			return list, false
		}
		merged := msg
		if existing.IsRead && !msg.IsRead {
			merged.IsRead = true
			merged.ReadAt = existing.ReadAt
		}
		out := append([]Message(nil), list...)
		out[i] = merged
		return out, false
	}

	out := append([]Message(nil), list...)
	out = append(out, msg)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, true
}

// ============================================================================
// Reducer Operations
// ============================================================================

// ApplyIncomingMessage folds one pushed (or REST-fetched) message into
// the state. Redelivery of an identical payload is idempotent: no
// duplicate entries, no double-counted unread. A stale message (older
// CreatedAt than the conversation's LastMessageAt) is still added to
// the list for history completeness, but never regresses
// LastMessageAt or the latest-message summary.
func ApplyIncomingMessage(s ChatState, msg Message, currentUserID string) ChatState {
	if msg.ID == "" || msg.ConversationID == "" {
		return s
	}
	next := s.clone()

	merged, added := mergeMessage(next.Messages[msg.ConversationID], msg)
	next.Messages[msg.ConversationID] = merged

	conv, known := next.Conversations[msg.ConversationID]
	if !known {
		conv = Conversation{ID: msg.ConversationID}
	}

	// Guard against out-of-order delivery: a slow or retried push must
	// not overwrite a newer summary.
	if !msg.CreatedAt.Before(conv.LastMessageAt) {
		m := msg
		conv.LatestMessage = &m
		conv.LastMessageAt = msg.CreatedAt
	}

	// Infer "new message not yet seen" without waiting for a separate
	// unread push. Only counts the first delivery.
	if added && msg.SenderID != currentUserID && !msg.IsRead {
		conv.UnreadCount++
		next.UnreadTotal++
	}

	next.Conversations[conv.ID] = conv
	next.Order = sortOrder(next.Conversations)
	return next
}

// ApplyConversationSnapshot upserts a full conversation record, as
// pushed after creation or resync. Metadata is replaced wholesale
// except time-derived fields, which never regress; cached messages are
// kept (lists are merged by id-union, never truncated).
func ApplyConversationSnapshot(s ChatState, conv Conversation) ChatState {
	if conv.ID == "" {
		return s
	}
	next := s.clone()

	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}
	if existing, ok := next.Conversations[conv.ID]; ok {
		if existing.LastMessageAt.After(conv.LastMessageAt) {
			conv.LastMessageAt = existing.LastMessageAt
			conv.LatestMessage = existing.LatestMessage
		}
		next.UnreadTotal += conv.UnreadCount - existing.UnreadCount
	} else {
		next.UnreadTotal += conv.UnreadCount
	}
	if next.UnreadTotal < 0 {
		next.UnreadTotal = 0
	}

	next.Conversations[conv.ID] = conv
	next.Order = sortOrder(next.Conversations)
	return next
}

// ApplyConversationsBulk replaces the entire conversation list, as on
// initial REST load or a full resync. The server list is authoritative
// for membership and unread counts; cached messages are preserved for
// conversations that still exist, and a conversation's LastMessageAt
// never moves backwards past what a live push already established.
func ApplyConversationsBulk(s ChatState, conversations []Conversation) ChatState {
	next := ChatState{
		Conversations: make(map[string]Conversation, len(conversations)),
		Messages:      make(map[string][]Message, len(conversations)),
	}

	total := 0
	for _, conv := range conversations {
		if conv.ID == "" {
			continue
		}
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		if existing, ok := s.Conversations[conv.ID]; ok && existing.LastMessageAt.After(conv.LastMessageAt) {
			conv.LastMessageAt = existing.LastMessageAt
			conv.LatestMessage = existing.LatestMessage
		}
		next.Conversations[conv.ID] = conv
		if cached, ok := s.Messages[conv.ID]; ok {
			next.Messages[conv.ID] = cached
		}
		total += conv.UnreadCount
	}

	next.UnreadTotal = total
	next.Order = sortOrder(next.Conversations)
	return next
}

// ApplyConversationUpdated shallow-merges a partial conversation
// update. Server-pushed unread counts are authoritative and override
// any locally inferred value, resolving drift from optimistic
// bookkeeping.
func ApplyConversationUpdated(s ChatState, patch ConversationPatch) ChatState {
	if patch.ID == "" {
		return s
	}
	conv, ok := s.Conversations[patch.ID]
	if !ok {
		conv = Conversation{ID: patch.ID}
	}
	next := s.clone()

	if patch.UnreadCount != nil {
		count := *patch.UnreadCount
		if count < 0 {
			count = 0
		}
		next.UnreadTotal += count - conv.UnreadCount
		if next.UnreadTotal < 0 {
			next.UnreadTotal = 0
		}
		conv.UnreadCount = count
	}
	if patch.LatestMessage != nil {
		if !patch.LatestMessage.CreatedAt.Before(conv.LastMessageAt) {
			conv.LatestMessage = patch.LatestMessage
			conv.LastMessageAt = patch.LatestMessage.CreatedAt
		}
	}
	if patch.LastMessageAt != nil && patch.LastMessageAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = *patch.LastMessageAt
	}

	next.Conversations[conv.ID] = conv
	next.Order = sortOrder(next.Conversations)
	return next
}

// ApplyHistoryPage merges a REST-fetched page of messages by id-union.
// Unlike ApplyIncomingMessage it never touches unread counts: the
// conversation records fetched alongside already carry the
// authoritative count, and re-counting page contents would double it.
// LastMessageAt still advances (never regresses) if the page contains
// something newer than what push delivered.
func ApplyHistoryPage(s ChatState, conversationID string, page []Message) ChatState {
	if conversationID == "" || len(page) == 0 {
		return s
	}
	next := s.clone()

	list := next.Messages[conversationID]
	for _, msg := range page {
		if msg.ID == "" {
			continue
		}
		list, _ = mergeMessage(list, msg)
	}
	next.Messages[conversationID] = list

	conv, known := next.Conversations[conversationID]
	if !known {
		conv = Conversation{ID: conversationID}
	}
	for _, msg := range page {
		if !msg.CreatedAt.Before(conv.LastMessageAt) && !msg.CreatedAt.IsZero() {
			m := msg
			conv.LatestMessage = &m
			conv.LastMessageAt = msg.CreatedAt
		}
	}
	next.Conversations[conversationID] = conv
	next.Order = sortOrder(next.Conversations)
	return next
}

// ReconcileLocalMessage swaps an optimistic local message for the
// server's acknowledged copy.
func ReconcileLocalMessage(s ChatState, conversationID, localID string, server Message) ChatState {
	next := RemoveMessage(s, conversationID, localID)
	return ApplyIncomingMessage(next, server, server.SenderID)
}

// RemoveMessage drops a message from a conversation's cached list,
// typically a failed optimistic send. Conversation metadata is left
// untouched.
func RemoveMessage(s ChatState, conversationID, messageID string) ChatState {
	list, ok := s.Messages[conversationID]
	if !ok {
		return s
	}
	idx := -1
	for i, m := range list {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	next := s.clone()
	out := make([]Message, 0, len(list)-1)
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)
	next.Messages[conversationID] = out
	return next
}

// ApplyUnreadCountPush sets the authoritative account-wide unread
// total, overriding any locally accumulated sum.
func ApplyUnreadCountPush(s ChatState, count int) ChatState {
	if count < 0 {
		count = 0
	}
	next := s.clone()
	next.UnreadTotal = count
	return next
}

// MarkConversationRead zeroes a conversation's unread count and marks
// all its cached messages read. This is the local optimistic half of
// mark-as-read; a later authoritative push wins if the server
// disagrees.
func MarkConversationRead(s ChatState, conversationID string) ChatState {
	conv, ok := s.Conversations[conversationID]
	if !ok {
		return s
	}
	next := s.clone()

	next.UnreadTotal -= conv.UnreadCount
	if next.UnreadTotal < 0 {
		next.UnreadTotal = 0
	}
	conv.UnreadCount = 0
	if conv.LatestMessage != nil {
		m := *conv.LatestMessage
		m.IsRead = true
		conv.LatestMessage = &m
	}
	next.Conversations[conversationID] = conv

	if msgs := next.Messages[conversationID]; len(msgs) > 0 {
		out := make([]Message, len(msgs))
		for i, m := range msgs {
			m.IsRead = true
			out[i] = m
		}
		next.Messages[conversationID] = out
	}
	return next
}

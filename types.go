package fixly

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic API response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Identity Types
// ============================================================================

// User identifies a marketplace account (admin, vendor, technician or
// customer — the SDK does not care which).
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Session holds the current identity plus the bearer credential used
// for REST calls and socket authentication. Created on login, replaced
// on token refresh, destroyed on logout.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// ============================================================================
// Messaging Types
// ============================================================================

// Message belongs to exactly one conversation. Messages are unique per
// id within a conversation; display order is by CreatedAt, ties broken
// by id.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName,omitempty"`
	Body           string     `json:"body"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt,omitempty"`
}

// Participant is one side of a conversation.
type Participant struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Conversation is a two-party thread between a customer and a vendor
// (or support). UnreadCount is never negative; LastMessageAt is
// monotonically non-decreasing under merge.
type Conversation struct {
	ID            string        `json:"id"`
	Participants  []Participant `json:"participants,omitempty"`
	LatestMessage *Message      `json:"latestMessage,omitempty"`
	UnreadCount   int           `json:"unreadCount"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
	CreatedAt     time.Time     `json:"createdAt,omitempty"`
}

// ConversationPatch is a partial conversation update pushed by the
// server (conversation_updated). Pointer fields distinguish "absent"
// from zero values.
type ConversationPatch struct {
	ID            string     `json:"id"`
	UnreadCount   *int       `json:"unreadCount,omitempty"`
	LatestMessage *Message   `json:"latestMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// ============================================================================
// Notification Types
// ============================================================================

// Notification is an account-level alert (booking update, refund
// decision, payout and so on) delivered to the user's private channel.
type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	IsRead    bool       `json:"isRead"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// ============================================================================
// Realtime Payload Types
// ============================================================================

// AuthenticatedPayload is sent once the socket session is bound to a
// user id for private-channel delivery.
type AuthenticatedPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// TypingPayload is the ephemeral typing signal. It has no identity
// beyond "most recent wins" and is never persisted.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserEmail      string `json:"userEmail"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// UnreadCountPayload carries the authoritative account-wide unread
// total.
type UnreadCountPayload struct {
	Count int `json:"count"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RealtimeEnvelope is the wire format for all realtime events.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RealtimeCommand is a client-to-server verb (authenticate,
// join_conversation, leave_conversation, typing).
type RealtimeCommand struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ============================================================================
// Request Options
// ============================================================================

// PageOptions selects a page of results.
type PageOptions struct {
	Limit  int
	Before time.Time
}

// SendMessageOptions configures Messages.Send.
type SendMessageOptions struct {
	// ClientID carries the optimistic local id so the server echo can
	// be reconciled against the pending entry.
	ClientID string `json:"clientId,omitempty"`
}

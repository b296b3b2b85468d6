// Package fixly — inbox synchronization.
//
// One consistent client-side view of
// conversations, messages and notifications, fed by REST for initial
// population and pagination and by the realtime connection for live
// updates. All push events and REST responses fold through the pure
// reducers in store.go and notifications.go.
package fixly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InboxOptions configures an InboxManager.
type InboxOptions struct {
	// PageSize is the message history page size. Defaults to 50.
	PageSize int
	// TypingExpiry overrides the typing indicator auto-clear window.
	TypingExpiry time.Duration
	Logger       *slog.Logger
}

// InboxManager wires the realtime connection, room tracker, typing
// coordinator and reducers together. It is the single source of truth
// a UI renders from.
//
// The manager shares the connection with any other subscriber: it
// registers its own handlers, pairs every registration with an
// unsubscribe on Close, and never assumes exclusive ownership. Close
// releases the manager's resources but deliberately leaves the
// connection and its room memberships alive — only logout tears the
// connection down.
type InboxManager struct {
	client *Client
	rt     *RealtimeClient
	rooms  *RoomTracker
	typing *TypingCoordinator
	logger *slog.Logger

	pageSize     int
	typingExpiry time.Duration

	mu        sync.Mutex
	chat      ChatState
	notif     NotificationState
	self      User
	started   bool
	listeners map[subID]func()
	nextID    subID

	unsubs []Unsubscribe
}

// NewInboxManager creates a manager over the given REST client and
// realtime connection.
func NewInboxManager(client *Client, rt *RealtimeClient, opts *InboxOptions) *InboxManager {
	m := &InboxManager{
		client:    client,
		rt:        rt,
		logger:    slog.Default(),
		pageSize:  50,
		chat:      NewChatState(),
		notif:     NewNotificationState(),
		listeners: make(map[subID]func()),
	}
	if opts != nil {
		if opts.PageSize > 0 {
			m.pageSize = opts.PageSize
		}
		if opts.Logger != nil {
			m.logger = opts.Logger
		}
		m.typingExpiry = opts.TypingExpiry
	}
	return m
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Start resolves the session identity, connects and authenticates the
// socket, performs the initial REST load, and joins a room for every
// known conversation. Safe to call once per manager.
func (m *InboxManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	me, err := m.client.Auth().Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve session identity: %w", err)
	}
	m.mu.Lock()
	m.self = *me
	m.mu.Unlock()

	var typingOpts *TypingOptions
	if m.typingExpiry > 0 {
		typingOpts = &TypingOptions{Expiry: m.typingExpiry}
	}
	m.typing = NewTypingCoordinator(m.rt, *me, typingOpts)
	m.rooms = NewRoomTracker(m.rt)

	m.subscribe()

	if err := m.rt.Connect(ctx, m.client.currentToken()); err != nil {
		return err
	}
	return m.Load(ctx)
}

func (m *InboxManager) subscribe() {
	m.unsubs = append(m.unsubs,
		m.rt.OnMessage(m.handleMessage),
		m.rt.OnConversation(m.handleConversation),
		m.rt.OnConversations(m.handleConversations),
		m.rt.OnConversationUpdated(m.handleConversationUpdated),
		m.rt.OnUnreadCount(m.handleUnreadCount),
		m.rt.OnNotification(m.handleNotification),
		m.rt.OnTyping(m.typing.HandleSignal),
		m.rt.OnConnected(m.handleConnected),
	)
}

// Load (re)populates state from REST and joins all known rooms.
func (m *InboxManager) Load(ctx context.Context) error {
	conversations, err := m.client.Conversations().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	m.mu.Lock()
	m.chat = ApplyConversationsBulk(m.chat, conversations)
	ids := append([]string(nil), m.chat.Order...)
	m.mu.Unlock()
	m.notifyChanged()

	if err := m.rooms.JoinAll(ctx, ids); err != nil {
		m.logger.Warn("joining conversation rooms", "err", err)
	}

	notifications, err := m.client.Notifications().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	count, err := m.client.Notifications().UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("load unread count: %w", err)
	}
	m.mu.Lock()
	m.notif = ReplaceAll(m.notif, notifications)
	m.notif = ApplyUnreadBadge(m.notif, count)
	m.mu.Unlock()
	m.notifyChanged()
	return nil
}

// Close releases the manager's subscriptions and emits the mandatory
// final stop-typing signal. It does not close the connection or leave
// rooms; call Logout for full teardown.
func (m *InboxManager) Close(ctx context.Context) error {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	var err error
	if m.typing != nil {
		err = m.typing.Close(ctx)
	}
	if m.rooms != nil {
		m.rooms.Close()
	}
	return err
}

// Logout closes the manager and tears down the connection, clearing
// all room memberships.
func (m *InboxManager) Logout(ctx context.Context) error {
	err := m.Close(ctx)
	if dErr := m.rt.Disconnect(); dErr != nil && err == nil {
		err = dErr
	}
	return err
}

// ── Accessors ────────────────────────────────────────────────────────

// ChatState returns the current chat snapshot.
func (m *InboxManager) ChatState() ChatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chat
}

// NotificationState returns the current notification snapshot.
func (m *InboxManager) NotificationState() NotificationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notif
}

// Self returns the session identity resolved at Start.
func (m *InboxManager) Self() User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Typing returns the typing coordinator. Nil before Start.
func (m *InboxManager) Typing() *TypingCoordinator { return m.typing }

// Rooms returns the room tracker. Nil before Start.
func (m *InboxManager) Rooms() *RoomTracker { return m.rooms }

// OnChange registers a callback invoked after every state fold.
func (m *InboxManager) OnChange(h func()) Unsubscribe {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = h
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *InboxManager) notifyChanged() {
	m.mu.Lock()
	handlers := make([]func(), 0, len(m.listeners))
	for _, h := range m.listeners {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// ── Push handlers ────────────────────────────────────────────────────

func (m *InboxManager) handleMessage(msg Message) {
	m.mu.Lock()
	_, known := m.chat.Conversations[msg.ConversationID]
	m.chat = ApplyIncomingMessage(m.chat, msg, m.self.ID)
	m.mu.Unlock()
	m.notifyChanged()

	// A push referencing an unseen conversation means a thread was
	// started elsewhere; join its room so follow-ups arrive too.
	if !known {
		if err := m.rooms.Join(context.Background(), msg.ConversationID); err != nil {
			m.logger.Warn("joining room for new conversation", "conversation", msg.ConversationID, "err", err)
		}
	}
}

func (m *InboxManager) handleConversation(conv Conversation) {
	m.mu.Lock()
	m.chat = ApplyConversationSnapshot(m.chat, conv)
	m.mu.Unlock()
	m.notifyChanged()

	if err := m.rooms.Join(context.Background(), conv.ID); err != nil {
		m.logger.Warn("joining room", "conversation", conv.ID, "err", err)
	}
}

func (m *InboxManager) handleConversations(conversations []Conversation) {
	m.mu.Lock()
	m.chat = ApplyConversationsBulk(m.chat, conversations)
	ids := append([]string(nil), m.chat.Order...)
	m.mu.Unlock()
	m.notifyChanged()

	if err := m.rooms.JoinAll(context.Background(), ids); err != nil {
		m.logger.Warn("joining conversation rooms", "err", err)
	}
}

func (m *InboxManager) handleConversationUpdated(patch ConversationPatch) {
	m.mu.Lock()
	m.chat = ApplyConversationUpdated(m.chat, patch)
	m.mu.Unlock()
	m.notifyChanged()
}

func (m *InboxManager) handleUnreadCount(count int) {
	m.mu.Lock()
	m.chat = ApplyUnreadCountPush(m.chat, count)
	m.mu.Unlock()
	m.notifyChanged()
}

func (m *InboxManager) handleNotification(n Notification) {
	m.mu.Lock()
	m.notif = ApplyIncomingNotification(m.notif, n)
	m.mu.Unlock()
	m.notifyChanged()
}

// handleConnected rejoins every known room after a reconnect; server
// side membership does not survive the old connection.
func (m *InboxManager) handleConnected() {
	m.mu.Lock()
	ids := append([]string(nil), m.chat.Order...)
	m.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	if err := m.rooms.JoinAll(context.Background(), ids); err != nil {
		m.logger.Warn("rejoining rooms after reconnect", "err", err)
	}
}

// ── User actions ─────────────────────────────────────────────────────

// OpenConversation joins the room and loads the first history page.
// Navigating away later must NOT leave the room: the list preview and
// unread badge stay live for closed threads.
func (m *InboxManager) OpenConversation(ctx context.Context, conversationID string) error {
	if err := m.rooms.Join(ctx, conversationID); err != nil {
		return err
	}
	return m.LoadHistory(ctx, conversationID, &PageOptions{Limit: m.pageSize})
}

// LoadHistory fetches a message page and merges it by id-union with
// whatever live push already delivered.
func (m *InboxManager) LoadHistory(ctx context.Context, conversationID string, opts *PageOptions) error {
	page, err := m.client.Messages().History(ctx, conversationID, opts)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	m.mu.Lock()
	m.chat = ApplyHistoryPage(m.chat, conversationID, page)
	m.mu.Unlock()
	m.notifyChanged()
	return nil
}

// SendMessage applies an optimistic local message, posts it, and
// reconciles against the server's acknowledged copy. On failure the
// optimistic entry is rolled back and the error returned for inline
// display.
func (m *InboxManager) SendMessage(ctx context.Context, conversationID, body string) (*Message, error) {
	m.mu.Lock()
	local := Message{
		ID:             "local-" + ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       m.self.ID,
		SenderName:     m.self.DisplayName,
		Body:           body,
		IsRead:         true,
		CreatedAt:      time.Now().UTC(),
	}
	m.chat = ApplyIncomingMessage(m.chat, local, m.self.ID)
	m.mu.Unlock()
	m.notifyChanged()

	server, err := m.client.Messages().Send(ctx, conversationID, body, &SendMessageOptions{ClientID: local.ID})
	if err != nil {
		m.mu.Lock()
		m.chat = RemoveMessage(m.chat, conversationID, local.ID)
		m.mu.Unlock()
		m.notifyChanged()
		return nil, err
	}

	m.mu.Lock()
	m.chat = ReconcileLocalMessage(m.chat, conversationID, local.ID, *server)
	m.mu.Unlock()
	m.notifyChanged()
	return server, nil
}

// MarkConversationRead zeroes the unread count locally and tells the
// server. A later authoritative push wins if the server disagrees, so
// a REST failure here is logged rather than rolled back.
func (m *InboxManager) MarkConversationRead(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	m.chat = MarkConversationRead(m.chat, conversationID)
	m.mu.Unlock()
	m.notifyChanged()

	if err := m.client.Conversations().MarkRead(ctx, conversationID); err != nil {
		m.logger.Warn("mark conversation read", "conversation", conversationID, "err", err)
		return err
	}
	return nil
}

// MarkNotificationRead flips one notification locally and tells the
// server.
func (m *InboxManager) MarkNotificationRead(ctx context.Context, notificationID string) error {
	m.mu.Lock()
	m.notif = ApplyMarkRead(m.notif, notificationID, time.Now().UTC())
	m.mu.Unlock()
	m.notifyChanged()

	if err := m.client.Notifications().MarkRead(ctx, notificationID); err != nil {
		m.logger.Warn("mark notification read", "notification", notificationID, "err", err)
		return err
	}
	return nil
}

// MarkAllNotificationsRead flips every notification locally and tells
// the server.
func (m *InboxManager) MarkAllNotificationsRead(ctx context.Context) error {
	m.mu.Lock()
	m.notif = ApplyMarkAllRead(m.notif, time.Now().UTC())
	m.mu.Unlock()
	m.notifyChanged()

	if err := m.client.Notifications().MarkAllRead(ctx); err != nil {
		m.logger.Warn("mark all notifications read", "err", err)
		return err
	}
	return nil
}

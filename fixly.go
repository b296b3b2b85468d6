// Package fixly provides the official Go SDK for the Fixly services
// marketplace API: conversation and notification REST wrappers plus a
// realtime synchronization layer that keeps a client-side inbox
// consistent with server push.
//
// Example:
//
//	client := fixly.NewClient("fx-token-...")
//
//	// REST
//	convos, _ := client.Conversations().List(ctx, nil)
//	client.Messages().Send(ctx, "conv-1", "On my way!", nil)
//
//	// Realtime inbox (REST + push, one consistent view)
//	inbox := fixly.NewInboxManager(client, client.Realtime(nil), nil)
//	inbox.Start(ctx)
//	defer inbox.Close(ctx)
package fixly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.fixly.app",
	Staging:    "https://api.staging.fixly.app",
}

const (
	DefaultBaseURL = "https://api.fixly.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the Fixly REST client. Sub-clients group the API surface:
// Auth, Conversations, Messages, Notifications.
type Client struct {
	token       string
	baseURL     string
	httpClient  *http.Client
	credentials CredentialStore

	auth          *AuthClient
	conversations *ConversationsClient
	messages      *MessagesClient
	notifications *NotificationsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithCredentialStore reads the bearer credential from the store
// before each request instead of using a static token.
func WithCredentialStore(store CredentialStore) ClientOption {
	return func(c *Client) { c.credentials = store }
}

// NewClient creates a new Fixly client. token may be "" when a
// credential store is configured or when only login is needed.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auth = &AuthClient{client: c}
	c.conversations = &ConversationsClient{client: c}
	c.messages = &MessagesClient{client: c}
	c.notifications = &NotificationsClient{client: c}
	return c
}

// SetToken sets or replaces the static auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// currentToken resolves the credential for the next request: the
// store, when configured, wins over the static token.
func (c *Client) currentToken() string {
	if c.credentials != nil {
		if t := c.credentials.Token(); t != "" {
			return t
		}
	}
	return c.token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Auth returns the authentication sub-client.
func (c *Client) Auth() *AuthClient { return c.auth }

// Conversations returns the conversations sub-client.
func (c *Client) Conversations() *ConversationsClient { return c.conversations }

// Messages returns the messages sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// Notifications returns the notifications sub-client.
func (c *Client) Notifications() *NotificationsClient { return c.notifications }

// Realtime creates a realtime client against the same base URL. Call
// Connect with the session credential to establish the connection.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	return NewRealtimeClient(c.baseURL, config)
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if !opts.Before.IsZero() {
		q["before"] = opts.Before.UTC().Format(time.RFC3339Nano)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Auth Sub-Client
// ============================================================================

// AuthClient handles login and session identity.
type AuthClient struct{ client *Client }

// Login exchanges credentials for a session. On success the token is
// written to the credential store when one is configured.
func (a *AuthClient) Login(ctx context.Context, email, password string) (*Session, error) {
	result, err := a.client.do(ctx, "POST", "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "login failed")
	}
	var session Session
	if err := result.Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if a.client.credentials != nil {
		if err := a.client.credentials.SetToken(session.Token); err != nil {
			return nil, fmt.Errorf("failed to cache credential: %w", err)
		}
	}
	return &session, nil
}

// Me returns the current session identity.
func (a *AuthClient) Me(ctx context.Context) (*User, error) {
	result, err := a.client.do(ctx, "GET", "/api/auth/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "me failed")
	}
	var user User
	if err := result.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// Refresh exchanges the current credential for a fresh one.
func (a *AuthClient) Refresh(ctx context.Context) (*Session, error) {
	result, err := a.client.do(ctx, "POST", "/api/auth/refresh", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "refresh failed")
	}
	var session Session
	if err := result.Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if a.client.credentials != nil {
		if err := a.client.credentials.SetToken(session.Token); err != nil {
			return nil, fmt.Errorf("failed to cache credential: %w", err)
		}
	}
	return &session, nil
}

// Logout clears the cached credential. The session itself is
// invalidated server-side.
func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.client.do(ctx, "POST", "/api/auth/logout", nil, nil)
	if a.client.credentials != nil {
		if clearErr := a.client.credentials.Clear(); clearErr != nil && err == nil {
			err = clearErr
		}
	}
	return err
}

// ============================================================================
// Conversations Sub-Client
// ============================================================================

// ConversationsClient handles conversation list, detail and read
// state.
type ConversationsClient struct{ client *Client }

// List fetches the conversation list, most recent activity first.
func (cv *ConversationsClient) List(ctx context.Context, opts *PageOptions) ([]Conversation, error) {
	result, err := cv.client.do(ctx, "GET", "/api/conversations", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "conversation list failed")
	}
	var conversations []Conversation
	if err := result.Decode(&conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

// Get fetches one conversation.
func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	result, err := cv.client.do(ctx, "GET", "/api/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "conversation fetch failed")
	}
	var conversation Conversation
	if err := result.Decode(&conversation); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conversation, nil
}

// MarkRead marks every message in the conversation as read.
func (cv *ConversationsClient) MarkRead(ctx context.Context, conversationID string) error {
	result, err := cv.client.do(ctx, "POST", "/api/conversations/"+conversationID+"/read", nil, nil)
	if err != nil {
		return err
	}
	if !result.OK {
		return apiErr(result, "mark read failed")
	}
	return nil
}

// ============================================================================
// Messages Sub-Client
// ============================================================================

// MessagesClient handles message history and sending.
type MessagesClient struct{ client *Client }

// History fetches a page of a conversation's messages, oldest first
// within the page.
func (m *MessagesClient) History(ctx context.Context, conversationID string, opts *PageOptions) ([]Message, error) {
	result, err := m.client.do(ctx, "GET", "/api/conversations/"+conversationID+"/messages", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "message history failed")
	}
	var messages []Message
	if err := result.Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// Send posts a message and returns the server's copy.
func (m *MessagesClient) Send(ctx context.Context, conversationID, body string, opts *SendMessageOptions) (*Message, error) {
	payload := map[string]string{"body": body}
	if opts != nil && opts.ClientID != "" {
		payload["clientId"] = opts.ClientID
	}
	result, err := m.client.do(ctx, "POST", "/api/conversations/"+conversationID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "send message failed")
	}
	var message Message
	if err := result.Decode(&message); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &message, nil
}

// ============================================================================
// Notifications Sub-Client
// ============================================================================

// NotificationsClient handles account-level notifications.
//
// Read operations short-circuit to empty results when no credential is
// available instead of raising — the notification bell renders before
// login resolves and must not error.
type NotificationsClient struct{ client *Client }

// List fetches notifications, newest first. Returns an empty list
// without a network call when no credential is cached.
func (n *NotificationsClient) List(ctx context.Context, opts *PageOptions) ([]Notification, error) {
	if n.client.currentToken() == "" {
		return nil, nil
	}
	result, err := n.client.do(ctx, "GET", "/api/notifications", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, apiErr(result, "notification list failed")
	}
	var notifications []Notification
	if err := result.Decode(&notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

// UnreadCount fetches the unread badge count. Returns zero without a
// network call when no credential is cached.
func (n *NotificationsClient) UnreadCount(ctx context.Context) (int, error) {
	if n.client.currentToken() == "" {
		return 0, nil
	}
	result, err := n.client.do(ctx, "GET", "/api/notifications/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	if !result.OK {
		return 0, apiErr(result, "unread count failed")
	}
	var payload UnreadCountPayload
	if err := result.Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode unread count: %w", err)
	}
	return payload.Count, nil
}

// MarkRead marks one notification as read.
func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) error {
	result, err := n.client.do(ctx, "POST", "/api/notifications/"+notificationID+"/read", nil, nil)
	if err != nil {
		return err
	}
	if !result.OK {
		return apiErr(result, "mark notification read failed")
	}
	return nil
}

// MarkAllRead marks every notification as read.
func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	result, err := n.client.do(ctx, "POST", "/api/notifications/read-all", nil, nil)
	if err != nil {
		return err
	}
	if !result.OK {
		return apiErr(result, "mark all read failed")
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func apiErr(result *APIResult, fallback string) error {
	if result.Error != nil {
		return result.Error
	}
	return fmt.Errorf("%s", fallback)
}

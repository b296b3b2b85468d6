package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	fixly "github.com/fixly-app/fixly-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// inbox list
	inboxListUnread bool
	inboxListJSON   bool

	// inbox messages
	inboxMessagesLimit int
	inboxMessagesJSON  bool

	// inbox send
	inboxSendJSON bool
)

// ============================================================================
// Root inbox command
// ============================================================================

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Conversation commands",
	Long:  "Browse conversations, read message history, send messages, and watch the inbox live.",
}

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.AddCommand(inboxListCmd)
	inboxCmd.AddCommand(inboxMessagesCmd)
	inboxCmd.AddCommand(inboxSendCmd)
	inboxCmd.AddCommand(inboxReadCmd)
	inboxCmd.AddCommand(inboxWatchCmd)

	inboxListCmd.Flags().BoolVar(&inboxListUnread, "unread", false, "Only show conversations with unread messages")
	inboxListCmd.Flags().BoolVar(&inboxListJSON, "json", false, "Output raw JSON")
	inboxMessagesCmd.Flags().IntVar(&inboxMessagesLimit, "limit", 50, "Maximum number of messages")
	inboxMessagesCmd.Flags().BoolVar(&inboxMessagesJSON, "json", false, "Output raw JSON")
	inboxSendCmd.Flags().BoolVar(&inboxSendJSON, "json", false, "Output raw JSON")
}

// ============================================================================
// inbox list
// ============================================================================

var inboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		cfg, _ := loadConfig()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conversations, err := client.Conversations().List(ctx, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if inboxListJSON {
			return json.NewEncoder(os.Stdout).Encode(conversations)
		}

		shown := 0
		for _, conv := range conversations {
			if inboxListUnread && conv.UnreadCount == 0 {
				continue
			}
			shown++
			marker := " "
			if conv.UnreadCount > 0 {
				marker = fmt.Sprintf("%d", conv.UnreadCount)
			}
			preview := ""
			if conv.LatestMessage != nil {
				preview = truncate(conv.LatestMessage.Body, 48)
			}
			fmt.Printf("%-2s %-24s %-14s %s\n",
				marker, truncate(otherParty(conv, cfg.Auth.UserID), 24),
				formatWhen(conv.LastMessageAt), preview)
			fmt.Printf("   id: %s\n", conv.ID)
		}
		if shown == 0 {
			fmt.Println("No conversations.")
		}
		return nil
	},
}

// ============================================================================
// inbox messages
// ============================================================================

var inboxMessagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show message history for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		messages, err := client.Messages().History(ctx, args[0], &fixly.PageOptions{Limit: inboxMessagesLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if inboxMessagesJSON {
			return json.NewEncoder(os.Stdout).Encode(messages)
		}

		for _, msg := range messages {
			name := msg.SenderName
			if name == "" {
				name = msg.SenderID
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("Jan 2 15:04"), name, msg.Body)
		}
		if len(messages) == 0 {
			fmt.Println("No messages.")
		}
		return nil
	},
}

// ============================================================================
// inbox send
// ============================================================================

var inboxSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := client.Messages().Send(ctx, args[0], args[1], nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if inboxSendJSON {
			return json.NewEncoder(os.Stdout).Encode(msg)
		}

		fmt.Printf("Message sent to conversation %s\n", msg.ConversationID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Body:       %s\n", msg.Body)
		return nil
	},
}

// ============================================================================
// inbox read
// ============================================================================

var inboxReadCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark every message in a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Conversations().MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Conversation marked read.")
		return nil
	},
}

// ============================================================================
// inbox watch
// ============================================================================

var inboxWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream inbox activity live",
	Long:  "Connect to the realtime API and print messages, typing indicators, and notifications as they arrive. Press Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		rt := client.Realtime(nil)

		unsubs := []fixly.Unsubscribe{
			rt.OnMessage(func(msg fixly.Message) {
				name := msg.SenderName
				if name == "" {
					name = msg.SenderID
				}
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), name, msg.Body)
			}),
			rt.OnTyping(func(signal fixly.TypingPayload) {
				if signal.IsTyping {
					fmt.Printf("... %s is typing in %s\n", signal.UserName, signal.ConversationID)
				}
			}),
			rt.OnNotification(func(n fixly.Notification) {
				fmt.Printf("*** %s: %s\n", n.Title, n.Message)
			}),
			rt.OnUnreadCount(func(count int) {
				fmt.Printf("--- unread total: %d\n", count)
			}),
			rt.OnReconnecting(func(attempt int, delay time.Duration) {
				fmt.Fprintf(os.Stderr, "Reconnecting (attempt %d) in %s...\n", attempt, delay)
			}),
			rt.OnError(func(e fixly.RealtimeErrorPayload) {
				fmt.Fprintf(os.Stderr, "Realtime error: %s\n", e.Message)
			}),
		}
		defer func() {
			for _, unsub := range unsubs {
				unsub()
			}
		}()

		inbox := fixly.NewInboxManager(client, rt, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := inbox.Start(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("cannot start inbox: %w", err)
		}
		defer inbox.Logout(context.Background())

		state := inbox.ChatState()
		fmt.Printf("Watching %d conversations (unread: %d). Press Ctrl-C to stop.\n",
			len(state.Order), state.UnreadTotal)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nStopping.")
		return nil
	},
}

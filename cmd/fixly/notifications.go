package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	notificationsListUnread bool
	notificationsListJSON   bool
)

// ============================================================================
// Root notifications command
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Account notification commands",
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsCountCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)

	notificationsListCmd.Flags().BoolVar(&notificationsListUnread, "unread", false, "Only show unread notifications")
	notificationsListCmd.Flags().BoolVar(&notificationsListJSON, "json", false, "Output raw JSON")
}

// ============================================================================
// notifications list
// ============================================================================

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		notifications, err := client.Notifications().List(ctx, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if notificationsListJSON {
			return json.NewEncoder(os.Stdout).Encode(notifications)
		}

		shown := 0
		for _, n := range notifications {
			if notificationsListUnread && n.IsRead {
				continue
			}
			shown++
			marker := " "
			if !n.IsRead {
				marker = "*"
			}
			fmt.Printf("%s %-14s %s\n", marker, formatWhen(n.CreatedAt), n.Title)
			if n.Message != "" {
				fmt.Printf("    %s\n", truncate(n.Message, 72))
			}
			fmt.Printf("    id: %s\n", n.ID)
		}
		if shown == 0 {
			fmt.Println("No notifications.")
		}
		return nil
	},
}

// ============================================================================
// notifications count
// ============================================================================

var notificationsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the unread badge count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		count, err := client.Notifications().UnreadCount(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println(count)
		return nil
	},
}

// ============================================================================
// notifications read / read-all
// ============================================================================

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications().MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Notification marked read.")
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications().MarkAllRead(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("All notifications marked read.")
		return nil
	},
}

package main

import (
	"fmt"
	"os"
	"time"

	fixly "github.com/fixly-app/fixly-go"
)

// getClient creates a Fixly client authenticated with the cached
// session token.
func getClient() *fixly.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'fixly login <email>' first.")
		os.Exit(1)
	}
	return fixly.NewClient(cfg.Auth.Token, clientOptions(cfg)...)
}

// getAnonClient creates an unauthenticated client (login only).
func getAnonClient() *fixly.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return fixly.NewClient("", clientOptions(cfg)...)
}

func clientOptions(cfg *Config) []fixly.ClientOption {
	var opts []fixly.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, fixly.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, fixly.WithEnvironment(fixly.Environment(cfg.Default.Environment)))
	}
	return opts
}

// formatWhen renders a timestamp relative to now for list output.
func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("Jan 2 15:04")
	}
}

// otherParty picks the display name of the non-local participant.
func otherParty(conv fixly.Conversation, selfID string) string {
	for _, p := range conv.Participants {
		if p.UserID != selfID {
			return p.DisplayName
		}
	}
	if conv.LatestMessage != nil && conv.LatestMessage.SenderID != selfID {
		return conv.LatestMessage.SenderName
	}
	return conv.ID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

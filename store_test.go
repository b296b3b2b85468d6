package fixly

import (
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func testMessage(id, convID, senderID string, createdAt time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		Body:           "body of " + id,
		CreatedAt:      createdAt,
	}
}

func testConversation(id string, unread int, lastAt time.Time) Conversation {
	return Conversation{ID: id, UnreadCount: unread, LastMessageAt: lastAt}
}

func assertOrdered(t *testing.T, s ChatState) {
	t.Helper()
	for i := 1; i < len(s.Order); i++ {
		a := s.Conversations[s.Order[i-1]]
		b := s.Conversations[s.Order[i]]
		if a.LastMessageAt.Before(b.LastMessageAt) {
			t.Fatalf("order violated: %s (%v) before %s (%v)", a.ID, a.LastMessageAt, b.ID, b.LastMessageAt)
		}
		if a.LastMessageAt.Equal(b.LastMessageAt) && a.ID > b.ID {
			t.Fatalf("tie-break violated: %s before %s", a.ID, b.ID)
		}
	}
}

// ============================================================================
// ApplyIncomingMessage
// ============================================================================

func TestApplyIncomingMessage(t *testing.T) {
	t.Run("creates unseen conversation", func(t *testing.T) {
		s := NewChatState()
		s = ApplyIncomingMessage(s, testMessage("m1", "conv-a", "vendor-1", at(10)), "me")

		conv, ok := s.Conversations["conv-a"]
		if !ok {
			t.Fatal("expected conversation to be created")
		}
		if conv.UnreadCount != 1 {
			t.Fatalf("expected unread 1, got %d", conv.UnreadCount)
		}
		if !conv.LastMessageAt.Equal(at(10)) {
			t.Fatalf("expected lastMessageAt %v, got %v", at(10), conv.LastMessageAt)
		}
		if conv.LatestMessage == nil || conv.LatestMessage.ID != "m1" {
			t.Fatal("expected latest message summary m1")
		}
		if len(s.ConversationMessages("conv-a")) != 1 {
			t.Fatal("expected one cached message")
		}
		if s.UnreadTotal != 1 {
			t.Fatalf("expected unread total 1, got %d", s.UnreadTotal)
		}
	})

	t.Run("idempotent redelivery", func(t *testing.T) {
		msg := testMessage("m1", "conv-a", "vendor-1", at(10))
		s := NewChatState()
		once := ApplyIncomingMessage(s, msg, "me")
		twice := ApplyIncomingMessage(once, msg, "me")

		if len(twice.ConversationMessages("conv-a")) != 1 {
			t.Fatalf("expected 1 message, got %d", len(twice.ConversationMessages("conv-a")))
		}
		if twice.Conversations["conv-a"].UnreadCount != once.Conversations["conv-a"].UnreadCount {
			t.Fatal("redelivery must not double-increment unread")
		}
		if twice.UnreadTotal != once.UnreadTotal {
			t.Fatal("redelivery must not double-increment unread total")
		}
	})

	t.Run("own messages never count as unread", func(t *testing.T) {
		s := NewChatState()
		s = ApplyIncomingMessage(s, testMessage("m1", "conv-a", "me", at(10)), "me")
		if s.Conversations["conv-a"].UnreadCount != 0 {
			t.Fatal("own message must not increment unread")
		}
	})

	t.Run("already-read messages never count as unread", func(t *testing.T) {
		msg := testMessage("m1", "conv-a", "vendor-1", at(10))
		msg.IsRead = true
		s := ApplyIncomingMessage(NewChatState(), msg, "me")
		if s.Conversations["conv-a"].UnreadCount != 0 {
			t.Fatal("read message must not increment unread")
		}
	})

	t.Run("stale delivery keeps history but not summary", func(t *testing.T) {
		// Property 7: conversation at T5, stale message at T3.
		s := NewChatState()
		s = ApplyIncomingMessage(s, testMessage("m5", "conv-d", "vendor-1", at(5)), "me")
		s = ApplyIncomingMessage(s, testMessage("m3", "conv-d", "vendor-1", at(3)), "me")

		conv := s.Conversations["conv-d"]
		if !conv.LastMessageAt.Equal(at(5)) {
			t.Fatalf("lastMessageAt regressed to %v", conv.LastMessageAt)
		}
		if conv.LatestMessage.ID != "m5" {
			t.Fatalf("latest message summary regressed to %s", conv.LatestMessage.ID)
		}
		msgs := s.ConversationMessages("conv-d")
		if len(msgs) != 2 {
			t.Fatalf("stale message must still be kept, got %d messages", len(msgs))
		}
		if msgs[0].ID != "m3" || msgs[1].ID != "m5" {
			t.Fatalf("messages out of order: %s, %s", msgs[0].ID, msgs[1].ID)
		}
	})

	t.Run("read flag never regresses", func(t *testing.T) {
		// Property 3: once read, a later unread copy cannot flip it back.
		readAt := at(20)
		read := testMessage("m1", "conv-a", "vendor-1", at(10))
		read.IsRead = true
		read.ReadAt = &readAt
		read.UpdatedAt = at(20)

		s := ApplyIncomingMessage(NewChatState(), read, "me")

		stale := testMessage("m1", "conv-a", "vendor-1", at(10))
		stale.UpdatedAt = at(25) // newer update, but claims unread
		s = ApplyIncomingMessage(s, stale, "me")

		got := s.ConversationMessages("conv-a")[0]
		if !got.IsRead {
			t.Fatal("read flag regressed to unread")
		}
		if got.ReadAt == nil || !got.ReadAt.Equal(readAt) {
			t.Fatal("readAt was lost")
		}
	})

	t.Run("older copy does not replace newer", func(t *testing.T) {
		newer := testMessage("m1", "conv-a", "vendor-1", at(10))
		newer.Body = "edited"
		newer.UpdatedAt = at(30)
		s := ApplyIncomingMessage(NewChatState(), newer, "me")

		older := testMessage("m1", "conv-a", "vendor-1", at(10))
		older.Body = "original"
		older.UpdatedAt = at(15)
		s = ApplyIncomingMessage(s, older, "me")

		if got := s.ConversationMessages("conv-a")[0].Body; got != "edited" {
			t.Fatalf("stale copy overwrote newer edit: %q", got)
		}
	})

	t.Run("messages ordered by createdAt then id", func(t *testing.T) {
		s := NewChatState()
		s = ApplyIncomingMessage(s, testMessage("m-b", "conv-a", "v", at(10)), "me")
		s = ApplyIncomingMessage(s, testMessage("m-a", "conv-a", "v", at(10)), "me")
		s = ApplyIncomingMessage(s, testMessage("m-c", "conv-a", "v", at(5)), "me")

		msgs := s.ConversationMessages("conv-a")
		want := []string{"m-c", "m-a", "m-b"}
		for i, id := range want {
			if msgs[i].ID != id {
				t.Fatalf("position %d: want %s got %s", i, id, msgs[i].ID)
			}
		}
	})

	t.Run("ordering holds at every intermediate state", func(t *testing.T) {
		// Property 2: the order invariant is maintained continuously,
		// not just after the last event.
		s := NewChatState()
		deliveries := []struct {
			id, conv string
			when     time.Time
		}{
			{"m1", "conv-b", at(10)},
			{"m2", "conv-a", at(20)},
			{"m3", "conv-c", at(15)},
			{"m4", "conv-b", at(30)},
			{"m5", "conv-a", at(25)},
			{"m6", "conv-c", at(5)}, // stale
		}
		for _, d := range deliveries {
			s = ApplyIncomingMessage(s, testMessage(d.id, d.conv, "v", d.when), "me")
			assertOrdered(t, s)
		}
		if s.Order[0] != "conv-b" {
			t.Fatalf("expected conv-b first, got %s", s.Order[0])
		}
	})

	t.Run("does not mutate input state", func(t *testing.T) {
		s := ApplyIncomingMessage(NewChatState(), testMessage("m1", "conv-a", "v", at(10)), "me")
		before := len(s.ConversationMessages("conv-a"))
		_ = ApplyIncomingMessage(s, testMessage("m2", "conv-a", "v", at(20)), "me")
		if len(s.ConversationMessages("conv-a")) != before {
			t.Fatal("input state was mutated")
		}
		if s.Conversations["conv-a"].LastMessageAt != at(10) {
			t.Fatal("input conversation was mutated")
		}
	})

	t.Run("ignores payload without ids", func(t *testing.T) {
		s := ApplyIncomingMessage(NewChatState(), Message{Body: "?"}, "me")
		if len(s.Conversations) != 0 {
			t.Fatal("expected no-op for message without ids")
		}
	})
}

// ============================================================================
// Unread accumulation scenario (property 6)
// ============================================================================

func TestUnreadAccumulationScenario(t *testing.T) {
	s := NewChatState()
	s = ApplyConversationsBulk(s, []Conversation{
		testConversation("conv-c", 0, at(0)),
		testConversation("conv-x", 0, at(1)),
	})
	if s.Order[0] != "conv-x" {
		t.Fatalf("precondition: expected conv-x first, got %s", s.Order[0])
	}

	// Remote message at T1 > T0.
	s = ApplyIncomingMessage(s, testMessage("m1", "conv-c", "vendor-1", at(100)), "me")
	conv := s.Conversations["conv-c"]
	if conv.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", conv.UnreadCount)
	}
	if !conv.LastMessageAt.Equal(at(100)) {
		t.Fatalf("expected lastMessageAt %v, got %v", at(100), conv.LastMessageAt)
	}
	if s.Order[0] != "conv-c" {
		t.Fatalf("expected conv-c moved to front, got %s", s.Order[0])
	}

	// Local mark-read.
	s = MarkConversationRead(s, "conv-c")
	if s.Conversations["conv-c"].UnreadCount != 0 {
		t.Fatal("expected unread 0 after mark read")
	}
	for _, m := range s.ConversationMessages("conv-c") {
		if !m.IsRead {
			t.Fatalf("message %s not marked read", m.ID)
		}
	}

	// Missed-push reconciliation: authoritative server push wins over
	// the local zero.
	two := 2
	s = ApplyConversationUpdated(s, ConversationPatch{ID: "conv-c", UnreadCount: &two})
	if s.Conversations["conv-c"].UnreadCount != 2 {
		t.Fatalf("authoritative push must override local zero, got %d", s.Conversations["conv-c"].UnreadCount)
	}
}

// ============================================================================
// Snapshot / bulk / patch operations
// ============================================================================

func TestApplyConversationSnapshot(t *testing.T) {
	t.Run("upserts metadata and keeps cached messages", func(t *testing.T) {
		s := ApplyIncomingMessage(NewChatState(), testMessage("m1", "conv-a", "v", at(10)), "me")
		snap := testConversation("conv-a", 3, at(10))
		snap.Participants = []Participant{{UserID: "v", DisplayName: "Vendor"}}
		s = ApplyConversationSnapshot(s, snap)

		if len(s.ConversationMessages("conv-a")) != 1 {
			t.Fatal("cached messages must survive a snapshot")
		}
		if s.Conversations["conv-a"].UnreadCount != 3 {
			t.Fatal("snapshot metadata not applied")
		}
	})

	t.Run("stale snapshot cannot regress lastMessageAt", func(t *testing.T) {
		s := ApplyIncomingMessage(NewChatState(), testMessage("m1", "conv-a", "v", at(50)), "me")
		s = ApplyConversationSnapshot(s, testConversation("conv-a", 0, at(20)))

		conv := s.Conversations["conv-a"]
		if !conv.LastMessageAt.Equal(at(50)) {
			t.Fatalf("lastMessageAt regressed to %v", conv.LastMessageAt)
		}
		if conv.LatestMessage == nil || conv.LatestMessage.ID != "m1" {
			t.Fatal("latest message summary lost")
		}
	})

	t.Run("negative unread count floors at zero", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{testConversation("conv-a", 2, at(10))})
		s = ApplyConversationSnapshot(s, testConversation("conv-a", -3, at(10)))

		if got := s.Conversations["conv-a"].UnreadCount; got != 0 {
			t.Fatalf("expected unread count 0, got %d", got)
		}
		if s.UnreadTotal != 0 {
			t.Fatalf("expected unread total 0, got %d", s.UnreadTotal)
		}
	})
}

func TestApplyConversationsBulk(t *testing.T) {
	t.Run("replaces list, preserves surviving caches", func(t *testing.T) {
		s := NewChatState()
		s = ApplyIncomingMessage(s, testMessage("m1", "conv-a", "v", at(10)), "me")
		s = ApplyIncomingMessage(s, testMessage("m2", "conv-gone", "v", at(11)), "me")

		s = ApplyConversationsBulk(s, []Conversation{
			testConversation("conv-a", 1, at(10)),
			testConversation("conv-b", 2, at(12)),
		})

		if len(s.ConversationMessages("conv-a")) != 1 {
			t.Fatal("messages for surviving conversation were dropped")
		}
		if _, ok := s.Conversations["conv-gone"]; ok {
			t.Fatal("bulk load must be authoritative for membership")
		}
		if s.UnreadTotal != 3 {
			t.Fatalf("expected unread total 3, got %d", s.UnreadTotal)
		}
		assertOrdered(t, s)
	})

	t.Run("bulk cannot regress push-derived lastMessageAt", func(t *testing.T) {
		s := ApplyIncomingMessage(NewChatState(), testMessage("m9", "conv-a", "v", at(90)), "me")
		s = ApplyConversationsBulk(s, []Conversation{testConversation("conv-a", 0, at(40))})
		if !s.Conversations["conv-a"].LastMessageAt.Equal(at(90)) {
			t.Fatal("stale REST snapshot overwrote newer push-derived timestamp")
		}
	})

	t.Run("negative unread counts floor at zero", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{
			testConversation("conv-a", -4, at(10)),
			testConversation("conv-b", 2, at(11)),
		})
		if got := s.Conversations["conv-a"].UnreadCount; got != 0 {
			t.Fatalf("expected unread count 0, got %d", got)
		}
		if s.UnreadTotal != 2 {
			t.Fatalf("expected unread total 2, got %d", s.UnreadTotal)
		}
	})
}

func TestApplyConversationUpdated(t *testing.T) {
	t.Run("absent fields untouched", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{testConversation("conv-a", 5, at(10))})
		s = ApplyConversationUpdated(s, ConversationPatch{ID: "conv-a"})
		if s.Conversations["conv-a"].UnreadCount != 5 {
			t.Fatal("patch without unread changed the count")
		}
	})

	t.Run("unread total follows the delta", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{
			testConversation("conv-a", 5, at(10)),
			testConversation("conv-b", 1, at(11)),
		})
		zero := 0
		s = ApplyConversationUpdated(s, ConversationPatch{ID: "conv-a", UnreadCount: &zero})
		if s.UnreadTotal != 1 {
			t.Fatalf("expected unread total 1, got %d", s.UnreadTotal)
		}
	})

	t.Run("negative counts floored", func(t *testing.T) {
		neg := -4
		s := ApplyConversationUpdated(NewChatState(), ConversationPatch{ID: "conv-a", UnreadCount: &neg})
		if s.Conversations["conv-a"].UnreadCount != 0 {
			t.Fatal("unread count must never go negative")
		}
	})
}

func TestApplyUnreadCountPush(t *testing.T) {
	s := ApplyIncomingMessage(NewChatState(), testMessage("m1", "conv-a", "v", at(10)), "me")
	s = ApplyUnreadCountPush(s, 7)
	if s.UnreadTotal != 7 {
		t.Fatalf("authoritative total must override local sum, got %d", s.UnreadTotal)
	}
	s = ApplyUnreadCountPush(s, -1)
	if s.UnreadTotal != 0 {
		t.Fatal("negative push floored at zero")
	}
}

// ============================================================================
// History pages and reconciliation
// ============================================================================

func TestApplyHistoryPage(t *testing.T) {
	t.Run("id-union with pushed messages, no unread change", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{testConversation("conv-a", 2, at(20))})
		s = ApplyIncomingMessage(s, testMessage("m2", "conv-a", "v", at(20)), "me")
		unreadBefore := s.Conversations["conv-a"].UnreadCount
		totalBefore := s.UnreadTotal

		page := []Message{
			testMessage("m1", "conv-a", "v", at(10)),
			testMessage("m2", "conv-a", "v", at(20)), // already delivered by push
		}
		s = ApplyHistoryPage(s, "conv-a", page)

		msgs := s.ConversationMessages("conv-a")
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages after union, got %d", len(msgs))
		}
		if s.Conversations["conv-a"].UnreadCount != unreadBefore || s.UnreadTotal != totalBefore {
			t.Fatal("history page must not touch unread counts")
		}
	})

	t.Run("page newer than push advances lastMessageAt", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{testConversation("conv-a", 0, at(10))})
		s = ApplyHistoryPage(s, "conv-a", []Message{testMessage("m3", "conv-a", "v", at(30))})
		if !s.Conversations["conv-a"].LastMessageAt.Equal(at(30)) {
			t.Fatal("newer page did not advance lastMessageAt")
		}
	})
}

func TestReconcileLocalMessage(t *testing.T) {
	s := NewChatState()
	local := testMessage("local-abc", "conv-a", "me", at(10))
	local.IsRead = true
	s = ApplyIncomingMessage(s, local, "me")

	server := testMessage("srv-1", "conv-a", "me", at(11))
	server.IsRead = true
	s = ReconcileLocalMessage(s, "conv-a", "local-abc", server)

	msgs := s.ConversationMessages("conv-a")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly the server copy, got %d messages", len(msgs))
	}
	if msgs[0].ID != "srv-1" {
		t.Fatalf("expected srv-1, got %s", msgs[0].ID)
	}
	if s.Conversations["conv-a"].UnreadCount != 0 {
		t.Fatal("own reconciled message must not count as unread")
	}
}

func TestRemoveMessage(t *testing.T) {
	s := ApplyIncomingMessage(NewChatState(), testMessage("m1", "conv-a", "v", at(10)), "me")
	s = RemoveMessage(s, "conv-a", "m1")
	if len(s.ConversationMessages("conv-a")) != 0 {
		t.Fatal("message not removed")
	}
	// Removing an absent id is a no-op.
	s = RemoveMessage(s, "conv-a", "m1")
	s = RemoveMessage(s, "conv-none", "m1")
}

// ============================================================================
// MarkConversationRead
// ============================================================================

func TestMarkConversationRead(t *testing.T) {
	t.Run("unknown conversation is a no-op", func(t *testing.T) {
		s := MarkConversationRead(NewChatState(), "conv-none")
		if len(s.Conversations) != 0 {
			t.Fatal("expected no-op")
		}
	})

	t.Run("total never goes negative", func(t *testing.T) {
		s := ApplyConversationsBulk(NewChatState(), []Conversation{testConversation("conv-a", 5, at(10))})
		s = ApplyUnreadCountPush(s, 2) // authoritative total below local sum
		s = MarkConversationRead(s, "conv-a")
		if s.UnreadTotal != 0 {
			t.Fatalf("expected floor at 0, got %d", s.UnreadTotal)
		}
	})
}

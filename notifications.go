package fixly

import "time"

// ============================================================================
// Notification State
// ============================================================================

// NotificationState is the client-side view of account-level
// notifications: a flat list, newest first, plus an unread badge
// count. Like ChatState it is a value; operations return new
// snapshots.
type NotificationState struct {
	Notifications []Notification
	UnreadCount   int
}

// NewNotificationState returns an empty state.
func NewNotificationState() NotificationState {
	return NotificationState{}
}

func (s NotificationState) clone() NotificationState {
	return NotificationState{
		Notifications: append([]Notification(nil), s.Notifications...),
		UnreadCount:   s.UnreadCount,
	}
}

// ApplyIncomingNotification prepends a pushed notification and bumps
// the unread count when it arrives unread. Redelivery of an id already
// in the list is idempotent.
func ApplyIncomingNotification(s NotificationState, n Notification) NotificationState {
	if n.ID == "" {
		return s
	}
	for _, existing := range s.Notifications {
		if existing.ID == n.ID {
			return s
		}
	}
	next := s.clone()
	next.Notifications = append([]Notification{n}, next.Notifications...)
	if !n.IsRead {
		next.UnreadCount++
	}
	return next
}

// ApplyMarkRead flips one notification's read flag and decrements the
// unread count, flooring at zero. Marking an already-read notification
// is a no-op.
func ApplyMarkRead(s NotificationState, id string, readAt time.Time) NotificationState {
	for i, n := range s.Notifications {
		if n.ID != id || n.IsRead {
			continue
		}
		next := s.clone()
		at := readAt
		next.Notifications[i].IsRead = true
		next.Notifications[i].ReadAt = &at
		if next.UnreadCount > 0 {
			next.UnreadCount--
		}
		return next
	}
	return s
}

// ApplyMarkAllRead flips every notification to read and zeroes the
// count.
func ApplyMarkAllRead(s NotificationState, readAt time.Time) NotificationState {
	next := s.clone()
	for i := range next.Notifications {
		if !next.Notifications[i].IsRead {
			at := readAt
			next.Notifications[i].IsRead = true
			next.Notifications[i].ReadAt = &at
		}
	}
	next.UnreadCount = 0
	return next
}

// ReplaceAll swaps in a REST bulk load. The server list is
// authoritative: it overrides any local optimistic read flags.
func ReplaceAll(s NotificationState, notifications []Notification) NotificationState {
	next := NotificationState{
		Notifications: append([]Notification(nil), notifications...),
	}
	for _, n := range next.Notifications {
		if !n.IsRead {
			next.UnreadCount++
		}
	}
	return next
}

// ApplyUnreadBadge sets the authoritative unread badge count pushed by
// the server, overriding the locally derived value.
func ApplyUnreadBadge(s NotificationState, count int) NotificationState {
	if count < 0 {
		count = 0
	}
	next := s.clone()
	next.UnreadCount = count
	return next
}

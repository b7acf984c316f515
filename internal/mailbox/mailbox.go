// Package mailbox provides per-participant message queues over the store.
// Every query carries the team predicate: messages never cross teams even
// though participant names are globally unique.
package mailbox

import (
	"fmt"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/pkg/models"
)

// Mailbox exposes inbox/outbox operations for one team's participants.
type Mailbox struct {
	db  *store.DB
	bus *bus.Bus
}

// New creates a mailbox over the given store. The bus may be nil.
func New(db *store.DB, b *bus.Bus) *Mailbox {
	return &Mailbox{db: db, bus: b}
}

// Send delivers a message from sender to recipient within a team.
// Delivery is immediate: the recipient's inbox sees the message as soon
// as Send returns. Bodies are stored verbatim, any UTF-8 round-trips.
func (m *Mailbox) Send(team, sender, recipient, body string) (int64, error) {
	id, err := m.db.SendMessage(team, sender, recipient, body)
	if err != nil {
		return 0, fmt.Errorf("send %s -> %s: %w", sender, recipient, err)
	}
	if m.bus != nil {
		m.bus.Broadcast(bus.EventMessageDelivered, bus.Event{
			Team:   team,
			Agent:  recipient,
			Sender: sender,
		})
	}
	return id, nil
}

// ReadInbox returns the recipient's delivered messages ordered by delivery
// time. With unreadOnly set, already-processed messages are excluded.
func (m *Mailbox) ReadInbox(team, recipient string, unreadOnly bool) ([]*models.Message, error) {
	return m.db.Inbox(team, recipient, store.MessageFilter{UnreadOnly: unreadOnly})
}

// ReadOutbox returns messages the sender has sent. With pendingOnly set it
// returns only undelivered rows, which is empty under immediate delivery.
func (m *Mailbox) ReadOutbox(team, sender string, pendingOnly bool) ([]*models.Message, error) {
	return m.db.Outbox(team, sender, store.MessageFilter{PendingOnly: pendingOnly})
}

// MarkSeen stamps seen_at on the given messages. Idempotent.
func (m *Mailbox) MarkSeen(team string, ids ...int64) error {
	return m.db.MarkSeen(team, ids...)
}

// MarkProcessed stamps processed_at on the given messages. Idempotent.
func (m *Mailbox) MarkProcessed(team string, ids ...int64) error {
	return m.db.MarkProcessed(team, ids...)
}

// HasUnread reports whether the recipient has unprocessed messages.
func (m *Mailbox) HasUnread(team, recipient string) (bool, error) {
	return m.db.HasUnread(team, recipient)
}

// CountUnread returns the recipient's unprocessed message count.
func (m *Mailbox) CountUnread(team, recipient string) (int, error) {
	return m.db.CountUnread(team, recipient)
}

// AgentsWithUnread returns the team's participants with unread messages.
func (m *Mailbox) AgentsWithUnread(team string) ([]string, error) {
	return m.db.AgentsWithUnread(team)
}

// RecentConversation returns the merged inbox and outbox of a participant,
// optionally narrowed to one peer, limited to the newest limit messages in
// chronological order.
func (m *Mailbox) RecentConversation(team, participant, peer string, limit int) ([]*models.Message, error) {
	return m.db.Conversation(team, participant, store.MessageFilter{Peer: peer, Limit: limit})
}

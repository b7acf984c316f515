package models

import "time"

// MessageKind distinguishes conversational messages from audit events.
type MessageKind string

const (
	// MessageKindChat is a message exchanged between participants.
	MessageKindChat MessageKind = "chat"
	// MessageKindEvent is an audit row recording a system action.
	MessageKindEvent MessageKind = "event"
)

// Message represents one mailbox row. Lifecycle timestamps are monotonic:
// CreatedAt <= DeliveredAt <= SeenAt <= ProcessedAt, any of the last three
// may be nil if that stage has not been reached.
type Message struct {
	// ID is the store-allocated monotonic identifier.
	ID int64 `json:"id"`
	// Team is the owning team's slug; messages never cross teams.
	Team string `json:"team"`
	// Sender is the participant name that sent the message.
	Sender string `json:"sender"`
	// Recipient is the participant name the message is addressed to.
	Recipient string `json:"recipient"`
	// Body is arbitrary UTF-8, stored verbatim.
	Body string `json:"body"`
	// Kind is chat or event.
	Kind MessageKind `json:"kind"`
	// CreatedAt is when the message was created.
	CreatedAt time.Time `json:"created_at"`
	// DeliveredAt is when the message reached the recipient's inbox.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	// SeenAt is when the recipient's turn first read the message.
	SeenAt *time.Time `json:"seen_at,omitempty"`
	// ProcessedAt is when the recipient replied or acknowledged.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Unread reports whether the message is delivered but not yet processed.
func (m *Message) Unread() bool {
	return m.DeliveredAt != nil && m.ProcessedAt == nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/denyherianto/delegate/pkg/models"
)

// ErrMessageNotFound indicates no message matched the given team and id.
var ErrMessageNotFound = errors.New("message not found")

// MessageFilter narrows message queries. Zero values mean no filtering.
type MessageFilter struct {
	// UnreadOnly restricts results to delivered-but-unprocessed messages.
	UnreadOnly bool
	// PendingOnly restricts outbox results to undelivered messages.
	PendingOnly bool
	// Peer restricts conversation results to one counterpart.
	Peer string
	// Since restricts results to messages created after the instant.
	Since time.Time
	// Kind restricts results to chat or event rows; empty means both.
	Kind models.MessageKind
	// Limit bounds the number of rows returned; 0 means no limit.
	Limit int
}

// SendMessage inserts a chat message with immediate delivery.
// The insert is a single statement: created_at and delivered_at are
// written together, so no observer ever sees an undelivered chat row.
func (db *DB) SendMessage(team, sender, recipient, body string) (int64, error) {
	return db.insertMessage(team, sender, recipient, body, models.MessageKindChat)
}

// AppendEvent inserts an event audit row addressed to the recipient.
func (db *DB) AppendEvent(team, sender, recipient, body string) (int64, error) {
	return db.insertMessage(team, sender, recipient, body, models.MessageKindEvent)
}

func (db *DB) insertMessage(team, sender, recipient, body string, kind models.MessageKind) (int64, error) {
	now := formatTime(time.Now())
	res, err := db.Exec(`
		INSERT INTO messages (team, sender, recipient, body, kind, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, team, sender, recipient, body, string(kind), now, now)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

// GetMessage returns the message with the given id in the given team.
func (db *DB) GetMessage(team string, id int64) (*models.Message, error) {
	row := db.QueryRow(`
		SELECT id, team, sender, recipient, body, kind,
		       created_at, delivered_at, seen_at, processed_at
		FROM messages WHERE team = ? AND id = ?
	`, team, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

// Inbox returns messages delivered to the recipient, ordered by delivery time.
func (db *DB) Inbox(team, recipient string, filter MessageFilter) ([]*models.Message, error) {
	query := `
		SELECT id, team, sender, recipient, body, kind,
		       created_at, delivered_at, seen_at, processed_at
		FROM messages
		WHERE team = ? AND recipient = ? AND delivered_at IS NOT NULL`
	args := []any{team, recipient}

	if filter.UnreadOnly {
		query += " AND processed_at IS NULL"
	}
	query, args = applyCommonFilters(query, args, filter)
	query += " ORDER BY delivered_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return db.queryMessages(query, args...)
}

// Outbox returns messages the sender has sent. With PendingOnly set it
// returns only undelivered rows; under immediate delivery that is empty
// by construction, the flag exists for a deferred-delivery variant.
func (db *DB) Outbox(team, sender string, filter MessageFilter) ([]*models.Message, error) {
	query := `
		SELECT id, team, sender, recipient, body, kind,
		       created_at, delivered_at, seen_at, processed_at
		FROM messages
		WHERE team = ? AND sender = ?`
	args := []any{team, sender}

	if filter.PendingOnly {
		query += " AND delivered_at IS NULL"
	}
	query, args = applyCommonFilters(query, args, filter)
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return db.queryMessages(query, args...)
}

// Conversation returns the merged inbox and outbox of a participant,
// optionally narrowed to one peer, ordered by time.
func (db *DB) Conversation(team, participant string, filter MessageFilter) ([]*models.Message, error) {
	query := `
		SELECT id, team, sender, recipient, body, kind,
		       created_at, delivered_at, seen_at, processed_at
		FROM messages
		WHERE team = ? AND (sender = ? OR recipient = ?)`
	args := []any{team, participant, participant}

	if filter.Peer != "" {
		query += " AND (sender = ? OR recipient = ?)"
		args = append(args, filter.Peer, filter.Peer)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at > ?"
		args = append(args, formatTime(filter.Since))
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	msgs, err := db.queryMessages(query, args...)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order after taking the newest N.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkSeen stamps seen_at on the given messages. Idempotent: already-seen
// messages keep their original timestamp.
func (db *DB) MarkSeen(team string, ids ...int64) error {
	return db.stampLifecycle(team, "seen_at", ids)
}

// MarkProcessed stamps processed_at (and seen_at if missing) on the given
// messages. Idempotent.
func (db *DB) MarkProcessed(team string, ids ...int64) error {
	if err := db.stampLifecycle(team, "seen_at", ids); err != nil {
		return err
	}
	return db.stampLifecycle(team, "processed_at", ids)
}

func (db *DB) stampLifecycle(team, column string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := formatTime(time.Now())
	return db.Transaction(func(tx *sql.Tx) error {
		for _, id := range ids {
			// column is one of the fixed lifecycle names, never user input.
			_, err := tx.Exec(fmt.Sprintf(`
				UPDATE messages SET %s = ?
				WHERE team = ? AND id = ? AND %s IS NULL
			`, column, column), now, team, id)
			if err != nil {
				return fmt.Errorf("mark %s: %w", column, err)
			}
		}
		return nil
	})
}

// HasUnread reports whether the recipient has unprocessed delivered messages.
func (db *DB) HasUnread(team, recipient string) (bool, error) {
	n, err := db.CountUnread(team, recipient)
	return n > 0, err
}

// CountUnread returns the number of unprocessed delivered messages.
func (db *DB) CountUnread(team, recipient string) (int, error) {
	var n int
	row := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE team = ? AND recipient = ? AND delivered_at IS NOT NULL AND processed_at IS NULL
	`, team, recipient)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// AgentsWithUnread returns the distinct recipients with unread messages
// in the team.
func (db *DB) AgentsWithUnread(team string) ([]string, error) {
	rows, err := db.Query(`
		SELECT DISTINCT recipient FROM messages
		WHERE team = ? AND delivered_at IS NOT NULL AND processed_at IS NULL
		ORDER BY recipient
	`, team)
	if err != nil {
		return nil, fmt.Errorf("agents with unread: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PurgeProcessedEvents deletes processed event rows older than the duration.
// Returns the number of rows deleted.
func (db *DB) PurgeProcessedEvents(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := db.Exec(`
		DELETE FROM messages
		WHERE kind = 'event' AND processed_at IS NOT NULL AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return res.RowsAffected()
}

func applyCommonFilters(query string, args []any, filter MessageFilter) (string, []any) {
	if !filter.Since.IsZero() {
		query += " AND created_at > ?"
		args = append(args, formatTime(filter.Since))
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	return query, args
}

func (db *DB) queryMessages(query string, args ...any) ([]*models.Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg         models.Message
		kind        string
		createdAt   string
		deliveredAt sql.NullString
		seenAt      sql.NullString
		processedAt sql.NullString
	)

	err := row.Scan(&msg.ID, &msg.Team, &msg.Sender, &msg.Recipient, &msg.Body,
		&kind, &createdAt, &deliveredAt, &seenAt, &processedAt)
	if err != nil {
		return nil, err
	}

	msg.Kind = models.MessageKind(kind)
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	msg.DeliveredAt = parseNullableTime(deliveredAt)
	msg.SeenAt = parseNullableTime(seenAt)
	msg.ProcessedAt = parseNullableTime(processedAt)
	return &msg, nil
}

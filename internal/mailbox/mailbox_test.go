package mailbox

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/store"
)

func setupMailbox(t *testing.T) (*Mailbox, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("create team: %v", err)
	}
	return New(db, bus.New()), db
}

func TestSendAndReadInbox(t *testing.T) {
	mail, _ := setupMailbox(t)

	if _, err := mail.Send("backend", "maya", "eli", "please pick up T3"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	inbox, err := mail.ReadInbox("backend", "eli", true)
	if err != nil {
		t.Fatalf("ReadInbox failed: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Body != "please pick up T3" {
		t.Fatalf("inbox = %v", inbox)
	}
	if inbox[0].Sender != "maya" {
		t.Errorf("Sender = %q", inbox[0].Sender)
	}
}

func TestMarkProcessed_RemovesFromUnread(t *testing.T) {
	mail, _ := setupMailbox(t)

	id, err := mail.Send("backend", "maya", "eli", "one")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	unread, err := mail.HasUnread("backend", "eli")
	if err != nil {
		t.Fatalf("HasUnread failed: %v", err)
	}
	if !unread {
		t.Fatal("HasUnread = false after Send")
	}

	// Seen alone keeps the message unread; only processed clears it.
	if err := mail.MarkSeen("backend", id); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if unread, _ = mail.HasUnread("backend", "eli"); !unread {
		t.Error("seen message dropped from unread")
	}

	if err := mail.MarkProcessed("backend", id); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if unread, _ = mail.HasUnread("backend", "eli"); unread {
		t.Error("processed message still unread")
	}
}

func TestReadOutbox(t *testing.T) {
	mail, _ := setupMailbox(t)

	mail.Send("backend", "maya", "eli", "a")
	mail.Send("backend", "maya", "zoe", "b")

	outbox, err := mail.ReadOutbox("backend", "maya", false)
	if err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	if len(outbox) != 2 {
		t.Errorf("len(outbox) = %d, want 2", len(outbox))
	}

	// Delivery is immediate, so the pending outbox is always empty.
	pending, err := mail.ReadOutbox("backend", "maya", true)
	if err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending outbox = %d messages, want 0", len(pending))
	}
}

func TestAgentsWithUnread(t *testing.T) {
	mail, _ := setupMailbox(t)

	mail.Send("backend", "maya", "eli", "a")
	mail.Send("backend", "maya", "zoe", "b")

	names, err := mail.AgentsWithUnread("backend")
	if err != nil {
		t.Fatalf("AgentsWithUnread failed: %v", err)
	}
	if len(names) != 2 || names[0] != "eli" || names[1] != "zoe" {
		t.Errorf("names = %v, want [eli zoe]", names)
	}
}

func TestRouter_QueuesHumanBoundMessages(t *testing.T) {
	mail, db := setupMailbox(t)
	router := NewRouter(db, bus.New(), "sam", 0)

	mail.Send("backend", "maya", "sam", "release is blocked")
	mail.Send("backend", "maya", "eli", "not for the human")

	if err := router.Scan(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	notes := router.DrainNotifications()
	if len(notes) != 1 || notes[0].Body != "release is blocked" {
		t.Fatalf("notifications = %v", notes)
	}

	// Drain empties the queue; a rescan must not resurface old messages.
	if err := router.Scan(); err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if notes := router.DrainNotifications(); len(notes) != 0 {
		t.Errorf("rescan resurfaced %d messages", len(notes))
	}
}

func TestRouter_ReportDeliveryFailure(t *testing.T) {
	_, db := setupMailbox(t)
	router := NewRouter(db, bus.New(), "sam", 0)

	router.ReportDeliveryFailure("backend", "maya", "ghost", "lost payload", errors.New("no such participant"))

	// The failure lands back in the sender's inbox as an event row, with
	// the original body preserved.
	events, err := db.Inbox("backend", "maya", store.MessageFilter{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("sender inbox = %d rows, want 1", len(events))
	}
	body := events[0].Body
	if !strings.Contains(body, "lost payload") || !strings.Contains(body, "ghost") {
		t.Errorf("failure event body = %q", body)
	}
}

package store

import (
	"testing"
	"time"

	"github.com/denyherianto/delegate/pkg/models"
)

func TestSendMessage_RoundTrip(t *testing.T) {
	db := setupTeamDB(t, "backend")

	// Bodies are stored verbatim: unicode and newlines must survive.
	body := "deploy ready 🚀\nsecond line\n\ttabbed"
	id, err := db.SendMessage("backend", "alice", "bob", body)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	msg, err := db.GetMessage("backend", id)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if msg.Body != body {
		t.Errorf("Body = %q, want %q", msg.Body, body)
	}
	if msg.Kind != models.MessageKindChat {
		t.Errorf("Kind = %q, want chat", msg.Kind)
	}
	if msg.DeliveredAt == nil {
		t.Error("DeliveredAt is nil, chat delivery is immediate")
	}
	if msg.SeenAt != nil || msg.ProcessedAt != nil {
		t.Error("new message already seen or processed")
	}
}

func TestInbox_OrderAndUnreadFilter(t *testing.T) {
	db := setupTeamDB(t, "backend")

	first, _ := db.SendMessage("backend", "alice", "bob", "first")
	second, _ := db.SendMessage("backend", "carol", "bob", "second")

	inbox, err := db.Inbox("backend", "bob", MessageFilter{})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("len(inbox) = %d, want 2", len(inbox))
	}
	if inbox[0].ID != first || inbox[1].ID != second {
		t.Errorf("inbox order = [%d %d], want [%d %d]", inbox[0].ID, inbox[1].ID, first, second)
	}

	if err := db.MarkProcessed("backend", first); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	unread, err := db.Inbox("backend", "bob", MessageFilter{UnreadOnly: true})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != second {
		t.Errorf("unread inbox = %d messages, want just the second", len(unread))
	}
}

func TestMessages_TeamIsolation(t *testing.T) {
	db := setupTeamDB(t, "backend")
	if _, err := db.CreateTeam("frontend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	if _, err := db.SendMessage("backend", "alice", "bob", "backend only"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// Same recipient name, different team: nothing crosses over.
	inbox, err := db.Inbox("frontend", "bob", MessageFilter{})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(inbox) != 0 {
		t.Errorf("frontend inbox has %d messages, want 0", len(inbox))
	}
}

func TestLifecycle_MonotonicAndIdempotent(t *testing.T) {
	db := setupTeamDB(t, "backend")

	id, err := db.SendMessage("backend", "alice", "bob", "hi")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := db.MarkSeen("backend", id); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	msg, _ := db.GetMessage("backend", id)
	firstSeen := msg.SeenAt
	if firstSeen == nil {
		t.Fatal("SeenAt not stamped")
	}

	// Re-marking must keep the original stamp.
	time.Sleep(5 * time.Millisecond)
	if err := db.MarkSeen("backend", id); err != nil {
		t.Fatalf("second MarkSeen failed: %v", err)
	}
	msg, _ = db.GetMessage("backend", id)
	if !msg.SeenAt.Equal(*firstSeen) {
		t.Errorf("SeenAt moved on re-mark: %v -> %v", firstSeen, msg.SeenAt)
	}

	if err := db.MarkProcessed("backend", id); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	msg, _ = db.GetMessage("backend", id)
	if msg.ProcessedAt == nil {
		t.Fatal("ProcessedAt not stamped")
	}

	// created <= delivered <= seen <= processed.
	if msg.DeliveredAt.Before(msg.CreatedAt) {
		t.Error("delivered before created")
	}
	if msg.SeenAt.Before(*msg.DeliveredAt) {
		t.Error("seen before delivered")
	}
	if msg.ProcessedAt.Before(*msg.SeenAt) {
		t.Error("processed before seen")
	}
}

func TestMarkProcessed_StampsSeen(t *testing.T) {
	db := setupTeamDB(t, "backend")

	id, err := db.SendMessage("backend", "alice", "bob", "hi")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// Processing an unseen message stamps seen_at too.
	if err := db.MarkProcessed("backend", id); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	msg, _ := db.GetMessage("backend", id)
	if msg.SeenAt == nil {
		t.Error("SeenAt not stamped by MarkProcessed")
	}
}

func TestUnreadCounters(t *testing.T) {
	db := setupTeamDB(t, "backend")

	if _, err := db.SendMessage("backend", "alice", "bob", "one"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	id, err := db.SendMessage("backend", "alice", "bob", "two")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	n, err := db.CountUnread("backend", "bob")
	if err != nil {
		t.Fatalf("CountUnread failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountUnread = %d, want 2", n)
	}

	has, err := db.HasUnread("backend", "carol")
	if err != nil {
		t.Fatalf("HasUnread failed: %v", err)
	}
	if has {
		t.Error("HasUnread(carol) = true, want false")
	}

	names, err := db.AgentsWithUnread("backend")
	if err != nil {
		t.Fatalf("AgentsWithUnread failed: %v", err)
	}
	if len(names) != 1 || names[0] != "bob" {
		t.Errorf("AgentsWithUnread = %v, want [bob]", names)
	}

	if err := db.MarkProcessed("backend", id); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	n, _ = db.CountUnread("backend", "bob")
	if n != 1 {
		t.Errorf("CountUnread after processing one = %d, want 1", n)
	}
}

func TestConversation(t *testing.T) {
	db := setupTeamDB(t, "backend")

	db.SendMessage("backend", "alice", "bob", "a1")
	db.SendMessage("backend", "bob", "alice", "b1")
	db.SendMessage("backend", "carol", "alice", "c1")

	// Full conversation for alice, chronological.
	msgs, err := db.Conversation("backend", "alice", MessageFilter{})
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Body != "a1" || msgs[2].Body != "c1" {
		t.Errorf("conversation order = [%s %s %s]", msgs[0].Body, msgs[1].Body, msgs[2].Body)
	}

	// Narrowed to one peer.
	msgs, err = db.Conversation("backend", "alice", MessageFilter{Peer: "bob"})
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("peer-narrowed len = %d, want 2", len(msgs))
	}

	// Limit takes the newest, still returned chronologically.
	msgs, err = db.Conversation("backend", "alice", MessageFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "b1" || msgs[1].Body != "c1" {
		t.Errorf("limited conversation = %v", msgs)
	}
}

func TestPurgeProcessedEvents(t *testing.T) {
	db := setupTeamDB(t, "backend")

	evID, err := db.AppendEvent("backend", "system", "bob", "task assigned")
	if err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	chatID, err := db.SendMessage("backend", "alice", "bob", "keep me")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := db.MarkProcessed("backend", evID, chatID); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	n, err := db.PurgeProcessedEvents(-time.Second)
	if err != nil {
		t.Fatalf("PurgeProcessedEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}

	// Chat rows are never purged.
	if _, err := db.GetMessage("backend", chatID); err != nil {
		t.Errorf("chat message purged: %v", err)
	}
}

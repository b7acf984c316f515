package dispatch

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/mailbox"
	"github.com/denyherianto/delegate/internal/merge"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/pkg/models"
)

func setupDispatcher(t *testing.T) (*Dispatcher, *store.DB, *mailbox.Mailbox) {
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
	if err := db.CreateAgent(&models.Agent{Name: "eli", Team: "backend", Role: models.RoleEngineer}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	mail := mailbox.New(db, nil)
	d := New(Config{
		DB:    db,
		Mail:  mail,
		Locks: merge.NewWorktreeLocks(),
		Bus:   bus.New(),
	})
	return d, db, mail
}

func TestEligible_IdleAgentWithNothingToDo(t *testing.T) {
	d, db, _ := setupDispatcher(t)
	agent, _ := db.GetAgent("eli")

	ok, err := d.eligible(agent)
	if err != nil {
		t.Fatalf("eligible failed: %v", err)
	}
	if ok {
		t.Error("agent with no mail and no task is eligible")
	}
}

func TestEligible_UnreadMail(t *testing.T) {
	d, db, mail := setupDispatcher(t)
	agent, _ := db.GetAgent("eli")

	if _, err := mail.Send("backend", "maya", "eli", "wake up"); err != nil {
		t.Fatalf("send: %v", err)
	}

	ok, err := d.eligible(agent)
	if err != nil {
		t.Fatalf("eligible failed: %v", err)
	}
	if !ok {
		t.Error("agent with unread mail not eligible")
	}
}

func TestEligible_OpenTaskStates(t *testing.T) {
	d, db, _ := setupDispatcher(t)
	agent, _ := db.GetAgent("eli")

	task, err := db.CreateTask("backend", "work", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := db.UpdateTask("backend", task.ID, store.TaskUpdate{DRI: models.Set("eli")}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// unassigned does not earn a turn; assigned, in_progress, and
	// rejected do; review and beyond are out of the agent's hands.
	cases := []struct {
		status models.TaskStatus
		want   bool
	}{
		{models.TaskStatusUnassigned, false},
		{models.TaskStatusAssigned, true},
		{models.TaskStatusInProgress, true},
		{models.TaskStatusRejected, true},
		{models.TaskStatusInReview, false},
		{models.TaskStatusInApproval, false},
		{models.TaskStatusDone, false},
	}
	for _, tt := range cases {
		if err := db.SetTaskStatus("backend", task.ID, tt.status); err != nil {
			t.Fatalf("set status %s: %v", tt.status, err)
		}
		ok, err := d.eligible(agent)
		if err != nil {
			t.Fatalf("eligible(%s) failed: %v", tt.status, err)
		}
		if ok != tt.want {
			t.Errorf("eligible with %s task = %v, want %v", tt.status, ok, tt.want)
		}
	}
}

func TestEligible_BlockedWhileMerging(t *testing.T) {
	d, db, mail := setupDispatcher(t)
	agent, _ := db.GetAgent("eli")

	// Even with unread mail, a task mid-merge freezes the DRI: its
	// worktree may be rewritten at any moment.
	if _, err := mail.Send("backend", "maya", "eli", "status?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	task, err := db.CreateTask("backend", "landing", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := db.UpdateTask("backend", task.ID, store.TaskUpdate{DRI: models.Set("eli")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := db.SetTaskStatus("backend", task.ID, models.TaskStatusMerging); err != nil {
		t.Fatalf("set status: %v", err)
	}

	ok, err := d.eligible(agent)
	if err != nil {
		t.Fatalf("eligible failed: %v", err)
	}
	if ok {
		t.Error("agent eligible while its task is merging")
	}
}

func TestEligible_BlockedWhileRunning(t *testing.T) {
	d, db, mail := setupDispatcher(t)
	agent, _ := db.GetAgent("eli")

	if _, err := mail.Send("backend", "maya", "eli", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	d.mu.Lock()
	d.running[agentKey{team: "backend", name: "eli"}] = true
	d.mu.Unlock()

	ok, err := d.eligible(agent)
	if err != nil {
		t.Fatalf("eligible failed: %v", err)
	}
	if ok {
		t.Error("agent eligible with a turn already in flight")
	}
}

func TestComposePrompt(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	inbox := []*models.Message{
		{Sender: "maya", Body: "pick up T3", CreatedAt: at},
		{Sender: "sam", Body: "and hurry", CreatedAt: at.Add(time.Minute)},
	}

	prompt := composePrompt(inbox)
	if !strings.Contains(prompt, "2 new message(s)") {
		t.Errorf("prompt missing count: %q", prompt)
	}
	if !strings.Contains(prompt, "--- From maya at 2026-03-14T09:26:53Z ---\npick up T3") {
		t.Errorf("prompt missing first message block: %q", prompt)
	}
	if !strings.Contains(prompt, "--- From sam at") {
		t.Errorf("prompt missing second message block: %q", prompt)
	}
}

func TestComposePrompt_EmptyInbox(t *testing.T) {
	prompt := composePrompt(nil)
	if !strings.Contains(prompt, "no new messages") {
		t.Errorf("empty-inbox prompt = %q", prompt)
	}
}

package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/denyherianto/delegate/internal/session"
)

func TestToolDefinitions_Filtering(t *testing.T) {
	all := toolDefinitions(nil, nil)
	if len(all) != 5 {
		t.Fatalf("len(all) = %d, want 5", len(all))
	}

	kept := toolDefinitions([]string{"Bash", "Write"}, nil)
	if len(kept) != 3 {
		t.Fatalf("len(kept) = %d, want 3", len(kept))
	}
	for _, tool := range kept {
		name := tool.OfTool.Name
		if name == "Bash" || name == "Write" {
			t.Errorf("disallowed tool %s still offered", name)
		}
	}
}

func TestToolDefinitions_IncludesDomainTools(t *testing.T) {
	domain := []session.DomainTool{{
		Name:        "send_message",
		Description: "message a teammate",
		Properties:  map[string]any{"recipient": map[string]any{"type": "string"}},
		Required:    []string{"recipient"},
	}}

	defs := toolDefinitions(nil, domain)
	if len(defs) != 6 {
		t.Fatalf("len(defs) = %d, want 6", len(defs))
	}
	last := defs[len(defs)-1].OfTool
	if last.Name != "send_message" {
		t.Errorf("domain tool name = %q, want send_message", last.Name)
	}
	if got := last.InputSchema.Required; len(got) != 1 || got[0] != "recipient" {
		t.Errorf("Required = %v", got)
	}
}

func TestToolExecutor_DispatchesDomainTools(t *testing.T) {
	var seen json.RawMessage
	domain := []session.DomainTool{{
		Name: "send_message",
		Run: func(ctx context.Context, input json.RawMessage) (string, error) {
			seen = input
			return "message 7 queued", nil
		},
	}}
	exec := newToolExecutor(t.TempDir(), nil, domain)

	res := exec.Execute(context.Background(), "send_message",
		json.RawMessage(`{"recipient":"zoe","body":"hi"}`))
	if res.IsError {
		t.Fatalf("domain tool failed: %s", res.Content)
	}
	if res.Content != "message 7 queued" {
		t.Errorf("Content = %q", res.Content)
	}
	if !strings.Contains(string(seen), "zoe") {
		t.Errorf("tool input = %s", seen)
	}
}

func TestToolExecutor_DomainToolErrorIsToolError(t *testing.T) {
	domain := []session.DomainTool{{
		Name: "update_task_status",
		Run: func(ctx context.Context, input json.RawMessage) (string, error) {
			return "", errors.New("task not found")
		},
	}}
	exec := newToolExecutor(t.TempDir(), nil, domain)

	res := exec.Execute(context.Background(), "update_task_status", json.RawMessage(`{}`))
	if !res.IsError || !strings.Contains(res.Content, "task not found") {
		t.Errorf("result = %+v, want tool error", res)
	}
}

func TestToolExecutor_WriteReadEdit(t *testing.T) {
	dir := t.TempDir()
	exec := newToolExecutor(dir, nil, nil)
	ctx := context.Background()

	path := filepath.Join(dir, "notes", "a.txt")
	res := exec.Execute(ctx, "Write", mustJSON(t, map[string]any{
		"file_path": path,
		"content":   "hello world\nsecond line",
	}))
	if res.IsError {
		t.Fatalf("Write failed: %s", res.Content)
	}

	res = exec.Execute(ctx, "Read", mustJSON(t, map[string]any{"file_path": path}))
	if res.IsError {
		t.Fatalf("Read failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "1\thello world") {
		t.Errorf("Read output missing numbered line: %q", res.Content)
	}

	res = exec.Execute(ctx, "Edit", mustJSON(t, map[string]any{
		"file_path":  path,
		"old_string": "hello",
		"new_string": "goodbye",
	}))
	if res.IsError {
		t.Fatalf("Edit failed: %s", res.Content)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "goodbye world") {
		t.Errorf("file after edit = %q", data)
	}
}

func TestToolExecutor_EditRequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("dup dup"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := newToolExecutor(dir, nil, nil)

	res := exec.Execute(context.Background(), "Edit", mustJSON(t, map[string]any{
		"file_path":  path,
		"old_string": "dup",
		"new_string": "one",
	}))
	if !res.IsError {
		t.Fatal("ambiguous edit succeeded")
	}

	res = exec.Execute(context.Background(), "Edit", mustJSON(t, map[string]any{
		"file_path":   path,
		"old_string":  "dup",
		"new_string":  "one",
		"replace_all": true,
	}))
	if res.IsError {
		t.Fatalf("replace_all edit failed: %s", res.Content)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "one one" {
		t.Errorf("file = %q, want %q", data, "one one")
	}
}

func TestToolExecutor_Bash(t *testing.T) {
	dir := t.TempDir()
	exec := newToolExecutor(dir, nil, nil)

	res := exec.Execute(context.Background(), "Bash", mustJSON(t, map[string]any{"command": "pwd"}))
	if res.IsError {
		t.Fatalf("Bash failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, filepath.Base(dir)) {
		t.Errorf("pwd output %q not rooted at the work dir", res.Content)
	}

	res = exec.Execute(context.Background(), "Bash", mustJSON(t, map[string]any{"command": "exit 3"}))
	if !res.IsError {
		t.Error("failing command reported success")
	}

	res = exec.Execute(context.Background(), "Bash", mustJSON(t, map[string]any{
		"command": "sleep 5",
		"timeout": 50,
	}))
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Errorf("timeout result = %+v", res)
	}
}

func TestToolExecutor_RelativePathFallsBackToAddDirs(t *testing.T) {
	work := t.TempDir()
	extra := t.TempDir()
	if err := os.WriteFile(filepath.Join(extra, "shared.txt"), []byte("from add dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := newToolExecutor(work, []string{extra}, nil)

	res := exec.Execute(context.Background(), "Read", mustJSON(t, map[string]any{"file_path": "shared.txt"}))
	if res.IsError {
		t.Fatalf("Read failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "from add dir") {
		t.Errorf("Read output = %q", res.Content)
	}
}

func TestToolExecutor_UnknownTool(t *testing.T) {
	exec := newToolExecutor(t.TempDir(), nil, nil)
	res := exec.Execute(context.Background(), "Teleport", json.RawMessage(`{}`))
	if !res.IsError {
		t.Error("unknown tool succeeded")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

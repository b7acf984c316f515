package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/denyherianto/delegate/internal/git"
	"github.com/denyherianto/delegate/internal/mailbox"
	"github.com/denyherianto/delegate/internal/session"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/internal/workflow"
	"github.com/denyherianto/delegate/pkg/models"
)

// DomainToolBuilder produces the workflow tools offered to one agent's
// session. Nil means the session gets filesystem tools only.
type DomainToolBuilder func(agent *models.Agent) []session.DomainTool

// WorktreePaths resolves the per-agent worktree of a repo.
type WorktreePaths interface {
	AgentWorktreePath(team, agent, repo string) string
}

// ToolsConfig wires the domain tools to the rest of the daemon.
type ToolsConfig struct {
	DB     *store.DB
	Mail   *mailbox.Mailbox
	Engine *workflow.Engine
	Paths  WorktreePaths
	// GitFor builds a runner for a worktree path. Defaults to the real
	// git binary.
	GitFor func(path string) git.Runner
	// MainBranch is the integration branch name; empty means "main".
	MainBranch string
}

// NewDomainTools builds the standard agent tool set: messaging teammates,
// moving owned tasks through the workflow, and rebasing worktrees onto
// main. Each tool is bound to the agent's own team and identity, so the
// model cannot act as anyone else.
func NewDomainTools(cfg ToolsConfig) DomainToolBuilder {
	if cfg.GitFor == nil {
		cfg.GitFor = func(path string) git.Runner { return git.NewRunner(path) }
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	t := &domainTools{cfg: cfg}
	return func(agent *models.Agent) []session.DomainTool {
		return []session.DomainTool{
			t.sendMessage(agent),
			t.updateTaskStatus(agent),
			t.rebaseToMain(agent),
		}
	}
}

type domainTools struct {
	cfg ToolsConfig
}

func (t *domainTools) sendMessage(agent *models.Agent) session.DomainTool {
	return session.DomainTool{
		Name:        "send_message",
		Description: "Send a message to a teammate or to the human operator. The recipient sees it on their next turn.",
		Properties: map[string]any{
			"recipient": map[string]any{
				"type":        "string",
				"description": "Name of the teammate to message",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Message body",
			},
		},
		Required: []string{"recipient", "body"},
		Run: func(ctx context.Context, input json.RawMessage) (string, error) {
			var params struct {
				Recipient string `json:"recipient"`
				Body      string `json:"body"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if params.Recipient == "" || params.Body == "" {
				return "", fmt.Errorf("recipient and body are both required")
			}
			id, err := t.cfg.Mail.Send(agent.Team, agent.Name, params.Recipient, params.Body)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("message %d queued for %s", id, params.Recipient), nil
		},
	}
}

// statusTransitions lists the statuses an agent may request.
var statusTransitions = []string{"in_progress", "in_review", "in_approval", "rejected"}

func (t *domainTools) updateTaskStatus(agent *models.Agent) session.DomainTool {
	return session.DomainTool{
		Name:        "update_task_status",
		Description: "Move a task through the workflow: in_progress when you accept it, in_review when you declare it done, in_approval when review passes, rejected (with a reason) when it does not.",
		Properties: map[string]any{
			"task_id": map[string]any{
				"type":        "integer",
				"description": "Numeric task id",
			},
			"status": map[string]any{
				"type":        "string",
				"description": "Target status: " + strings.Join(statusTransitions, ", "),
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Rejection reason, required when status is rejected",
			},
		},
		Required: []string{"task_id", "status"},
		Run: func(ctx context.Context, input json.RawMessage) (string, error) {
			var params struct {
				TaskID int64  `json:"task_id"`
				Status string `json:"status"`
				Reason string `json:"reason"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}

			var task *models.Task
			var err error
			switch models.TaskStatus(params.Status) {
			case models.TaskStatusInProgress:
				current, getErr := t.cfg.DB.GetTask(agent.Team, params.TaskID)
				if getErr != nil {
					return "", getErr
				}
				if current.Status == models.TaskStatusRejected {
					task, err = t.cfg.Engine.Rework(agent.Team, params.TaskID)
				} else {
					task, err = t.cfg.Engine.StartTask(agent.Team, params.TaskID)
				}
			case models.TaskStatusInReview:
				task, err = t.cfg.Engine.SubmitForReview(agent.Team, params.TaskID)
			case models.TaskStatusInApproval:
				task, err = t.cfg.Engine.Approve(agent.Team, params.TaskID)
			case models.TaskStatusRejected:
				if params.Reason == "" {
					return "", fmt.Errorf("rejecting a task requires a reason")
				}
				task, err = t.cfg.Engine.Reject(agent.Team, params.TaskID, params.Reason)
			default:
				return "", fmt.Errorf("status %q is not one of %s", params.Status, strings.Join(statusTransitions, ", "))
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("task T%d is now %s", task.ID, task.Status), nil
		},
	}
}

func (t *domainTools) rebaseToMain(agent *models.Agent) session.DomainTool {
	return session.DomainTool{
		Name:        "rebase_to_main",
		Description: "Rebase your worktree branches for a task onto the current main, updating the recorded base. Fails on conflicts; resolve and commit first.",
		Properties: map[string]any{
			"task_id": map[string]any{
				"type":        "integer",
				"description": "Numeric task id",
			},
		},
		Required: []string{"task_id"},
		Run: func(ctx context.Context, input json.RawMessage) (string, error) {
			var params struct {
				TaskID int64 `json:"task_id"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}

			task, err := t.cfg.DB.GetTask(agent.Team, params.TaskID)
			if err != nil {
				return "", err
			}
			if task.DRI != agent.Name {
				return "", fmt.Errorf("task T%d belongs to %s", task.ID, task.DRI)
			}

			repos := task.Repos()
			sort.Strings(repos)
			var lines []string
			for _, repo := range repos {
				g := t.cfg.GitFor(t.cfg.Paths.AgentWorktreePath(task.Team, agent.Name, repo))
				mainSHA, err := g.RevParse(t.cfg.MainBranch)
				if err != nil {
					return "", fmt.Errorf("%s: %w", repo, err)
				}
				if err := g.Rebase(t.cfg.MainBranch); err != nil {
					if abortErr := g.RebaseAbort(); abortErr != nil {
						return "", fmt.Errorf("%s: rebase failed (%v) and abort failed: %w", repo, err, abortErr)
					}
					return "", fmt.Errorf("%s: rebase onto %s conflicted: %w", repo, t.cfg.MainBranch, err)
				}
				if _, err := t.cfg.DB.UpdateTask(task.Team, task.ID, store.TaskUpdate{
					BaseSHAs: map[string]string{repo: mainSHA},
				}); err != nil {
					return "", fmt.Errorf("%s: recording new base: %w", repo, err)
				}
				lines = append(lines, fmt.Sprintf("%s rebased onto %s at %s", repo, t.cfg.MainBranch, mainSHA))
			}
			if len(lines) == 0 {
				return "no repos recorded for this task yet", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

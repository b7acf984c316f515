// Package dispatch decides which agents get a turn and runs those turns.
// It owns the per-agent sessions, composes turn prompts from unread
// mail, and gates dispatch while the merge coordinator is mutating an
// agent's worktree.
package dispatch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/denyherianto/delegate/internal/session"
	"github.com/denyherianto/delegate/pkg/models"
)

// memoryFile is the per-agent persisted memory, inside the member dir.
const memoryFile = "context.md"

// AgentPaths resolves per-agent filesystem locations.
type AgentPaths interface {
	// MemberDir is the agent's private state directory.
	MemberDir(team, agent string) string
	// WorkDir is the agent's working directory for turns.
	WorkDir(team, agent string) string
}

// SessionSettings carries the session knobs shared by all agents.
type SessionSettings struct {
	Model              string
	MaxContextTokens   int64
	RotationPrompt     string
	DeniedBashPatterns []string
	DisallowedTools    []string
	PermissionMode     string
}

// Agents owns one session per (team, agent), created lazily.
type Agents struct {
	executor session.TurnExecutor
	paths    AgentPaths
	settings SessionSettings
	tools    DomainToolBuilder

	mu       sync.Mutex
	sessions map[agentKey]*session.Session
}

type agentKey struct {
	team string
	name string
}

// NewAgents creates the session registry. tools may be nil, leaving the
// sessions with filesystem tools only.
func NewAgents(executor session.TurnExecutor, paths AgentPaths, settings SessionSettings, tools DomainToolBuilder) *Agents {
	return &Agents{
		executor: executor,
		paths:    paths,
		settings: settings,
		tools:    tools,
		sessions: make(map[agentKey]*session.Session),
	}
}

// SessionFor returns the agent's session, creating it on first use with
// the preamble built from the agent's bio and any persisted memory.
func (a *Agents) SessionFor(agent *models.Agent) *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := agentKey{team: agent.Team, name: agent.Name}
	if s, ok := a.sessions[key]; ok {
		return s
	}

	memberDir := a.paths.MemberDir(agent.Team, agent.Name)
	workDir := a.paths.WorkDir(agent.Team, agent.Name)

	model := agent.Model
	if model == "" {
		model = a.settings.Model
	}

	var tools []session.DomainTool
	if a.tools != nil {
		tools = a.tools(agent)
	}

	s := session.New(session.Config{
		Preamble:           a.preamble(agent),
		Memory:             a.loadMemory(memberDir),
		Cwd:                workDir,
		MaxContextTokens:   a.settings.MaxContextTokens,
		RotationPrompt:     a.settings.RotationPrompt,
		OnRotation:         a.rotationSink(memberDir),
		Model:              model,
		AllowedWritePaths:  []string{workDir, memberDir},
		DeniedBashPatterns: a.settings.DeniedBashPatterns,
		DisallowedTools:    a.settings.DisallowedTools,
		PermissionMode:     a.settings.PermissionMode,
		DomainTools:        tools,
	}, a.executor)
	a.sessions[key] = s
	return s
}

// Drop forgets an agent's session, e.g. after the agent is deleted.
func (a *Agents) Drop(team, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, agentKey{team: team, name: name})
}

func (a *Agents) preamble(agent *models.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s on team %s.\n", agent.Name, agent.Role, agent.Team)
	if agent.Bio != "" {
		b.WriteString("\n")
		b.WriteString(agent.Bio)
		b.WriteString("\n")
	}
	return b.String()
}

// loadMemory reads the persisted memory file; absent means empty.
func (a *Agents) loadMemory(memberDir string) string {
	data, err := os.ReadFile(filepath.Join(memberDir, memoryFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// rotationSink persists rotated memory to the member dir. A nil memory
// means the summary was lost; the old file is kept as the best record.
func (a *Agents) rotationSink(memberDir string) func(*string) {
	return func(memory *string) {
		if memory == nil {
			log.Printf("[dispatch] rotation lost its summary, keeping previous memory file")
			return
		}
		if err := os.MkdirAll(memberDir, 0o755); err != nil {
			log.Printf("[dispatch] member dir: %v", err)
			return
		}
		path := filepath.Join(memberDir, memoryFile)
		if err := os.WriteFile(path, []byte(*memory), 0o644); err != nil {
			log.Printf("[dispatch] persist memory: %v", err)
		}
	}
}

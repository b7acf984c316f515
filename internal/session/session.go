package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxContextTokens is the rotation threshold when none is configured.
const DefaultMaxContextTokens int64 = 80_000

// Config is the construction-time configuration of a Session.
type Config struct {
	// Preamble is the static role instruction block, sent on turn 0 of
	// every generation.
	Preamble string
	// Memory is the accumulated dynamic context; replaced only by rotation.
	Memory string
	// Cwd is the working directory visible to the model.
	Cwd string
	// MaxContextTokens is the rotation threshold; 0 selects the default.
	MaxContextTokens int64
	// RotationPrompt asks the model for its own summary before a reset.
	// Empty means hard reset only.
	RotationPrompt string
	// OnRotation is invoked after each rotation with the new memory, or
	// nil when the summary was lost. Best-effort: panics are recovered.
	OnRotation func(memory *string)
	// Model is the opaque model identifier.
	Model string
	// AllowedWritePaths lists absolute prefixes where file-write tools are
	// permitted; nil means unrestricted.
	AllowedWritePaths []string
	// DeniedBashPatterns lists substrings that deny a shell command.
	DeniedBashPatterns []string
	// AddDirs, DisallowedTools, and PermissionMode pass through to the
	// model runtime.
	AddDirs         []string
	DisallowedTools []string
	PermissionMode  string
	// DomainTools are offered to the model on every turn.
	DomainTools []DomainTool
}

// ConversationDropper is implemented by executors that retain per-handle
// state. The session drops the old handle after a rotation.
type ConversationDropper interface {
	DropConversation(handle string)
}

// Session is one live bounded-context conversation with an external model.
type Session struct {
	cfg      Config
	executor TurnExecutor
	guard    GuardFunc

	mu         sync.Mutex
	id         string
	generation int
	turns      int
	usage      Usage
	handle     string
	memory     string
	// threshold is the active rotation threshold; raised to MaxInt64
	// while the summary turn runs to prevent re-entry.
	threshold int64
}

// New creates a session. The executor is required.
func New(cfg Config, executor TurnExecutor) *Session {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultMaxContextTokens
	}
	return &Session{
		cfg:       cfg,
		executor:  executor,
		guard:     NewGuard(cfg.Cwd, cfg.AllowedWritePaths, cfg.DeniedBashPatterns),
		id:        newSessionID(),
		memory:    cfg.Memory,
		threshold: cfg.MaxContextTokens,
	}
}

// newSessionID returns a fresh 32-hex identifier.
func newSessionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ID returns the current generation's session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Generation returns the rotation count.
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Turns returns the number of completed turns in the current generation.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Usage returns the cumulative accounting of the current generation.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Memory returns the current memory block.
func (s *Session) Memory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

// Handle returns the opaque external session handle.
func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// IsActive reports whether the session holds a runtime handle.
func (s *Session) IsActive() bool {
	return s.Handle() != ""
}

// NeedsRotation reports whether cumulative input tokens exceed the budget.
func (s *Session) NeedsRotation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.InputTokens > s.threshold
}

// Send runs one turn. When the context budget is exceeded the session
// rotates first, so the prompt lands on the fresh generation's turn 0.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	if s.usage.InputTokens > s.threshold {
		s.rotateLocked(ctx, s.cfg.RotationPrompt)
	}
	req := s.buildRequestLocked(prompt)
	s.mu.Unlock()

	result, err := s.executor.ExecuteTurn(ctx, req)
	if err != nil {
		return "", fmt.Errorf("turn failed: %w", err)
	}

	s.mu.Lock()
	s.handle = result.Handle
	s.usage.add(result.Usage)
	s.turns++
	s.mu.Unlock()

	return result.Text, nil
}

// Rotate summarises and resets the session explicitly. An empty prompt
// falls back to the configured rotation prompt.
func (s *Session) Rotate(ctx context.Context, summaryPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if summaryPrompt == "" {
		summaryPrompt = s.cfg.RotationPrompt
	}
	s.rotateLocked(ctx, summaryPrompt)
}

// rotateLocked performs the rotation protocol with s.mu held:
// summarise (if possible), replace memory, notify, hard reset.
func (s *Session) rotateLocked(ctx context.Context, summaryPrompt string) {
	var summary *string

	if summaryPrompt != "" && s.handle != "" {
		// Raise the threshold so the summary turn cannot re-trigger rotation.
		s.threshold = math.MaxInt64
		req := s.buildRequestLocked(summaryPrompt)

		// Release the lock for the model call; rotation is only invoked
		// with the session otherwise idle.
		s.mu.Unlock()
		result, err := s.executor.ExecuteTurn(ctx, req)
		s.mu.Lock()

		if err != nil {
			log.Printf("[session] summary turn failed, resetting without memory: %v", err)
		} else {
			text := result.Text
			summary = &text
		}
	} else if s.memory != "" {
		// Nothing to summarise against; keep the existing memory.
		m := s.memory
		summary = &m
	}

	if summary != nil {
		s.memory = *summary
	} else {
		s.memory = ""
	}

	s.notifyRotation(summary)

	// The abandoned generation's history must not accumulate in the runtime.
	if dropper, ok := s.executor.(ConversationDropper); ok && s.handle != "" {
		dropper.DropConversation(s.handle)
	}

	// Hard reset. Memory persists; everything else starts over.
	s.id = newSessionID()
	s.handle = ""
	s.usage = Usage{}
	s.turns = 0
	s.generation++
	s.threshold = s.cfg.MaxContextTokens
}

// notifyRotation invokes the caller's callback. The callback is
// best-effort: a panic is recovered and the reset continues.
func (s *Session) notifyRotation(memory *string) {
	if s.cfg.OnRotation == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] on_rotation callback panicked: %v", r)
		}
	}()
	s.cfg.OnRotation(memory)
}

// buildRequestLocked composes the outgoing message. On turn 0 of each
// generation the preamble and memory are prepended; afterwards they are
// already in the runtime's retained history.
func (s *Session) buildRequestLocked(prompt string) *TurnRequest {
	message := prompt
	if s.turns == 0 {
		message = s.composeFirstTurn(prompt)
	}
	return &TurnRequest{
		Handle:          s.handle,
		Message:         message,
		Model:           s.cfg.Model,
		Cwd:             s.cfg.Cwd,
		AddDirs:         s.cfg.AddDirs,
		DisallowedTools: s.cfg.DisallowedTools,
		PermissionMode:  s.cfg.PermissionMode,
		DomainTools:     s.cfg.DomainTools,
		CanUseTool:      s.guard,
	}
}

// composeFirstTurn builds the turn-0 user message. The MEMORY section is
// omitted when memory is empty.
func (s *Session) composeFirstTurn(prompt string) string {
	var b strings.Builder
	b.WriteString("## PREAMBLE\n\n")
	b.WriteString(s.cfg.Preamble)
	b.WriteString("\n\n")
	if s.memory != "" {
		b.WriteString("## MEMORY\n\n")
		b.WriteString(s.memory)
		b.WriteString("\n\n")
	}
	b.WriteString(prompt)
	return b.String()
}

// Package session implements the bounded-context conversation with an
// external model: preamble/memory/prompt composition, cumulative token
// accounting, automatic rotation with a model-produced summary, and the
// per-turn tool-permission guard. It is independent of all domain types.
package session

import (
	"context"
	"encoding/json"
)

// TurnUsage is the per-turn token and cost delta reported by the runtime.
type TurnUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Cost             float64
}

// Usage is the cumulative accounting for one session generation.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Cost             float64
}

// add accumulates a turn delta.
func (u *Usage) add(d TurnUsage) {
	u.InputTokens += d.InputTokens
	u.OutputTokens += d.OutputTokens
	u.CacheReadTokens += d.CacheReadTokens
	u.CacheWriteTokens += d.CacheWriteTokens
	u.Cost += d.Cost
}

// GuardFunc is the can-use-tool callback invoked by the runtime for every
// tool call. A non-nil error denies the call with that diagnostic.
type GuardFunc func(tool string, input map[string]any) error

// DomainTool is a caller-supplied tool offered to the model alongside the
// built-in filesystem tools. Run's return value is handed back verbatim as
// the tool result; an error becomes a tool error, not a turn failure.
type DomainTool struct {
	Name        string
	Description string
	// Properties and Required describe the JSON input schema.
	Properties map[string]any
	Required   []string
	Run        func(ctx context.Context, input json.RawMessage) (string, error)
}

// TurnRequest is one turn handed to the runtime.
type TurnRequest struct {
	// Handle resumes a prior runtime conversation; empty starts fresh.
	Handle string
	// Message is the outgoing user message.
	Message string
	// Model is the opaque model identifier.
	Model string
	// Cwd is the working directory visible to the model.
	Cwd string
	// AddDirs, DisallowedTools, and PermissionMode pass through to the
	// model runtime unchanged.
	AddDirs         []string
	DisallowedTools []string
	PermissionMode  string
	// DomainTools are offered to the model in addition to the built-ins.
	DomainTools []DomainTool
	// CanUseTool, when non-nil, must be consulted for every tool call.
	CanUseTool GuardFunc
}

// TurnResult is what the runtime reports back for one turn.
type TurnResult struct {
	// Text is the concatenated assistant text blocks.
	Text string
	// Handle is the opaque session handle for resumption.
	Handle string
	// Usage is the per-turn delta, not a running total.
	Usage TurnUsage
}

// TurnExecutor runs one conversation turn against the model runtime.
// Implementations are treated as a black box by the session.
type TurnExecutor interface {
	ExecuteTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error)
}

package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/denyherianto/delegate/internal/session"
)

const (
	defaultMaxIterations = 50
	maxTokensPerCall     = 8192
)

// Runtime executes turns against the API with full tool support. It
// retains conversation history per handle so sessions resume mid-stream.
// Implements session.TurnExecutor.
type Runtime struct {
	client        *Client
	maxIterations int

	mu            sync.Mutex
	conversations map[string][]anthropic.MessageParam
}

// New creates a runtime over the given client.
func New(client *Client) *Runtime {
	return &Runtime{
		client:        client,
		maxIterations: defaultMaxIterations,
		conversations: make(map[string][]anthropic.MessageParam),
	}
}

// ExecuteTurn runs one turn: sends the message, executes requested tools
// until the model ends its turn, and returns the assistant text together
// with the turn's token usage.
func (r *Runtime) ExecuteTurn(ctx context.Context, req *session.TurnRequest) (*session.TurnResult, error) {
	handle := req.Handle
	if handle == "" {
		handle = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	r.mu.Lock()
	messages := append([]anthropic.MessageParam(nil), r.conversations[handle]...)
	r.mu.Unlock()

	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))

	model := r.client.resolveModel(req.Model)
	pricing := PricingFor(string(model))
	tools := toolDefinitions(req.DisallowedTools, req.DomainTools)
	executor := newToolExecutor(req.Cwd, req.AddDirs, req.DomainTools)

	var usage session.TurnUsage
	var finalText string

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		resp, err := r.client.sdk().Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: maxTokensPerCall,
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return nil, fmt.Errorf("API call failed: %w", err)
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		usage.CacheReadTokens += resp.Usage.CacheReadInputTokens
		usage.CacheWriteTokens += resp.Usage.CacheCreationInputTokens

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var textOutput string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textOutput += variant.Text
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				result := r.runTool(ctx, executor, req.CanUseTool, variant.Name, variant.Input)
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, result.Content, result.IsError))
			}
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			finalText = textOutput
			usage.Cost = pricing.Cost(usage.InputTokens, usage.OutputTokens,
				usage.CacheReadTokens, usage.CacheWriteTokens)

			r.mu.Lock()
			r.conversations[handle] = messages
			r.mu.Unlock()

			return &session.TurnResult{Text: finalText, Handle: handle, Usage: usage}, nil
		}
	}

	return nil, fmt.Errorf("max iterations (%d) reached without end of turn", r.maxIterations)
}

// runTool consults the permission guard, then dispatches to the executor.
// Denials are returned to the model as tool errors, not turn failures.
func (r *Runtime) runTool(ctx context.Context, executor *toolExecutor, guard session.GuardFunc, name string, input json.RawMessage) toolResult {
	if guard != nil {
		var params map[string]any
		if err := json.Unmarshal(input, &params); err != nil {
			return toolResult{Content: fmt.Sprintf("invalid tool input: %v", err), IsError: true}
		}
		if err := guard(name, params); err != nil {
			log.Printf("[runtime] tool %s denied: %v", name, err)
			return toolResult{Content: fmt.Sprintf("permission denied: %v", err), IsError: true}
		}
	}
	return executor.Execute(ctx, name, input)
}

// DropConversation releases the retained history for a handle. Sessions
// call this after rotation so abandoned generations do not accumulate.
func (r *Runtime) DropConversation(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, handle)
}

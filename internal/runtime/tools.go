package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/denyherianto/delegate/internal/session"
)

// defaultBashTimeout bounds a Bash tool call when the model gives none.
const defaultBashTimeout = 2 * time.Minute

// toolDefinitions returns the tool schemas offered to the model: the
// built-in filesystem tools minus any the caller disallowed, plus the
// turn's domain tools.
func toolDefinitions(disallowed []string, domain []session.DomainTool) []anthropic.ToolUnionParam {
	blocked := make(map[string]bool, len(disallowed))
	for _, name := range disallowed {
		blocked[name] = true
	}

	all := []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Read",
				Description: anthropic.String("Read a file from the filesystem. Returns contents with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Absolute path to the file to read",
						},
						"offset": map[string]interface{}{
							"type":        "integer",
							"description": "Line number to start reading from (1-indexed, optional)",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of lines to read (optional)",
						},
					},
					Required: []string{"file_path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Write",
				Description: anthropic.String("Write content to a file, creating parent directories if needed."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Absolute path to the file to write",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Content to write",
						},
					},
					Required: []string{"file_path", "content"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Edit",
				Description: anthropic.String("Replace text in a file. old_string must be unique unless replace_all is true."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Absolute path to the file to edit",
						},
						"old_string": map[string]interface{}{
							"type":        "string",
							"description": "Exact text to find",
						},
						"new_string": map[string]interface{}{
							"type":        "string",
							"description": "Replacement text",
						},
						"replace_all": map[string]interface{}{
							"type":        "boolean",
							"description": "Replace every occurrence (default false)",
						},
					},
					Required: []string{"file_path", "old_string", "new_string"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Bash",
				Description: anthropic.String("Execute a shell command in the working directory and return its output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{
							"type":        "string",
							"description": "The command to execute",
						},
						"timeout": map[string]interface{}{
							"type":        "integer",
							"description": "Timeout in milliseconds (optional)",
						},
					},
					Required: []string{"command"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Glob",
				Description: anthropic.String("Find files matching a glob pattern."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"pattern": map[string]interface{}{
							"type":        "string",
							"description": "Glob pattern, e.g. '**/*.go'",
						},
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Directory to search (optional, defaults to working directory)",
						},
					},
					Required: []string{"pattern"},
				},
			},
		},
	}

	kept := all[:0]
	for _, tool := range all {
		if !blocked[tool.OfTool.Name] {
			kept = append(kept, tool)
		}
	}
	for _, tool := range domain {
		if blocked[tool.Name] {
			continue
		}
		kept = append(kept, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Properties,
					Required:   tool.Required,
				},
			},
		})
	}
	return kept
}

// toolExecutor runs tool calls against the filesystem, rooted at the
// turn's working directory. addDirs extend the reachable path set for
// relative resolution only; absolute paths pass through. Domain tools
// dispatch by name to their Run functions.
type toolExecutor struct {
	workDir string
	addDirs []string
	domain  map[string]session.DomainTool
}

func newToolExecutor(workDir string, addDirs []string, domain []session.DomainTool) *toolExecutor {
	byName := make(map[string]session.DomainTool, len(domain))
	for _, tool := range domain {
		byName[tool.Name] = tool
	}
	return &toolExecutor{workDir: workDir, addDirs: addDirs, domain: byName}
}

// toolResult is the outcome of one tool call, returned to the model.
type toolResult struct {
	Content string
	IsError bool
}

func errorResult(format string, args ...any) toolResult {
	return toolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Execute dispatches a tool call by name.
func (e *toolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) toolResult {
	switch name {
	case "Read":
		return e.execRead(input)
	case "Write":
		return e.execWrite(input)
	case "Edit":
		return e.execEdit(input)
	case "Bash":
		return e.execBash(ctx, input)
	case "Glob":
		return e.execGlob(input)
	default:
		if tool, ok := e.domain[name]; ok {
			out, err := tool.Run(ctx, input)
			if err != nil {
				return errorResult("%v", err)
			}
			return toolResult{Content: out}
		}
		return errorResult("unknown tool: %s", name)
	}
}

// resolvePath anchors relative paths at the working directory, falling
// back to the additional directories when the file exists there.
func (e *toolExecutor) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	primary := filepath.Join(e.workDir, path)
	if _, err := os.Stat(primary); err == nil {
		return primary
	}
	for _, dir := range e.addDirs {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return primary
}

func (e *toolExecutor) execRead(input json.RawMessage) toolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult("invalid parameters: %v", err)
	}

	content, err := os.ReadFile(e.resolvePath(params.FilePath))
	if err != nil {
		return errorResult("failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return errorResult("offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var out strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&out, "%6d\t%s\n", i+1, lines[i])
	}
	return toolResult{Content: out.String()}
}

func (e *toolExecutor) execWrite(input json.RawMessage) toolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult("invalid parameters: %v", err)
	}

	path := e.resolvePath(params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorResult("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return errorResult("failed to write file: %v", err)
	}
	return toolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *toolExecutor) execEdit(input json.RawMessage) toolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult("invalid parameters: %v", err)
	}

	path := e.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return errorResult("failed to read file: %v", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return errorResult("old_string not found in file")
	}
	if !params.ReplaceAll && count > 1 {
		return errorResult("old_string found %d times; must be unique or use replace_all", count)
	}

	var updated string
	if params.ReplaceAll {
		updated = strings.ReplaceAll(text, params.OldString, params.NewString)
	} else {
		updated = strings.Replace(text, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return errorResult("failed to write file: %v", err)
	}
	return toolResult{Content: fmt.Sprintf("edited %s", params.FilePath)}
}

func (e *toolExecutor) execBash(ctx context.Context, input json.RawMessage) toolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult("invalid parameters: %v", err)
	}
	if params.Command == "" {
		return errorResult("empty command")
	}

	timeout := defaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = e.workDir
	output, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return errorResult("command timed out after %s", timeout)
	}
	if err != nil {
		return toolResult{Content: fmt.Sprintf("%s\ncommand failed: %v", output, err), IsError: true}
	}
	return toolResult{Content: string(output)}
}

func (e *toolExecutor) execGlob(input json.RawMessage) toolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult("invalid parameters: %v", err)
	}

	root := e.workDir
	if params.Path != "" {
		root = e.resolvePath(params.Path)
	}

	matches, err := filepath.Glob(filepath.Join(root, params.Pattern))
	if err != nil {
		return errorResult("bad pattern: %v", err)
	}
	if len(matches) == 0 {
		return toolResult{Content: "no matches"}
	}
	return toolResult{Content: strings.Join(matches, "\n")}
}

// Package tools executes the fixed tool set the LLM may call, sandboxed
// inside a pipeline workspace.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/appforge/appforge/pkg/llm"
)

// Canonical tool names.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolListDir   = "list_dir"
	ToolBash      = "bash"
)

// MaxResultChars caps the tool result fed back to the LLM.
const MaxResultChars = 10000

// Result is the outcome of a tool execution. Failures are reported as
// results (never raised) so the LLM can react.
type Result struct {
	Content string
	IsError bool
}

// Executor runs tools inside one pipeline workspace.
type Executor struct {
	workspace   string
	bashTimeout time.Duration
}

// NewExecutor creates an executor rooted at the given workspace directory.
func NewExecutor(workspace string, bashTimeout time.Duration) *Executor {
	if bashTimeout <= 0 {
		bashTimeout = 60 * time.Second
	}
	return &Executor{workspace: workspace, bashTimeout: bashTimeout}
}

// Execute dispatches one tool call. Unknown tool names return an
// unknown_tool result.
func (e *Executor) Execute(ctx context.Context, name string, input map[string]any) Result {
	switch name {
	case ToolReadFile:
		return e.readFile(stringArg(input, "path"))
	case ToolWriteFile:
		return e.writeFile(stringArg(input, "path"), stringArg(input, "content"))
	case ToolListDir:
		return e.listDir(stringArg(input, "path"))
	case ToolBash:
		return e.bash(ctx, stringArg(input, "command"))
	default:
		return Result{Content: fmt.Sprintf("unknown_tool: %s", name), IsError: true}
	}
}

// resolvePath clamps a tool-supplied path inside the workspace. Absolute
// paths and ".." segments cannot escape: the path is cleaned as if rooted
// at the workspace before joining.
func (e *Executor) resolvePath(p string) string {
	cleaned := filepath.Clean("/" + p)
	return filepath.Join(e.workspace, cleaned)
}

func (e *Executor) readFile(path string) Result {
	if path == "" {
		return Result{Content: "read_file: missing path", IsError: true}
	}
	data, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return Result{Content: fmt.Sprintf("read_file %s: %v", path, err), IsError: true}
	}
	return Result{Content: truncate(string(data))}
}

func (e *Executor) writeFile(path, content string) Result {
	if path == "" {
		return Result{Content: "write_file: missing path", IsError: true}
	}
	full := e.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Result{Content: fmt.Sprintf("write_file %s: %v", path, err), IsError: true}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return Result{Content: fmt.Sprintf("write_file %s: %v", path, err), IsError: true}
	}
	return Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

func (e *Executor) listDir(path string) Result {
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(e.resolvePath(path))
	if err != nil {
		return Result{Content: fmt.Sprintf("list_dir %s: %v", path, err), IsError: true}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	for _, entry := range entries {
		kind := "file"
		if entry.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", kind, entry.Name())
	}
	return Result{Content: truncate(sb.String())}
}

// bash runs a shell command in the workspace with a wall-clock limit.
// On timeout the process is killed and the partial output is returned with
// a timeout marker; non-zero exits are reported, not errored.
func (e *Executor) bash(ctx context.Context, command string) Result {
	if command == "" {
		return Result{Content: "bash: missing command", IsError: true}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, e.bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", command)
	cmd.Dir = e.workspace
	// Background children can keep the output pipe open after bash is
	// killed; stop waiting for them shortly after the kill.
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()

	content := string(output)
	switch {
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		content += fmt.Sprintf("\n[command timed out after %s]", e.bashTimeout)
	case ctx.Err() != nil:
		content += "\n[command cancelled]"
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			content += fmt.Sprintf("\n[exit status %d]", exitErr.ExitCode())
		} else {
			return Result{Content: fmt.Sprintf("bash: %v", err), IsError: true}
		}
	}
	return Result{Content: truncate(content)}
}

func truncate(s string) string {
	if len(s) > MaxResultChars {
		return s[:MaxResultChars] + "\n[truncated]"
	}
	return s
}

func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// AllTools is the canonical tool set, in catalog order.
var AllTools = []string{ToolReadFile, ToolWriteFile, ToolListDir, ToolBash}

// Definitions returns the tool catalog for the LLM, filtered to the
// allowed subset. A nil allowlist exposes every tool; an empty non-nil
// allowlist exposes none (text-only agents).
func Definitions(allowed []string) []llm.Tool {
	permit := func(string) bool { return true }
	if allowed != nil {
		set := make(map[string]bool, len(allowed))
		for _, name := range allowed {
			set[name] = true
		}
		permit = func(name string) bool { return set[name] }
	}

	var defs []llm.Tool
	for _, name := range AllTools {
		if !permit(name) {
			continue
		}
		defs = append(defs, toolDefinition(name))
	}
	return defs
}

func toolDefinition(name string) llm.Tool {
	pathProp := map[string]any{"type": "string", "description": "Path relative to the project root"}
	switch name {
	case ToolReadFile:
		return llm.Tool{
			Name:        ToolReadFile,
			Description: "Read a UTF-8 file from the project",
			InputSchema: schema(map[string]any{"path": pathProp}, "path"),
		}
	case ToolWriteFile:
		return llm.Tool{
			Name:        ToolWriteFile,
			Description: "Write a file, creating parent directories and overwriting any existing content",
			InputSchema: schema(map[string]any{
				"path":    pathProp,
				"content": map[string]any{"type": "string", "description": "Full file content"},
			}, "path", "content"),
		}
	case ToolListDir:
		return llm.Tool{
			Name:        ToolListDir,
			Description: "List a directory, one entry per line, marked file or dir",
			InputSchema: schema(map[string]any{"path": pathProp}, "path"),
		}
	default:
		return llm.Tool{
			Name:        ToolBash,
			Description: "Run a shell command in the project root (60 second limit)",
			InputSchema: schema(map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to run"},
			}, "command"),
		}
	}
}

func schema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

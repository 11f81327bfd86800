package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/appforge/appforge/pkg/llm"
	"github.com/appforge/appforge/pkg/models"
	"github.com/appforge/appforge/pkg/tools"
)

// maxEventChars caps tool output in emitted events. The full (10k-capped)
// result is still fed back to the LLM.
const maxEventChars = 500

// ActionType labels one entry in the runner's action log.
type ActionType string

// Action types.
const (
	ActionText       ActionType = "text"
	ActionToolUse    ActionType = "tool_use"
	ActionToolResult ActionType = "tool_result"
)

// Action is one observable step of a runner invocation.
type Action struct {
	Type    ActionType
	Content string
}

// Sink receives per-action notifications during a run. May be nil.
type Sink func(role Role, action string, eventType models.EventType)

// Options configures one runner invocation.
type Options struct {
	Role         Role
	System       string
	Prompt       string
	Attachments  []models.Attachment
	Workspace    string
	MaxTurns     int
	Timeout      time.Duration
	BashTimeout  time.Duration
	AllowedTools []string // nil = full tool set
	MaxTokens    int
}

// Result is the outcome of a runner invocation.
type Result struct {
	Success     bool
	Actions     []Action
	FinalResult string
	Err         error
	DurationMs  int64
	TokenUsage  models.TokenUsage
}

// Runner drives the bounded tool-use loop over the LLM client.
type Runner struct {
	llm llm.Client
}

// NewRunner creates a runner on top of the given LLM client.
func NewRunner(client llm.Client) *Runner {
	return &Runner{llm: client}
}

// Run executes the loop: call the LLM with the tool catalog, execute any
// requested tools, feed results back, and stop on end_turn, turn budget,
// wall-clock timeout or cancellation.
func (r *Runner) Run(ctx context.Context, opts Options, sink Sink) *Result {
	start := time.Now()
	result := &Result{}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	executor := tools.NewExecutor(opts.Workspace, opts.BashTimeout)
	catalog := tools.Definitions(opts.AllowedTools)
	var allowedSet map[string]bool
	if opts.AllowedTools != nil {
		allowedSet = make(map[string]bool, len(opts.AllowedTools))
		for _, name := range opts.AllowedTools {
			allowedSet[name] = true
		}
	}
	messages := []llm.Message{{Role: llm.RoleUser, Content: userContent(opts)}}

	log := slog.With("role", opts.Role.Name)

	for turn := 0; turn < maxTurns; turn++ {
		if time.Since(start) >= timeout {
			log.Warn("Runner wall-clock timeout", "turn", turn, "timeout", timeout)
			break
		}
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}

		resp, err := r.llm.CreateMessage(ctx, &llm.Request{
			System:    opts.System,
			Messages:  messages,
			Tools:     catalog,
			MaxTokens: opts.MaxTokens,
		})
		if err != nil {
			result.Err = err
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}
		result.TokenUsage.Add(models.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})

		var toolResults []llm.ContentBlock
		for _, block := range resp.Content {
			switch block.Type {
			case llm.BlockText:
				result.Actions = append(result.Actions, Action{Type: ActionText, Content: block.Text})
				emit(sink, opts.Role, clip(block.Text), models.EventInfo)

			case llm.BlockToolUse:
				emit(sink, opts.Role, describeToolUse(block), models.EventInfo)
				result.Actions = append(result.Actions, Action{Type: ActionToolUse, Content: describeToolUse(block)})

				toolResult := tools.Result{Content: fmt.Sprintf("unknown_tool: %s", block.Name), IsError: true}
				if allowedSet == nil || allowedSet[block.Name] {
					toolResult = executor.Execute(ctx, block.Name, parseInput(block.Input))
				}
				result.Actions = append(result.Actions, Action{Type: ActionToolResult, Content: clip(toolResult.Content)})
				eventType := models.EventInfo
				if toolResult.IsError {
					eventType = models.EventWarning
				}
				emit(sink, opts.Role, clip(toolResult.Content), eventType)

				toolResults = append(toolResults, llm.ContentBlock{
					Type:      llm.BlockToolResult,
					ToolUseID: block.ID,
					Content:   toolResult.Content,
					IsError:   toolResult.IsError,
				})
			}
		}

		if resp.StopReason == llm.StopEndTurn {
			break
		}
		// A reply with no tool uses that is not end_turn would loop forever
		// if re-sent unchanged; exit normally instead.
		if len(toolResults) == 0 {
			break
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: toolResults},
		)
	}

	if ctx.Err() != nil {
		result.Err = ctx.Err()
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	result.Success = true
	result.FinalResult = concatText(result.Actions)
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// userContent builds the initial user message: prompt text plus any
// attachments as base64 media blocks.
func userContent(opts Options) []llm.ContentBlock {
	content := []llm.ContentBlock{llm.TextBlock(opts.Prompt)}
	for _, att := range opts.Attachments {
		blockType := llm.BlockImage
		if att.MediaType == "application/pdf" {
			blockType = llm.BlockDocument
		}
		content = append(content, llm.ContentBlock{
			Type: blockType,
			Source: &llm.MediaSource{
				Type:      "base64",
				MediaType: att.MediaType,
				Data:      att.Data,
			},
		})
	}
	return content
}

func parseInput(raw json.RawMessage) map[string]any {
	input := make(map[string]any)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	return input
}

func describeToolUse(block llm.ContentBlock) string {
	args := parseInput(block.Input)
	switch block.Name {
	case tools.ToolBash:
		return fmt.Sprintf("$ %s", clip(fmt.Sprint(args["command"])))
	case tools.ToolReadFile, tools.ToolListDir:
		return fmt.Sprintf("%s %v", block.Name, args["path"])
	case tools.ToolWriteFile:
		return fmt.Sprintf("write_file %v", args["path"])
	default:
		return block.Name
	}
}

func concatText(actions []Action) string {
	var out string
	for _, a := range actions {
		if a.Type != ActionText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += a.Content
	}
	return out
}

func emit(sink Sink, role Role, action string, eventType models.EventType) {
	if sink == nil || action == "" {
		return
	}
	sink(role, action, eventType)
}

func clip(s string) string {
	if len(s) > maxEventChars {
		return s[:maxEventChars] + "..."
	}
	return s
}

// Package interaction is the front door of the assistant: it turns user
// messages and execution-agent notifications into LLM turns, dispatches
// the interaction tools, and decides what the user actually sees.
package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alynlabs/alyn/internal/agents/toolcall"
	"github.com/alynlabs/alyn/internal/conversation"
	"github.com/alynlabs/alyn/internal/journal"
	"github.com/alynlabs/alyn/internal/lessons"
	"github.com/alynlabs/alyn/internal/llm"
	"github.com/alynlabs/alyn/internal/metrics"
	"github.com/alynlabs/alyn/internal/profile"
	"github.com/alynlabs/alyn/internal/roster"
)

// MaxToolIterations bounds the interaction loop.
const MaxToolIterations = 8

// ErrorReply is the user-facing text callers should deliver when a turn
// fails outright.
const ErrorReply = "Une erreur s'est produite. Réessaie ?"

// Spawner starts an execution-agent run without blocking the current
// turn; results come back later as agent messages.
type Spawner interface {
	Spawn(agentName, instructions string)
}

// Sender delivers text to a user-facing channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// Result is the outcome of handling one inbound message.
type Result struct {
	Success             bool
	Response            string
	Error               string
	ExecutionAgentsUsed int
}

// Deps bundles the services the runtime coordinates.
type Deps struct {
	Provider llm.Provider
	Model    string
	Convo    *conversation.Log
	Dedup    *conversation.DuplicateDetector
	Roster   *roster.Roster
	Journals *journal.Store
	Lessons  *lessons.Store
	Profile  *profile.Store
	Spawner  Spawner
	Sender   Sender
}

// Runtime processes user and agent messages through the interaction
// loop. Safe for concurrent use.
type Runtime struct {
	provider llm.Provider
	model    string
	convo    *conversation.Log
	dedup    *conversation.DuplicateDetector
	roster   *roster.Roster
	journals *journal.Store
	lessons  *lessons.Store
	profile  *profile.Store
	spawner  Spawner
	sender   Sender

	reminders *ReminderParser
	logger    *slog.Logger

	lastSentMu sync.Mutex
	lastSent   map[string]string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger configures the runtime's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRuntime wires an interaction runtime from its dependencies.
func NewRuntime(deps Deps, opts ...Option) *Runtime {
	r := &Runtime{
		provider:  deps.Provider,
		model:     deps.Model,
		convo:     deps.Convo,
		dedup:     deps.Dedup,
		roster:    deps.Roster,
		journals:  deps.Journals,
		lessons:   deps.Lessons,
		profile:   deps.Profile,
		spawner:   deps.Spawner,
		sender:    deps.Sender,
		reminders: NewReminderParser(),
		logger:    slog.Default().With("component", "interaction"),
		lastSent:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleUserMessage processes a message authored by the user.
func (r *Runtime) HandleUserMessage(ctx context.Context, text string) Result {
	r.logger.Info("processing user message", "length", len(text))

	if r.dedup.CheckAndMark(text, "user") {
		r.logger.Info("duplicate user message detected, skipping")
		metrics.DuplicatesSuppressed.Inc()
		return Result{Success: true}
	}

	transcript, err := r.convo.Transcript()
	if err != nil {
		r.logger.Error("transcript load failed", "error", err)
		return Result{Error: err.Error()}
	}
	if err := r.convo.RecordUserMessage(text); err != nil {
		r.logger.Error("conversation log write failed", "error", err)
		return Result{Error: err.Error()}
	}

	return r.runTurn(ctx, text, transcript, false)
}

// HandleAgentMessage processes a status update emitted by an execution
// agent. Reminder traffic is answered directly without an LLM call.
func (r *Runtime) HandleAgentMessage(ctx context.Context, text string) Result {
	r.logger.Info("processing agent message", "length", len(text))

	if r.dedup.CheckAndMark(text, "execution_agent") {
		r.logger.Info("duplicate agent message detected, skipping")
		metrics.DuplicatesSuppressed.Inc()
		return Result{Success: true}
	}

	if result, handled := r.tryReminderFastPath(ctx, text); handled {
		return result
	}

	transcript, err := r.convo.Transcript()
	if err != nil {
		r.logger.Error("transcript load failed", "error", err)
		return Result{Error: err.Error()}
	}
	if err := r.convo.RecordAgentMessage(text); err != nil {
		r.logger.Error("conversation log write failed", "error", err)
		return Result{Error: err.Error()}
	}

	return r.runTurn(ctx, text, transcript, true)
}

// tryReminderFastPath answers recognized reminder traffic with a canned
// reply. General reminder chatter only short-circuits when it carries an
// execution outcome marker; anything else deserves a real LLM turn.
func (r *Runtime) tryReminderFastPath(ctx context.Context, text string) (Result, bool) {
	parsed := r.reminders.Parse(text)
	switch parsed.Kind {
	case ReminderNotification, ReminderCreation:
	case ReminderGeneral:
		trimmed := strings.TrimSpace(text)
		if !strings.HasPrefix(trimmed, "[SUCCESS]") && !strings.HasPrefix(trimmed, "[FAILED]") {
			return Result{}, false
		}
	default:
		return Result{}, false
	}

	reply := r.reminders.FormatReply(parsed)
	if err := r.convo.RecordReply(reply); err != nil {
		r.logger.Error("conversation log write failed", "error", err)
		return Result{Error: err.Error()}, true
	}
	r.deliver(ctx, reply)
	return Result{Success: true, Response: reply, ExecutionAgentsUsed: 1}, true
}

func (r *Runtime) runTurn(ctx context.Context, text, transcript string, fromAgent bool) Result {
	systemPrompt := r.buildSystemPrompt(ctx)
	turn := composeTurn(text, transcript, r.roster.Names(), fromAgent)
	messages := []llm.Message{{Role: llm.RoleUser, Content: turn}}

	summary, err := r.runLoop(ctx, systemPrompt, messages)
	if err != nil {
		r.logger.Error("interaction loop failed", "error", err)
		return Result{Error: err.Error()}
	}

	final := summary.finalResponse()
	if final != "" && len(summary.userMessages) == 0 {
		if r.shouldEmitAssistantReply(final) {
			if err := r.convo.RecordReply(final); err != nil {
				r.logger.Error("conversation log write failed", "error", err)
			}
			r.deliver(ctx, final)
		} else {
			final = ""
		}
	}

	return Result{
		Success:             true,
		Response:            final,
		ExecutionAgentsUsed: len(summary.executionAgents),
	}
}

type loopSummary struct {
	lastAssistantText string
	userMessages      []string
	toolNames         []string
	executionAgents   map[string]struct{}
}

// finalResponse picks the user-visible text: the last message sent
// through send_message_to_user wins, otherwise the terminal assistant
// text.
func (s *loopSummary) finalResponse() string {
	if len(s.userMessages) > 0 {
		return s.userMessages[len(s.userMessages)-1]
	}
	return s.lastAssistantText
}

func (r *Runtime) runLoop(ctx context.Context, systemPrompt string, messages []llm.Message) (*loopSummary, error) {
	summary := &loopSummary{executionAgents: make(map[string]struct{})}
	parser := toolcall.NewParser(ToolNames(), toolcall.WithLogger(r.logger))

	for iteration := 1; iteration <= MaxToolIterations; iteration++ {
		assistant, err := r.provider.Complete(ctx, llm.Request{
			Model:    r.model,
			System:   systemPrompt,
			Messages: messages,
			Tools:    toolSchemas,
		})
		if err != nil {
			return nil, fmt.Errorf("llm call: %w", err)
		}

		if content := strings.TrimSpace(assistant.Content); content != "" {
			summary.lastAssistantText = content
		}

		calls := parser.Parse(assistant.ToolCalls)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   assistant.Content,
			ToolCalls: assistant.ToolCalls,
		})

		if len(calls) == 0 {
			if summary.lastAssistantText == "" && len(summary.userMessages) == 0 {
				r.logger.Warn("interaction loop exited without assistant content")
			}
			return summary, nil
		}

		for _, call := range calls {
			summary.toolNames = append(summary.toolNames, call.Name)

			if call.Name == "send_message_to_agent" {
				if name, ok := call.Arguments["agent_name"].(string); ok && name != "" {
					summary.executionAgents[roster.Key(name)] = struct{}{}
				}
			}

			if reason, invalid := call.Invalid(); invalid {
				r.logger.Warn("invalid tool call rejected", "tool", call.Name)
				messages = append(messages, r.toolMessage(call, toolcall.FormatError(call.Name, map[string]any{}, reason)))
				continue
			}

			result := r.handleToolCall(ctx, call.Name, call.Arguments)
			if result.UserMessage != "" {
				summary.userMessages = append(summary.userMessages, result.UserMessage)
			}

			var content string
			if result.Success {
				content = toolcall.FormatResult(call.Name, call.Arguments, result.Payload)
			} else {
				content = toolcall.FormatError(call.Name, call.Arguments, errorText(result.Payload))
			}
			messages = append(messages, r.toolMessage(call, content))
		}
	}

	return nil, fmt.Errorf("reached tool iteration limit without final response")
}

// shouldEmitAssistantReply suppresses empty and recently repeated
// assistant text.
func (r *Runtime) shouldEmitAssistantReply(reply string) bool {
	if strings.TrimSpace(reply) == "" {
		return false
	}
	if r.dedup.CheckAndMark(reply, "assistant") {
		r.logger.Warn("duplicate assistant reply suppressed", "preview", preview(reply))
		return false
	}
	return true
}

// deliver pushes text out on the turn's channel, if one is attached.
func (r *Runtime) deliver(ctx context.Context, text string) {
	channelID := ChannelID(ctx)
	if channelID == "" || r.sender == nil {
		return
	}
	r.lastSentMu.Lock()
	duplicate := r.lastSent[channelID] == text
	r.lastSentMu.Unlock()
	if duplicate {
		return
	}
	if err := r.sender.Send(ctx, channelID, text); err != nil {
		r.logger.Error("outbound delivery failed", "channel", channelID, "error", err)
		return
	}
	metrics.OutboundMessages.Inc()
	r.lastSentMu.Lock()
	r.lastSent[channelID] = text
	r.lastSentMu.Unlock()
}

func (r *Runtime) toolMessage(call toolcall.Call, content string) llm.Message {
	id := call.ID
	if id == "" {
		id = call.Name
	}
	return llm.Message{Role: llm.RoleTool, ToolCallID: id, Content: content}
}

func errorText(payload map[string]any) string {
	if payload != nil {
		if msg, ok := payload["error"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := payload["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return "tool execution failed"
}

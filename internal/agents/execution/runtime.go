package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alynlabs/alyn/internal/agents/toolcall"
	"github.com/alynlabs/alyn/internal/journal"
	"github.com/alynlabs/alyn/internal/llm"
	"github.com/alynlabs/alyn/internal/metrics"
)

// Loop bounds.
const (
	MaxToolIterations     = 5
	repeatedPlanThreshold = 2
)

// Result is the outcome of one agent run.
type Result struct {
	AgentName     string
	Success       bool
	Response      string
	Error         string
	ToolsExecuted []string
}

// Runtime executes instructions against named agents. One Runtime serves
// all agents; per-run state, including the tool registry, lives on the
// stack.
type Runtime struct {
	provider          llm.Provider
	model             string
	buildRegistry     RegistryBuilder
	journals          *journal.Store
	conversationLimit int
	logger            *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger configures the runtime's logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConversationLimit caps how many past request turns agents embed in
// their prompts.
func WithConversationLimit(limit int) RuntimeOption {
	return func(r *Runtime) {
		if limit > 0 {
			r.conversationLimit = limit
		}
	}
}

// NewRuntime creates an execution runtime. buildRegistry is invoked once
// per run with the running agent's name; a nil builder yields agents
// without tools.
func NewRuntime(provider llm.Provider, model string, buildRegistry RegistryBuilder, journals *journal.Store, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		provider:      provider,
		model:         model,
		buildRegistry: buildRegistry,
		journals:      journals,
		logger:        slog.Default().With("component", "execution"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the instructions as the named agent. Failures never
// surface as panics or errors; they come back inside the Result so
// callers can relay them to the interaction layer.
func (r *Runtime) Run(ctx context.Context, agentName, instructions string) Result {
	agent := NewAgent(agentName, r.journals, r.conversationLimit)
	if err := agent.RecordRequest(instructions); err != nil {
		r.logger.Warn("journal write failed", "agent", agentName, "error", err)
	}

	registry := NewRegistry()
	if r.buildRegistry != nil {
		if built := r.buildRegistry(agentName); built != nil {
			registry = built
		}
	}

	result := r.run(ctx, agent, registry, instructions)
	if result.Success {
		metrics.AgentRuns.WithLabelValues("success").Inc()
	} else {
		metrics.AgentRuns.WithLabelValues("failure").Inc()
		if err := agent.RecordResponse("Error: " + result.Error); err != nil {
			r.logger.Warn("journal write failed", "agent", agentName, "error", err)
		}
	}
	return result
}

func (r *Runtime) run(ctx context.Context, agent *Agent, registry *Registry, instructions string) Result {
	log := r.logger.With("agent", agent.Name)

	systemPrompt, err := agent.BuildSystemPrompt(registry.Schemas())
	if err != nil {
		log.Error("prompt assembly failed", "error", err)
		return failure(agent.Name, err.Error())
	}

	parser := toolcall.NewParser(registry.Names(), toolcall.WithLogger(log))
	messages := []llm.Message{{Role: llm.RoleUser, Content: instructions}}

	var toolsExecuted []string
	planSignatures := make(map[string]int)
	executedToolSignatures := make(map[string]struct{})

	for iteration := 1; iteration <= MaxToolIterations; iteration++ {
		log.Debug("requesting plan", "iteration", iteration)
		assistant, err := r.provider.Complete(ctx, llm.Request{
			Model:    r.model,
			System:   systemPrompt,
			Messages: messages,
			Tools:    registry.Schemas(),
		})
		if err != nil {
			log.Error("llm call failed", "iteration", iteration, "error", err)
			return failureWithTools(agent.Name, err.Error(), toolsExecuted)
		}

		rawCalls := assistant.ToolCalls
		calls := parser.Parse(rawCalls)

		// One side-effecting tool per step; extra calls are dropped so
		// their ordering can never matter.
		if len(calls) > 1 {
			log.Warn("multiple tool calls in one step, keeping the first",
				"kept", calls[0].Name, "dropped", len(calls)-1)
			calls = calls[:1]
			rawCalls = matchRawCall(rawCalls, calls[0])
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   assistant.Content,
			ToolCalls: rawCalls,
		})

		planSig := planSignature(assistant.Content, calls)
		planSignatures[planSig]++
		if planSignatures[planSig] >= repeatedPlanThreshold {
			log.Info("repeated plan detected, terminating early", "iteration", iteration)
			response := strings.TrimSpace(assistant.Content)
			if response == "" {
				response = "Plan repeated; no further action taken."
			}
			return r.finish(agent, response, toolsExecuted)
		}

		if len(calls) == 0 {
			response := strings.TrimSpace(assistant.Content)
			if response == "" {
				response = "No action required."
			}
			return r.finish(agent, response, toolsExecuted)
		}

		for _, call := range calls {
			if reason, invalid := call.Invalid(); invalid {
				log.Warn("invalid tool call", "tool", call.Name, "reason", reason)
				messages = append(messages, toolMessage(call, toolcall.FormatError(call.Name, map[string]any{}, reason)))
				continue
			}

			sig := toolcall.Signature(call.Name, call.Arguments)
			if _, seen := executedToolSignatures[sig]; seen {
				log.Info("identical tool invocation detected, ending early", "tool", call.Name)
				response := strings.TrimSpace(assistant.Content)
				if response == "" {
					response = "Repeated tool invocation; stopping."
				}
				return r.finish(agent, response, toolsExecuted)
			}
			executedToolSignatures[sig] = struct{}{}
			toolsExecuted = append(toolsExecuted, call.Name)

			log.Info("executing tool", "tool", call.Name, "iteration", iteration)
			content := r.executeTool(ctx, agent, registry, call)
			messages = append(messages, toolMessage(call, content))
		}
	}

	log.Warn("tool iteration limit reached")
	return failureWithTools(agent.Name, "Reached tool iteration limit without final response", toolsExecuted)
}

// executeTool runs one accepted call and returns the envelope to feed
// back to the LLM. Tool errors become failure envelopes, never panics up
// the loop.
func (r *Runtime) executeTool(ctx context.Context, agent *Agent, registry *Registry, call toolcall.Call) string {
	log := r.logger.With("agent", agent.Name, "tool", call.Name)

	tool, ok := registry.Get(call.Name)
	if !ok {
		log.Warn("tool not registered")
		return toolcall.FormatError(call.Name, call.Arguments, "Unknown tool: "+call.Name)
	}

	argsJSON, _ := json.Marshal(call.Arguments)
	result, err := tool.Invoke(ctx, call.Arguments)
	if err != nil {
		log.Warn("tool failed", "error", err)
		agent.RecordToolExecution(call.Name, string(argsJSON), err.Error())
		return toolcall.FormatError(call.Name, call.Arguments, err.Error())
	}

	log.Info("tool completed")
	resultJSON, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		resultJSON = []byte(fmt.Sprintf("%v", result))
	}
	agent.RecordToolExecution(call.Name, string(argsJSON), string(resultJSON))
	return toolcall.FormatResult(call.Name, call.Arguments, result)
}

func (r *Runtime) finish(agent *Agent, response string, toolsExecuted []string) Result {
	if err := agent.RecordResponse(response); err != nil {
		r.logger.Warn("journal write failed", "agent", agent.Name, "error", err)
	}
	return Result{
		AgentName:     agent.Name,
		Success:       true,
		Response:      response,
		ToolsExecuted: toolsExecuted,
	}
}

func failure(agentName, errMsg string) Result {
	return failureWithTools(agentName, errMsg, nil)
}

func failureWithTools(agentName, errMsg string, toolsExecuted []string) Result {
	return Result{
		AgentName:     agentName,
		Success:       false,
		Response:      "Failed to complete task: " + errMsg,
		Error:         errMsg,
		ToolsExecuted: toolsExecuted,
	}
}

// matchRawCall reduces the raw slice to the entry the kept call came
// from. Parsing drops nameless entries, so positions cannot be trusted.
func matchRawCall(raw []toolcall.RawCall, kept toolcall.Call) []toolcall.RawCall {
	for _, r := range raw {
		if r.ID == kept.ID && r.Name == kept.Name {
			return []toolcall.RawCall{r}
		}
	}
	return raw[:1]
}

func toolMessage(call toolcall.Call, content string) llm.Message {
	id := call.ID
	if id == "" {
		id = call.Name
	}
	return llm.Message{Role: llm.RoleTool, ToolCallID: id, Content: content}
}

// planSignature fingerprints one loop step: the normalized assistant text
// plus the canonical form of every accepted call.
func planSignature(content string, calls []toolcall.Call) string {
	parts := []string{strings.TrimSpace(content)}
	for _, call := range calls {
		parts = append(parts, toolcall.Signature(call.Name, call.Arguments))
	}
	return strings.Join(parts, "\x00")
}

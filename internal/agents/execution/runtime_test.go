package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alynlabs/alyn/internal/agents/toolcall"
	"github.com/alynlabs/alyn/internal/journal"
	"github.com/alynlabs/alyn/internal/llm"
)

// scriptedProvider replays a fixed sequence of assistant messages; the
// last one repeats once the script runs out.
type scriptedProvider struct {
	mu      sync.Mutex
	script  []llm.AssistantMessage
	calls   int
	history [][]llm.Message
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (*llm.AssistantMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, req.Messages)
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++
	msg := p.script[idx]
	return &msg, nil
}

func echoTool(name string) FuncTool {
	return FuncTool{
		ToolName:        name,
		ToolDescription: "test tool",
		ToolParameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args}, nil
		},
	}
}

func testRuntime(t *testing.T, provider llm.Provider, tools ...Tool) *Runtime {
	t.Helper()
	journals, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	registry := NewRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return NewRuntime(provider, "test-model", StaticRegistry(registry), journals)
}

func toolCallMsg(name, args string) llm.AssistantMessage {
	return llm.AssistantMessage{
		ToolCalls: []toolcall.RawCall{{ID: "call_1", Name: name, Arguments: args}},
	}
}

func TestPlainAnswerFinishesFirstIteration(t *testing.T) {
	provider := &scriptedProvider{script: []llm.AssistantMessage{{Content: "All done."}}}
	rt := testRuntime(t, provider)

	result := rt.Run(context.Background(), "worker", "do something")
	assert.True(t, result.Success)
	assert.Equal(t, "All done.", result.Response)
	assert.Empty(t, result.ToolsExecuted)
	assert.Equal(t, 1, provider.calls)
}

func TestRepeatedPlanCutsOff(t *testing.T) {
	// Identical content and no tool calls every time: the second sighting
	// of the same plan terminates the loop.
	provider := &scriptedProvider{script: []llm.AssistantMessage{{Content: ""}}}
	rt := testRuntime(t, provider)

	result := rt.Run(context.Background(), "worker", "loop forever")
	assert.True(t, result.Success)
	assert.Equal(t, "No action required.", result.Response)
	assert.Equal(t, 1, provider.calls, "empty content with no calls stops immediately")
}

func TestRepeatedToolPlanCutsOffAtThreshold(t *testing.T) {
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		toolCallMsg("ping", `{"n":1}`),
		toolCallMsg("ping", `{"n":1}`),
	}}
	rt := testRuntime(t, provider, echoTool("ping"))

	result := rt.Run(context.Background(), "worker", "keep pinging")
	assert.True(t, result.Success)
	assert.Equal(t, "Plan repeated; no further action taken.", result.Response)
	assert.LessOrEqual(t, provider.calls, 2, "plan repeat threshold is two sightings")
	// The first call executed; the repeat was caught before a second
	// execution.
	assert.Equal(t, []string{"ping"}, result.ToolsExecuted)
}

func TestIdenticalToolSignatureStopsEarly(t *testing.T) {
	// Different assistant text each round defeats the plan signature; the
	// identical (name, args) pair still stops the run.
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		{Content: "round one", ToolCalls: []toolcall.RawCall{{ID: "a", Name: "ping", Arguments: `{"n":1}`}}},
		{Content: "round two", ToolCalls: []toolcall.RawCall{{ID: "b", Name: "ping", Arguments: `{"n":1}`}}},
		{Content: "round three", ToolCalls: []toolcall.RawCall{{ID: "c", Name: "ping", Arguments: `{"n":1}`}}},
	}}
	rt := testRuntime(t, provider, echoTool("ping"))

	result := rt.Run(context.Background(), "worker", "go")
	assert.True(t, result.Success)
	assert.Equal(t, "round two", result.Response)
	assert.Equal(t, []string{"ping"}, result.ToolsExecuted, "second identical invocation never executed")
	assert.Equal(t, 2, provider.calls)
}

func TestIterationLimitExhaustionFails(t *testing.T) {
	// A fresh tool call every iteration defeats both cutoffs.
	script := make([]llm.AssistantMessage, MaxToolIterations+1)
	for i := range script {
		script[i] = llm.AssistantMessage{
			Content:   fmt.Sprintf("step %d", i),
			ToolCalls: []toolcall.RawCall{{ID: fmt.Sprintf("c%d", i), Name: "ping", Arguments: fmt.Sprintf(`{"n":%d}`, i)}},
		}
	}
	provider := &scriptedProvider{script: script}
	rt := testRuntime(t, provider, echoTool("ping"))

	result := rt.Run(context.Background(), "worker", "never stop")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "iteration limit")
	assert.Len(t, result.ToolsExecuted, MaxToolIterations)
}

func TestMultipleToolCallsKeepFirst(t *testing.T) {
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		{ToolCalls: []toolcall.RawCall{
			{ID: "a", Name: "first", Arguments: `{}`},
			{ID: "b", Name: "second", Arguments: `{}`},
		}},
		{Content: "done"},
	}}
	rt := testRuntime(t, provider, echoTool("first"), echoTool("second"))

	result := rt.Run(context.Background(), "worker", "go")
	assert.True(t, result.Success)
	assert.Equal(t, []string{"first"}, result.ToolsExecuted)
}

func TestNamelessCallsNeverDesyncKeptRawCall(t *testing.T) {
	// The parser drops nameless entries, so the kept call may not sit at
	// index zero of the raw slice.
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		{ToolCalls: []toolcall.RawCall{
			{ID: "a", Name: "", Arguments: `{}`},
			{ID: "b", Name: "ping", Arguments: `{}`},
			{ID: "c", Name: "pong", Arguments: `{}`},
		}},
		{Content: "done"},
	}}
	rt := testRuntime(t, provider, echoTool("ping"), echoTool("pong"))

	result := rt.Run(context.Background(), "worker", "go")
	assert.True(t, result.Success)
	assert.Equal(t, []string{"ping"}, result.ToolsExecuted)

	// The recorded assistant message carries the raw call that actually
	// ran, and the tool message answers its ID.
	require.Len(t, provider.history, 2)
	second := provider.history[1]
	assistantMsg := second[1]
	require.Equal(t, llm.RoleAssistant, assistantMsg.Role)
	require.Len(t, assistantMsg.ToolCalls, 1)
	assert.Equal(t, "b", assistantMsg.ToolCalls[0].ID)
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "b", last.ToolCallID)
}

func TestInvalidArgumentsFeedRejectionBack(t *testing.T) {
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		toolCallMsg("firstsecond", `{}`),
		{Content: "recovered"},
	}}
	rt := testRuntime(t, provider, echoTool("first"), echoTool("second"))

	result := rt.Run(context.Background(), "worker", "go")
	assert.True(t, result.Success)
	assert.Equal(t, "recovered", result.Response)
	assert.Empty(t, result.ToolsExecuted, "rejected calls never execute")

	// The second request carried the structured rejection as a tool
	// message.
	require.Len(t, provider.history, 2)
	second := provider.history[1]
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "CRITICAL ERROR")
}

func TestToolErrorSurfacesToLLMAndRunContinues(t *testing.T) {
	failing := FuncTool{
		ToolName:        "flaky",
		ToolDescription: "always fails",
		ToolParameters:  json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("integration down")
		},
	}
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		toolCallMsg("flaky", `{}`),
		{Content: "gave up gracefully"},
	}}
	rt := testRuntime(t, provider, failing)

	result := rt.Run(context.Background(), "worker", "try it")
	assert.True(t, result.Success)
	assert.Equal(t, "gave up gracefully", result.Response)

	require.Len(t, provider.history, 2)
	second := provider.history[1]
	last := second[len(second)-1]
	assert.Contains(t, last.Content, `"status":"error"`)
	assert.Contains(t, last.Content, "integration down")
}

func TestRunWritesJournal(t *testing.T) {
	journals, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	registry := NewRegistry()
	registry.Register(echoTool("ping"))
	provider := &scriptedProvider{script: []llm.AssistantMessage{
		toolCallMsg("ping", `{"n":1}`),
		{Content: "finished"},
	}}
	rt := NewRuntime(provider, "m", StaticRegistry(registry), journals)

	result := rt.Run(context.Background(), "worker", "go")
	require.True(t, result.Success)

	entries, err := journals.Entries("worker")
	require.NoError(t, err)
	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		tags = append(tags, e.Tag)
	}
	// The incoming instruction is journaled by the run itself, so
	// trigger-fired runs build up the same history as dispatched ones.
	require.NotEmpty(t, entries)
	assert.Equal(t, journal.TagRequest, entries[0].Tag)
	assert.Equal(t, "go", entries[0].Payload)
	assert.Contains(t, tags, journal.TagAction)
	assert.Contains(t, tags, journal.TagToolResponse)
	assert.Contains(t, tags, journal.TagResponse)
}

func TestReminderAgentPromptIsAcknowledgeOnly(t *testing.T) {
	journals, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	agent := NewAgent("Rappels personnels", journals, 0)

	prompt, err := agent.BuildSystemPrompt(nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "acknowledge the reminder")
	assert.Contains(t, prompt, "Rappels personnels")
}

func TestPromptEmbedsHistory(t *testing.T) {
	journals, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, journals.RecordRequest("worker", "earlier instruction"))
	agent := NewAgent("worker", journals, 0)

	prompt, err := agent.BuildSystemPrompt(nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "# Execution History")
	assert.Contains(t, prompt, "earlier instruction")
}

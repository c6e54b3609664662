package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alynlabs/alyn/internal/agents/execution"
	"github.com/alynlabs/alyn/internal/agents/interaction"
	"github.com/alynlabs/alyn/internal/conversation"
	"github.com/alynlabs/alyn/internal/journal"
	"github.com/alynlabs/alyn/internal/lessons"
	"github.com/alynlabs/alyn/internal/llm"
	"github.com/alynlabs/alyn/internal/profile"
	"github.com/alynlabs/alyn/internal/roster"
)

type scriptedProvider struct {
	mu     sync.Mutex
	script []llm.AssistantMessage
	calls  int
}

func (p *scriptedProvider) Complete(_ context.Context, _ llm.Request) (*llm.AssistantMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++
	msg := p.script[idx]
	return &msg, nil
}

type failingProvider struct{}

func (failingProvider) Complete(_ context.Context, _ llm.Request) (*llm.AssistantMessage, error) {
	return nil, fmt.Errorf("model unavailable")
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fixture struct {
	gateway *Gateway
	convo   *conversation.Log
	sender  *recordingSender
}

func newFixture(t *testing.T, interactionScript, executionScript []llm.AssistantMessage) *fixture {
	t.Helper()
	dir := t.TempDir()

	convo, err := conversation.OpenLog(filepath.Join(dir, "conversation.log"))
	require.NoError(t, err)
	agentRoster, err := roster.Open(filepath.Join(dir, "roster.json"))
	require.NoError(t, err)
	journals, err := journal.NewStore(filepath.Join(dir, "journals"))
	require.NoError(t, err)
	lessonStore, err := lessons.OpenStore(filepath.Join(dir, "lessons.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lessonStore.Close() })
	profileStore, err := profile.Open(filepath.Join(dir, "profile.json"))
	require.NoError(t, err)

	sender := &recordingSender{}
	executionRuntime := execution.NewRuntime(
		&scriptedProvider{script: executionScript}, "exec-model", nil, journals)

	g := New(executionRuntime, sender)
	interactionRuntime := interaction.NewRuntime(interaction.Deps{
		Provider: &scriptedProvider{script: interactionScript},
		Model:    "chat-model",
		Convo:    convo,
		Dedup:    conversation.NewDuplicateDetector(conversation.DefaultDedupWindow, conversation.DefaultDedupEntries),
		Roster:   agentRoster,
		Journals: journals,
		Lessons:  lessonStore,
		Profile:  profileStore,
		Spawner:  g,
		Sender:   sender,
	})
	g.Bind(interactionRuntime)
	return &fixture{gateway: g, convo: convo, sender: sender}
}

func TestInboundTurnDeliversReply(t *testing.T) {
	f := newFixture(t,
		[]llm.AssistantMessage{{Content: "Bien reçu !"}},
		[]llm.AssistantMessage{{Content: "unused"}})

	f.gateway.HandleInbound("chat-42", "salut")
	f.gateway.Drain()

	assert.Equal(t, []string{"Bien reçu !"}, f.sender.messages())

	chat, err := f.convo.ChatMessages()
	require.NoError(t, err)
	require.Len(t, chat, 2)
	assert.Equal(t, "user", chat[0].Role)
	assert.Equal(t, "assistant", chat[1].Role)
}

func TestSpawnInjectsAgentResult(t *testing.T) {
	f := newFixture(t,
		[]llm.AssistantMessage{{Content: "Le rapport est prêt."}},
		[]llm.AssistantMessage{{Content: "report compiled"}})

	// Seed the delivery channel the way an inbound turn would.
	f.gateway.channelMu.Lock()
	f.gateway.lastChannel = "chat-42"
	f.gateway.channelMu.Unlock()

	f.gateway.Spawn("Research Task", "compile the report")
	f.gateway.Drain()

	assert.Equal(t, []string{"Le rapport est prêt."}, f.sender.messages())

	transcript, err := f.convo.Transcript()
	require.NoError(t, err)
	assert.Contains(t, transcript, "[SUCCESS] Research Task: report compiled")
}

func TestRunAgentInjectsOutcome(t *testing.T) {
	f := newFixture(t,
		[]llm.AssistantMessage{{Content: "Je te tiens au courant."}},
		[]llm.AssistantMessage{{Content: "cleanup done"}})

	err := f.gateway.RunAgent(context.Background(), "Inbox Cleanup", "Trigger fired")
	assert.NoError(t, err)

	transcript, err := f.convo.Transcript()
	require.NoError(t, err)
	assert.Contains(t, transcript, "[SUCCESS] Inbox Cleanup: cleanup done")
}

func TestRunAgentReturnsErrorOnFailure(t *testing.T) {
	f := newFixture(t,
		[]llm.AssistantMessage{{Content: "Je préviens l'utilisateur."}},
		[]llm.AssistantMessage{{Content: "unused"}})

	// Replace the execution provider with one that always errors so the
	// run fails outright.
	journals, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	f.gateway.execution = execution.NewRuntime(failingProvider{}, "exec-model", nil, journals)

	err = f.gateway.RunAgent(context.Background(), "Inbox Cleanup", "Trigger fired")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")

	transcript, err := f.convo.Transcript()
	require.NoError(t, err)
	assert.Contains(t, transcript, "[FAILED] Inbox Cleanup:")
}

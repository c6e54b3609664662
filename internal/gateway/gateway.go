// Package gateway glues the runtimes together: inbound messages fan into
// the interaction runtime, execution agents run detached, and their
// results are re-injected as agent messages.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alynlabs/alyn/internal/agents/execution"
	"github.com/alynlabs/alyn/internal/agents/interaction"
)

// Gateway owns the detached task plumbing between the two runtimes.
type Gateway struct {
	interaction *interaction.Runtime
	execution   *execution.Runtime
	sender      interaction.Sender
	logger      *slog.Logger

	// lastChannel remembers where the user last spoke so asynchronous
	// agent results reach them even though the originating turn is gone.
	channelMu   sync.Mutex
	lastChannel string

	wg sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger configures the gateway's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gateway over the execution runtime and outbound sender.
// The interaction runtime is attached afterwards via Bind because the
// two depend on each other (the interaction runtime spawns through the
// gateway).
func New(executionRuntime *execution.Runtime, sender interaction.Sender, opts ...Option) *Gateway {
	g := &Gateway{
		execution: executionRuntime,
		sender:    sender,
		logger:    slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bind attaches the interaction runtime. Must be called before any
// message is handled.
func (g *Gateway) Bind(runtime *interaction.Runtime) {
	g.interaction = runtime
}

// HandleInbound accepts a user message and processes it asynchronously;
// it returns as soon as the turn is queued. Replies reach the user via
// the outbound sender.
func (g *Gateway) HandleInbound(channelID, text string) {
	g.channelMu.Lock()
	g.lastChannel = channelID
	g.channelMu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx := interaction.WithChannel(context.Background(), channelID)
		result := g.interaction.HandleUserMessage(ctx, text)
		if !result.Success {
			g.logger.Error("turn failed", "channel", channelID, "error", result.Error)
			if err := g.sender.Send(ctx, channelID, interaction.ErrorReply); err != nil {
				g.logger.Error("error reply delivery failed", "channel", channelID, "error", err)
			}
		}
	}()
}

// Spawn runs an execution agent detached and re-injects its outcome as
// an agent message. Implements interaction.Spawner.
func (g *Gateway) Spawn(agentName, instructions string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx := g.agentContext()
		result := g.execution.Run(ctx, agentName, instructions)
		g.injectResult(ctx, result)
	}()
}

// RunAgent executes a trigger-initiated agent run synchronously and
// reports its outcome back into the conversation. Implements
// triggers.AgentRunner.
func (g *Gateway) RunAgent(ctx context.Context, agentName, instructions string) error {
	result := g.execution.Run(ctx, agentName, instructions)
	g.injectResult(g.agentContext(), result)
	if !result.Success {
		return &agentRunError{agent: agentName, message: result.Error}
	}
	return nil
}

// injectResult wraps an execution outcome in the agent-message envelope
// and hands it to the interaction runtime.
func (g *Gateway) injectResult(ctx context.Context, result execution.Result) {
	var message string
	if result.Success {
		message = "[SUCCESS] " + result.AgentName + ": " + result.Response
	} else {
		message = "[FAILED] " + result.AgentName + ": " + result.Response
	}
	outcome := g.interaction.HandleAgentMessage(ctx, message)
	if !outcome.Success {
		g.logger.Error("agent message handling failed", "agent", result.AgentName, "error", outcome.Error)
	}
}

// agentContext builds a fresh context carrying the user's last known
// channel, so detached results can still be delivered.
func (g *Gateway) agentContext() context.Context {
	g.channelMu.Lock()
	channelID := g.lastChannel
	g.channelMu.Unlock()
	if channelID == "" {
		return context.Background()
	}
	return interaction.WithChannel(context.Background(), channelID)
}

// Drain waits for all detached turns and agent runs to finish.
func (g *Gateway) Drain() {
	g.wg.Wait()
}

type agentRunError struct {
	agent   string
	message string
}

func (e *agentRunError) Error() string {
	return "agent " + e.agent + " failed: " + e.message
}

// Package outbound delivers assistant replies to user-facing channels,
// splitting long texts into readable chunks and pacing them to respect
// transport rate limits.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterChunkDelay paces multi-chunk sends so the transport's
// rate limiter never trips.
const DefaultInterChunkDelay = 500 * time.Millisecond

// Transport sends one message to one channel.
type Transport interface {
	Send(ctx context.Context, channelID, text string) error
}

// Dispatcher wraps a Transport with chunking and pacing.
type Dispatcher struct {
	transport Transport
	chunker   *Chunker
	delay     time.Duration
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChunkSize overrides the chunk size.
func WithChunkSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		d.chunker = NewChunker(size)
	}
}

// WithInterChunkDelay overrides the pause between chunks.
func WithInterChunkDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// WithLogger configures the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher over the transport.
func NewDispatcher(transport Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		chunker:   NewChunker(DefaultChunkSize),
		delay:     DefaultInterChunkDelay,
		logger:    slog.Default().With("component", "outbound"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers text to the channel, splitting it into chunks when it
// exceeds the chunk size. Every chunk is attempted; the first error is
// returned after the rest have been tried.
func (d *Dispatcher) Send(ctx context.Context, channelID, text string) error {
	chunks := d.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) > 1 {
		d.logger.Info("splitting long message", "channel", channelID, "chunks", len(chunks), "length", len(text))
	}

	var firstErr error
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-time.After(d.delay):
			case <-ctx.Done():
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				return firstErr
			}
		}
		if err := d.transport.Send(ctx, channelID, chunk); err != nil {
			d.logger.Error("chunk delivery failed", "channel", channelID, "chunk", i+1, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
			}
		}
	}
	return firstErr
}

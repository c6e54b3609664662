package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []string
	fails map[int]error
}

func (t *fakeTransport) Send(_ context.Context, _, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.sent)
	t.sent = append(t.sent, text)
	if err, ok := t.fails[idx]; ok {
		return err
	}
	return nil
}

func TestChunkShortTextUntouched(t *testing.T) {
	c := NewChunker(100)
	assert.Equal(t, []string{"hello"}, c.Chunk("hello"))
	assert.Nil(t, c.Chunk(""))
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	first := strings.Repeat("a", 60)
	second := strings.Repeat("b", 60)
	chunks := NewChunker(100).Chunk(first + "\n\n" + second)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, second, chunks[1])
}

func TestChunkFallsBackToSentences(t *testing.T) {
	text := "First sentence here. Second sentence follows. " + strings.Repeat("c", 80)
	chunks := NewChunker(100).Chunk(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0], "."), "break lands after a sentence: %q", chunks[0])
}

func TestChunkHardBreakWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := NewChunker(100).Chunk(text)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkEveryPieceWithinLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Paragraph %d with a reasonable amount of text in it.\n\n", i)
	}
	chunks := NewChunker(200).Chunk(b.String())
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 200)
	}
}

func TestDispatcherSendsSingleChunkDirectly(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(transport, WithChunkSize(100), WithInterChunkDelay(0))

	require.NoError(t, d.Send(context.Background(), "chat-1", "short message"))
	assert.Equal(t, []string{"short message"}, transport.sent)
}

func TestDispatcherSplitsAndSendsAllChunks(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(transport, WithChunkSize(50), WithInterChunkDelay(0))

	text := strings.Repeat("word ", 40)
	require.NoError(t, d.Send(context.Background(), "chat-1", text))
	assert.Greater(t, len(transport.sent), 1)
	for _, chunk := range transport.sent {
		assert.LessOrEqual(t, len(chunk), 50)
	}
}

func TestDispatcherContinuesPastChunkFailure(t *testing.T) {
	transport := &fakeTransport{fails: map[int]error{0: fmt.Errorf("boom")}}
	d := NewDispatcher(transport, WithChunkSize(50), WithInterChunkDelay(0))

	text := strings.Repeat("word ", 40)
	err := d.Send(context.Background(), "chat-1", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Greater(t, len(transport.sent), 1, "remaining chunks still attempted")
}

func TestDispatcherEmptyTextIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(transport)
	require.NoError(t, d.Send(context.Background(), "chat-1", ""))
	assert.Empty(t, transport.sent)
}

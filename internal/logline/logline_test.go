package logline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"plain text",
		"multi\nline\npayload",
		"windows\r\nline endings",
		"html <b>bold</b> & escaped",
		"trailing newline\n",
		"",
	}
	for _, payload := range cases {
		encoded := EncodePayload(payload)
		assert.NotContains(t, encoded, "\n")
		decoded := DecodePayload(encoded)
		want := payload
		// Line endings are normalized before escaping.
		if payload == "windows\r\nline endings" {
			want = "windows\nline endings"
		}
		assert.Equal(t, want, decoded)
	}
}

func TestFormatAndParse(t *testing.T) {
	line := Format("user_message", "2026-01-02 15:04:05", "hello\nworld <x>")
	entry, ok := Parse(line)
	require.True(t, ok)
	assert.Equal(t, "user_message", entry.Tag)
	assert.Equal(t, "2026-01-02 15:04:05", entry.Timestamp)
	assert.Equal(t, "hello\nworld <x>", entry.Payload)
}

func TestParseRejectsMalformedLines(t *testing.T) {
	for _, line := range []string{
		"",
		"not a tag",
		"<open_only timestamp=\"x\">payload",
		"<a>payload</b>",
		"<unclosed",
	} {
		_, ok := Parse(line)
		assert.False(t, ok, "line %q should not parse", line)
	}
}

func TestParseAllSkipsGarbage(t *testing.T) {
	data := Format("wait", "2026-01-02 15:04:05", "reason") +
		"garbage line\n" +
		Format("alyn_reply", "2026-01-02 15:04:06", "ok")
	entries := ParseAll(data)
	require.Len(t, entries, 2)
	assert.Equal(t, "wait", entries[0].Tag)
	assert.Equal(t, "alyn_reply", entries[1].Tag)
}

func TestParseWithoutTimestamp(t *testing.T) {
	entry, ok := Parse("<note>text</note>")
	require.True(t, ok)
	assert.Equal(t, "note", entry.Tag)
	assert.Empty(t, entry.Timestamp)
	assert.Equal(t, "text", entry.Payload)
}

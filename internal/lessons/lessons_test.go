package lessons

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:", WithNow(func() time.Time {
		return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l, err := s.Add(ctx, "messaging", "sent duplicate messages", "check before sending", "seen on telegram")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Occurrences)

	lessons, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "messaging", lessons[0].Category)
	assert.Equal(t, "seen on telegram", lessons[0].Context)
}

func TestAddSameProblemBumpsOccurrences(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Add(ctx, "agent_delegation", "Reached tool iteration limit", "answer directly", "")
	require.NoError(t, err)
	// Case-insensitive match on problem.
	second, err := s.Add(ctx, "agent_delegation", "reached TOOL iteration limit", "different text ignored", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Occurrences)
	assert.Equal(t, "answer directly", second.Solution, "original solution is kept")

	lessons, err := s.List(ctx, "agent_delegation", 1)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
}

func TestAddValidation(t *testing.T) {
	s := testStore(t)
	_, err := s.Add(context.Background(), "", "p", "s", "")
	assert.Error(t, err)
	_, err = s.Add(context.Background(), "c", "", "s", "")
	assert.Error(t, err)
}

func TestListFiltersAndOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "a", "rare problem", "fix", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.Add(ctx, "b", "common problem", "fix", "")
		require.NoError(t, err)
	}

	lessons, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "common problem", lessons[0].Problem, "most frequent first")

	frequent, err := s.List(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, frequent, 1)
	assert.Equal(t, 3, frequent[0].Occurrences)

	byCategory, err := s.List(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l, err := s.Add(ctx, "c", "p", "s", "")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, l.ID))
	assert.ErrorIs(t, s.Delete(ctx, l.ID), ErrNotFound)
}

func TestFormatForPrompt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	empty, err := s.FormatForPrompt(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.Add(ctx, "messaging", "dup sends", "dedupe first", "telegram")
	require.NoError(t, err)

	out, err := s.FormatForPrompt(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, out, "LESSONS LEARNED")
	assert.Contains(t, out, "**Problem:** dup sends")
	assert.Contains(t, out, "**Solution:** dedupe first")
	assert.Contains(t, out, "**Context:** telegram")
	assert.Contains(t, out, "(1x)")
}

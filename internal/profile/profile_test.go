package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profile.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("name", "Marie"))
	require.NoError(t, s.Set("timezone", "Europe/Paris"))
	assert.Equal(t, "Marie", s.Get("name"))
	assert.Equal(t, "", s.Get("missing"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "Marie", reopened.Get("name"))
	assert.Equal(t, "Europe/Paris", reopened.Timezone())
}

func TestTimezoneDefault(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "user_profile.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, s.Timezone())
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profile.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestReplaceAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profile.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Replace(map[string]string{"name": "Luc"}))
	assert.Equal(t, map[string]string{"name": "Luc"}, s.All())

	require.NoError(t, s.Clear())
	assert.Empty(t, s.All())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFormatForPrompt(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "user_profile.json"))
	require.NoError(t, err)
	assert.Empty(t, s.FormatForPrompt())

	require.NoError(t, s.Set("name", "Marie"))
	require.NoError(t, s.Set("timezone", "Europe/Paris"))
	require.NoError(t, s.Set("empty", ""))

	out := s.FormatForPrompt()
	assert.Contains(t, out, "## User Profile")
	assert.Contains(t, out, "- name: Marie")
	assert.Contains(t, out, "- timezone: Europe/Paris")
	assert.NotContains(t, out, "empty")
}

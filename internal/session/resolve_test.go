package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("CHATLOG_HOME", t.TempDir())
	cfg := writeConfig(t, "default_session = \"work\"\n")

	name, err := Resolve("", filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionName, name)

	name, err = Resolve("", cfg)
	require.NoError(t, err)
	assert.Equal(t, "work", name)

	t.Setenv(EnvSession, "+15551234567")
	name, err = Resolve("", cfg)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", name)

	name, err = Resolve("personal", cfg)
	require.NoError(t, err)
	assert.Equal(t, "personal", name)
}

func TestResolveRejectsInvalidName(t *testing.T) {
	t.Setenv("CHATLOG_HOME", t.TempDir())
	_, err := Resolve("Bad Name", "")
	assert.ErrorIs(t, err, ErrInvalidName)

	cfg := writeConfig(t, "default_session = \"../escape\"\n")
	_, err = Resolve("", cfg)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestResolveReportsBrokenConfig(t *testing.T) {
	cfg := writeConfig(t, "default_session = [\n")
	_, err := Resolve("", cfg)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidName)
}

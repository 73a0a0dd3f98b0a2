package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsn")
	require.NoError(t, os.WriteFile(path, []byte("  from-file \n"), 0o600))

	t.Setenv("DATABASE_DSN", "from-env")
	t.Setenv("DATABASE_DSN_FILE", path)

	value, ok, err := Lookup("DATABASE_DSN")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-file", value)
}

func TestMissingFile(t *testing.T) {
	t.Setenv("SMTP_PASSWORD_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Get("SMTP_PASSWORD", "x")
	assert.Error(t, err)
	assert.Equal(t, "fallback", GetOptional("SMTP_PASSWORD", "fallback"))
}

func TestGetList(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URLS", " https://a , ,https://b ")
	assert.Equal(t, []string{"https://a", "https://b"}, GetList("DISCORD_WEBHOOK_URLS"))

	assert.Nil(t, GetList("UNSET_WEBHOOKS_FOR_TEST"))
}

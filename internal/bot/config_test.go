package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_WithValidToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token-123")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test-token-123", cfg.DiscordToken)
	assert.Equal(t, "info", cfg.LogLevel, "log level defaults to info")
}

func TestLoadConfig_WithEmptyToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := newTestConfig()
	require.NoError(t, cfg.validate())

	cfg.port = 0
	assert.Error(t, cfg.validate())
	cfg.port = 8080

	cfg.tlsCert = "cert.pem"
	assert.Error(t, cfg.validate(), "tls cert without key")
	cfg.tlsKey = "key.pem"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "https", cfg.scheme())
	cfg.tlsCert, cfg.tlsKey = "", ""

	cfg.websocketLimit = 0
	assert.Error(t, cfg.validate())
	cfg.websocketLimit = 10

	cfg.playerIdleThreshold = cfg.playerInactiveThreshold
	assert.Error(t, cfg.validate(), "idle threshold must precede inactive")
	cfg.playerIdleThreshold = 15 * time.Minute

	cfg.messageScope = "everyone"
	assert.Error(t, cfg.validate())
}

func TestNewCmdDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags(nil))

	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, 100, cfg.websocketLimit)
	assert.Equal(t, messageScopeServer, cfg.messageScope)
	assert.Equal(t, 15*time.Minute, cfg.playerIdleThreshold)
	require.NoError(t, cfg.validate())
}

func TestNewCmdFlagOverride(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{
		"--port", "9090",
		"--message-scope", "game",
		"--player-idle-threshold", "1m",
		"--player-inactive-threshold", "2m",
	}))

	assert.Equal(t, 9090, cfg.port)
	assert.Equal(t, messageScopeGame, cfg.messageScope)
	assert.Equal(t, time.Minute, cfg.playerIdleThreshold)
	require.NoError(t, cfg.validate())
}

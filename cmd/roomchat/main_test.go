package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmd_Flags(t *testing.T) {
	t.Setenv("ROOMCHAT_NAME", "carol")
	t.Setenv("ROOMCHAT_WS_URL", "ws://chat.local/ws")

	cmd := newRootCmd()
	assert.Equal(t, "carol", cmd.Flags().Lookup("name").DefValue)
	assert.Equal(t, "ws://chat.local/ws", cmd.Flags().Lookup("ws-url").DefValue)
	assert.Equal(t, "true", cmd.Flags().Lookup("auto-reconnect").DefValue)
	assert.Equal(t, "", cmd.Flags().Lookup("room").DefValue)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)

	_, err = newLogger("loud")
	assert.Error(t, err)
}

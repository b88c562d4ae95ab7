package instance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("VETSYNC_INSTANCE_ID", "clinic-a")
	assert.Equal(t, "clinic-a", GetID())
}

func TestDeviceID(t *testing.T) {
	id, generated := DeviceID("  device-1 ")
	assert.Equal(t, "device-1", id)
	assert.False(t, generated)

	id, generated = DeviceID("")
	assert.True(t, generated)
	assert.True(t, strings.HasPrefix(id, "dev-"))
}

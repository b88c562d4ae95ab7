package instance

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// GetID returns the sync daemon instance identifier or a default value.
func GetID() string {
	if id := os.Getenv("VETSYNC_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "syncd-" + host
	}
	return "syncd-0"
}

// DeviceID returns configured when it is non-empty, otherwise a freshly generated device identifier.
// Callers persist the generated value so the device keeps one identity across restarts.
func DeviceID(configured string) (string, bool) {
	if id := strings.TrimSpace(configured); id != "" {
		return id, false
	}
	return "dev-" + uuid.NewString(), true
}

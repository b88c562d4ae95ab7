package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/types"
)

const (
	requestIDHeader = "X-Request-Id"
	deviceIDHeader  = "X-Vetsync-Device-Id"
	maxRequestIDLen = 64
)

// RequestID tags each request with an id, echoed in the response header and in error bodies.
// A caller-supplied id is reused only when it is short and printable. The UI's device id
// header, when sent, is attached to the request log.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if !validRequestID(reqID) {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)

			ctx := types.WithRequestID(r.Context(), reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				if device := strings.TrimSpace(r.Header.Get(deviceIDHeader)); device != "" && validRequestID(device) {
					ctx = logg.WithDeviceID(ctx, device)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

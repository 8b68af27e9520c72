package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ddanilov/podvault/internal/common"
)

type ctxKey string

const deviceIDKey ctxKey = "deviceID"

// DeviceIDFromContext returns the device id placed in the context by
// Middleware, or "" when the request was not authenticated.
func DeviceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDKey).(string)
	return id
}

// Middleware rejects requests without a valid bearer token and stores the
// verified device id in the request context.
func Middleware(secretKey []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, common.ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}

		deviceID, err := GetDeviceIDFromToken(token, secretKey)
		if err != nil {
			http.Error(w, common.ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

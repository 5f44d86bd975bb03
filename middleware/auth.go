package middleware

import (
	"context"
	"net/http"

	"github.com/aidenappl/monitor-trends/env"
	"github.com/aidenappl/monitor-trends/responder"
)

// Capability is a feature granted to the caller
type Capability string

// CapabilityGlobalViews allows querying several projects at once
const CapabilityGlobalViews Capability = "global-views"

type capabilitiesKey struct{}

// AuthMiddleware checks the X-Api-Key header and attaches the caller's
// capabilities to the request context
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no API key is configured, allow all requests (for development)
		if env.APIKey != "" && r.Header.Get("X-Api-Key") != env.APIKey {
			responder.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var caps []Capability
		if env.GlobalViews {
			caps = append(caps, CapabilityGlobalViews)
		}
		next.ServeHTTP(w, r.WithContext(WithCapabilities(r.Context(), caps...)))
	})
}

// WithCapabilities returns a context granting caps
func WithCapabilities(ctx context.Context, caps ...Capability) context.Context {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return context.WithValue(ctx, capabilitiesKey{}, set)
}

// HasCapability reports whether the request context grants c
func HasCapability(ctx context.Context, c Capability) bool {
	set, _ := ctx.Value(capabilitiesKey{}).(map[Capability]bool)
	return set[c]
}

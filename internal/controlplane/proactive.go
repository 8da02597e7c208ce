package controlplane

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// proactiveRefreshMargin is how far before expiry the agent refreshes the
// access token on its own, instead of waiting for a 401/403 to force it
// (supplemented feature: avoids a guaranteed bus hiccup on every natural
// token expiry).
const proactiveRefreshMargin = 60 * time.Second

// expiryOf returns the exp claim of token, if it happens to be JWT-shaped.
// The agent's tokens are documented as opaque (§3); this is best-effort —
// an opaque token simply yields ok=false and the caller does nothing.
func expiryOf(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	// ParseUnverified: the agent has no way to verify the control plane's
	// signing key, and doesn't need to — it only wants the exp hint.
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// RunProactiveRefresh watches the current access token's exp claim (when
// present) and calls Reauthenticate shortly before it expires. It runs
// until ctx is cancelled and never returns an error; refresh failures are
// logged and retried on the next wakeup.
func (a *AuthService) RunProactiveRefresh(ctx context.Context, logger *slog.Logger) {
	const pollInterval = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}

		token, err := a.AccessToken(ctx)
		if err != nil || token == "" {
			continue
		}

		exp, ok := expiryOf(token)
		if !ok {
			continue
		}

		if time.Until(exp) > proactiveRefreshMargin {
			continue
		}

		if _, err := a.Reauthenticate(ctx); err != nil {
			logger.Warn("proactive token refresh failed", "error", err)
		}
	}
}

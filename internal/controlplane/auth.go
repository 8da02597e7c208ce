package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/infra"
	"github.com/openframe/agent/internal/tokencrypt"
)

// AuthService implements the reauthenticate() contract (§4.2): try the
// refresh-token grant, fall back to client-credentials on 401/403, and on
// success atomically rotate both the on-disk tokens and the shared-token
// file. Concurrent callers (the bus auth callback, a 401 from any HTTP
// call, the proactive-refresh timer) coalesce onto a single in-flight
// attempt via infra.Group, so the control plane never sees a refresh
// thundering herd.
//
// AuthService is a cheap-clone handle: copy it into closures (the bus
// auth callback) freely rather than reaching for a singleton (§9).
type AuthService struct {
	client          *Client
	agentStore      *agentconfig.AgentStore
	sharedTokenPath string
	group           *infra.Group[string, string]

	mu     sync.Mutex
	cached *oauth2.Token // expiry known only when the control plane sent expiresIn
}

// NewAuthService builds an AuthService backed by client and agentStore,
// writing refreshed tokens to sharedTokenPath.
func NewAuthService(client *Client, agentStore *agentconfig.AgentStore, sharedTokenPath string) *AuthService {
	return &AuthService{
		client:          client,
		agentStore:      agentStore,
		sharedTokenPath: sharedTokenPath,
		group:           &infra.Group[string, string]{},
	}
}

// singleFlightKey is the only key used in the group: every caller is
// refreshing the same, single agent identity.
const singleFlightKey = "reauthenticate"

// Reauthenticate runs the §4.2 state machine and returns the new access
// token. Concurrent calls share one attempt and its result.
func (a *AuthService) Reauthenticate(ctx context.Context) (string, error) {
	token, err, _ := a.group.Do(singleFlightKey, func() (string, error) {
		return a.reauthenticateOnce(ctx)
	})
	return token, err
}

func (a *AuthService) reauthenticateOnce(ctx context.Context) (string, error) {
	cfg, err := a.agentStore.Load()
	if err != nil {
		return "", fmt.Errorf("controlplane: load agent config: %w", err)
	}

	resp, err := a.client.TokenWithRefreshToken(ctx, cfg.RefreshToken)
	if err != nil {
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || (statusErr.StatusCode != http.StatusUnauthorized && statusErr.StatusCode != http.StatusForbidden) {
			return "", fmt.Errorf("controlplane: refresh token grant: %w", err)
		}
		resp, err = a.client.TokenWithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret)
		if err != nil {
			return "", fmt.Errorf("controlplane: client credentials fallback: %w", err)
		}
	}

	if err := a.agentStore.UpdateTokens(resp.AccessToken, resp.RefreshToken); err != nil {
		return "", fmt.Errorf("controlplane: persist refreshed tokens: %w", err)
	}
	if err := tokencrypt.WriteSharedToken(a.sharedTokenPath, resp.AccessToken); err != nil {
		return "", fmt.Errorf("controlplane: write shared token: %w", err)
	}

	a.mu.Lock()
	a.cached = asOAuth2Token(resp)
	a.mu.Unlock()

	return resp.AccessToken, nil
}

// AccessToken returns the currently stored access token, forcing a
// refresh first only when a prior Reauthenticate call learned a concrete
// expiry (via expiresIn) and that expiry, per oauth2.Token's own skew-
// aware Valid() check, has passed. With no known expiry it trusts the
// on-disk value, same as before a refresh has ever been observed.
func (a *AuthService) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.cached
	a.mu.Unlock()

	if cached != nil && !cached.Expiry.IsZero() && !cached.Valid() {
		return a.Reauthenticate(ctx)
	}

	cfg, err := a.agentStore.Load()
	if err != nil {
		return "", err
	}
	return cfg.AccessToken, nil
}

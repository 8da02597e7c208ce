package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/pkg/openframe"
)

func newTestAuthService(t *testing.T, handler http.HandlerFunc) (*AuthService, *agentconfig.AgentStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dir := t.TempDir()
	dirs := agentconfig.Dirs{AppSupport: dir, Secured: dir, Logs: dir}
	store := agentconfig.NewAgentStore(dirs)
	if err := store.SaveRegistration("M1", "C1", "S1"); err != nil {
		t.Fatalf("SaveRegistration() error = %v", err)
	}
	if err := store.UpdateTokens("stale-access", "stale-refresh"); err != nil {
		t.Fatalf("UpdateTokens() error = %v", err)
	}

	return NewAuthService(client, store, dirs.SharedTokenPath()), store
}

func TestReauthenticatePrefersRefreshToken(t *testing.T) {
	var sawGrant string
	auth, store := newTestAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		sawGrant = r.PostForm.Get("grant_type")
		json.NewEncoder(w).Encode(openframe.AgentTokenResponse{AccessToken: "A2", RefreshToken: "R2"})
	})

	token, err := auth.Reauthenticate(context.Background())
	if err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	if token != "A2" {
		t.Errorf("Reauthenticate() = %q, want A2", token)
	}
	if sawGrant != "refresh_token" {
		t.Errorf("grant_type = %q, want refresh_token", sawGrant)
	}

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AccessToken != "A2" || cfg.RefreshToken != "R2" {
		t.Errorf("persisted tokens = %+v, want A2/R2", cfg)
	}
}

func TestReauthenticateFallsBackToClientCredentialsOn401(t *testing.T) {
	var calls int32
	auth, _ := newTestAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		r.ParseForm()
		if n == 1 {
			if r.PostForm.Get("grant_type") != "refresh_token" {
				t.Errorf("first call grant_type = %q, want refresh_token", r.PostForm.Get("grant_type"))
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("fallback call grant_type = %q, want client_credentials", r.PostForm.Get("grant_type"))
		}
		json.NewEncoder(w).Encode(openframe.AgentTokenResponse{AccessToken: "A3", RefreshToken: "R3"})
	})

	token, err := auth.Reauthenticate(context.Background())
	if err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	if token != "A3" {
		t.Errorf("Reauthenticate() = %q, want A3", token)
	}
	if calls != 2 {
		t.Errorf("request count = %d, want 2 (refresh attempt + client-credentials fallback)", calls)
	}
}

func TestReauthenticatePropagatesNonAuthError(t *testing.T) {
	auth, _ := newTestAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := auth.Reauthenticate(context.Background()); err == nil {
		t.Fatal("expected an error for a 500 response with no client-credentials fallback")
	}
}

func TestAccessTokenReadsStoredTokenWithoutRefreshingByDefault(t *testing.T) {
	var calls int32
	auth, _ := newTestAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(openframe.AgentTokenResponse{AccessToken: "A2"})
	})

	token, err := auth.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "stale-access" {
		t.Errorf("AccessToken() = %q, want the on-disk value stale-access", token)
	}
	if calls != 0 {
		t.Errorf("AccessToken() made %d HTTP calls, want 0 with no known expiry", calls)
	}
}

func TestAccessTokenRefreshesAfterKnownExpiry(t *testing.T) {
	expiresIn := int64(0) // already expired by the time Valid() is checked
	var calls int32
	auth, _ := newTestAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(openframe.AgentTokenResponse{
			AccessToken: "A2", RefreshToken: "R2", ExpiresIn: &expiresIn,
		})
	})

	// First reauthentication populates the cached oauth2.Token with a
	// known (already past) expiry.
	if _, err := auth.Reauthenticate(context.Background()); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}

	token, err := auth.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "A2" {
		t.Errorf("AccessToken() = %q, want A2 from the forced refresh", token)
	}
	if calls != 2 {
		t.Errorf("HTTP call count = %d, want 2 (initial Reauthenticate + forced refresh from AccessToken)", calls)
	}
}

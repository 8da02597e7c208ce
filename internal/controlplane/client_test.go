package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openframe/agent/pkg/openframe"
)

func TestRegisterSendsInitialKeyAndDecodesResponse(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clients/api/agents/register" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotKey = r.Header.Get("X-Initial-Key")
		json.NewEncoder(w).Encode(openframe.AgentRegistrationResponse{
			MachineID: "M1", ClientID: "C1", ClientSecret: "S1",
		})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := client.Register(context.Background(), "initial-key", openframe.AgentRegistrationRequest{Hostname: "host1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if gotKey != "initial-key" {
		t.Errorf("X-Initial-Key header = %q, want %q", gotKey, "initial-key")
	}
	if resp.MachineID != "M1" || resp.ClientID != "C1" || resp.ClientSecret != "S1" {
		t.Errorf("Register() = %+v, want machineId/clientId/clientSecret M1/C1/S1", resp)
	}
}

func TestTokenWithClientCredentialsSendsGrantType(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotBody = r.PostForm.Encode()
		json.NewEncoder(w).Encode(openframe.AgentTokenResponse{AccessToken: "A1", RefreshToken: "R1"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := client.TokenWithClientCredentials(context.Background(), "C1", "S1")
	if err != nil {
		t.Fatalf("TokenWithClientCredentials() error = %v", err)
	}
	if !strings.Contains(gotBody, "grant_type=client_credentials") {
		t.Errorf("request body %q missing client_credentials grant", gotBody)
	}
	if resp.AccessToken != "A1" || resp.RefreshToken != "R1" {
		t.Errorf("token response = %+v", resp)
	}
}

func TestTokenWithRefreshTokenSendsGrantType(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotBody = r.PostForm.Encode()
		json.NewEncoder(w).Encode(openframe.AgentTokenResponse{AccessToken: "A2", RefreshToken: "R2"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := client.TokenWithRefreshToken(context.Background(), "R1")
	if err != nil {
		t.Fatalf("TokenWithRefreshToken() error = %v", err)
	}
	if !strings.Contains(gotBody, "grant_type=refresh_token") {
		t.Errorf("request body %q missing refresh_token grant", gotBody)
	}
	if resp.AccessToken != "A2" {
		t.Errorf("AccessToken = %q, want A2", resp.AccessToken)
	}
}

func TestNonOKStatusReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid_grant"))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = client.TokenWithRefreshToken(context.Background(), "stale")
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
	}
}

func TestNewRejectsUnreadableLocalCACert(t *testing.T) {
	if _, err := New("https://api.example", "/nonexistent/ca.pem"); err == nil {
		t.Fatal("expected an error for a missing local CA cert")
	}
}

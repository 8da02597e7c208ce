// Package controlplane implements the thin HTTP request builders the rest
// of the agent talks to the control plane through (C5, §6): registration,
// OAuth token issuance/refresh, and the tool binary/asset download
// endpoints. It also owns the credential refresh state machine (§4.2)
// shared by the bus connection manager's auth callback.
package controlplane

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openframe/agent/pkg/openframe"
)

// RequestTimeout bounds every HTTP call the agent makes (§5 Cancellation).
const RequestTimeout = 30 * time.Second

// Client wraps the control-plane HTTP surface. It is a cheap-clone value:
// copying a Client shares the same *http.Client and base URL and is safe
// for concurrent use, per the "cheap-clone handle" design note (§9).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client for baseURL (e.g. "https://api.example"). When
// localCACertPath is non-empty, the client trusts only that PEM root
// instead of the system trust store (local-mode self-signed certs, §6).
func New(baseURL string, localCACertPath string) (*Client, error) {
	transport := &http.Transport{}
	if localCACertPath != "" {
		pool, err := loadCAPool(localCACertPath)
		if err != nil {
			return nil, fmt.Errorf("controlplane: load local CA: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   RequestTimeout,
			Transport: transport,
		},
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("controlplane: %s contains no usable certificates", path)
	}
	return pool, nil
}

// Register calls POST /clients/api/agents/register (§4.1, §6).
func (c *Client) Register(ctx context.Context, initialKey string, req openframe.AgentRegistrationRequest) (openframe.AgentRegistrationResponse, error) {
	var out openframe.AgentRegistrationResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("controlplane: marshal registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clients/api/agents/register", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("controlplane: build registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Initial-Key", initialKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("controlplane: registration request: %w", err)
	}
	defer resp.Body.Close()

	if err := expectOK(resp); err != nil {
		return out, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("controlplane: decode registration response: %w", err)
	}
	return out, nil
}

// TokenWithClientCredentials exchanges the OAuth client-credentials grant
// for a token pair (§4.1, §4.2, §6).
func (c *Client) TokenWithClientCredentials(ctx context.Context, clientID, clientSecret string) (openframe.AgentTokenResponse, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	return c.token(ctx, form)
}

// TokenWithRefreshToken exchanges the OAuth refresh-token grant for a
// fresh token pair (§4.2).
func (c *Client) TokenWithRefreshToken(ctx context.Context, refreshToken string) (openframe.AgentTokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.token(ctx, form)
}

func (c *Client) token(ctx context.Context, form url.Values) (openframe.AgentTokenResponse, error) {
	var out openframe.AgentTokenResponse

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clients/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return out, fmt.Errorf("controlplane: build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("controlplane: token request: %w", err)
	}
	defer resp.Body.Close()

	if err := expectOK(resp); err != nil {
		return out, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("controlplane: decode token response: %w", err)
	}
	return out, nil
}

// FetchToolBinary calls GET /clients/tool-agent/{id}?os={osParam} and
// returns the raw executable bytes. Used both for the agent-binary legacy
// download path (§4.5 step 3) and ARTIFACTORY assets (§4.5 step 4).
func (c *Client) FetchToolBinary(ctx context.Context, toolAgentOrAssetID, osParam string) ([]byte, error) {
	u := fmt.Sprintf("%s/clients/tool-agent/%s?os=%s", c.baseURL, url.PathEscape(toolAgentOrAssetID), url.QueryEscape(osParam))
	return c.getBytes(ctx, u, "")
}

// FetchToolAPIAsset calls GET /tools/agent/{toolID}{resolvedPath}, bearer
// authenticated, for TOOL_API assets (§4.5 step 4).
func (c *Client) FetchToolAPIAsset(ctx context.Context, accessToken, toolID, resolvedPath string) ([]byte, error) {
	if !strings.HasPrefix(resolvedPath, "/") {
		resolvedPath = "/" + resolvedPath
	}
	u := fmt.Sprintf("%s/tools/agent/%s%s", c.baseURL, url.PathEscape(toolID), resolvedPath)
	return c.getBytes(ctx, u, accessToken)
}

func (c *Client) getBytes(ctx context.Context, rawURL, bearerToken string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("controlplane: build request: %w", err)
	}
	if bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("controlplane: request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if err := expectOK(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("controlplane: read body: %w", err)
	}
	return data, nil
}

// asOAuth2Token adapts an AgentTokenResponse to an oauth2.Token so
// AuthService.AccessToken can use the token's skew-aware Valid() check for
// expiry-aware caching. The control plane's token JSON uses camelCase field names
// (§6), not the RFC 6749 snake_case oauth2's own decoder expects, so the
// response is always decoded by hand first; this conversion only feeds
// the result into the library's Token type.
func asOAuth2Token(resp openframe.AgentTokenResponse) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	if resp.ExpiresIn != nil {
		tok.Expiry = time.Now().Add(time.Duration(*resp.ExpiresIn) * time.Second)
	}
	return tok
}

// StatusError is returned when the control plane responds with a non-2xx
// status. Unwrapping it is not meaningful; callers inspect StatusCode.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("controlplane: unexpected status %d: %s", e.StatusCode, e.Body)
}

func expectOK(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// Package bus owns the single logical connection to the JetStream-style
// message broker (C6, §4.3): URL construction, the auth-refresh callback
// invoked on token rejection, and local-mode TLS.
package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/observability"
)

const (
	pingInterval   = 10 * time.Second
	reconnectDelay = 5 * time.Second
)

// Manager holds the agent's single connection to the bus. The nats.go
// client fixes its connect URL at dial time, so "refresh the token and
// keep going" is implemented as a full reconnect (close the old
// connection, dial a new one; the lock guards only the stored conn
// pointer) rather than a live URL swap (§4.3, §9 auth-callback design note).
type Manager struct {
	serverHost string
	localMode  bool
	caCertPath string
	auth       *controlplane.AuthService
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu   sync.Mutex
	conn *nats.Conn
}

// New builds a bus Manager. auth is a cheap-clone handle reused by the
// reconnect path to reach back into the credential state machine (§9).
// metrics may be nil in tests.
func New(serverHost string, localMode bool, caCertPath string, auth *controlplane.AuthService, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		serverHost: serverHost,
		localMode:  localMode,
		caCertPath: caCertPath,
		auth:       auth,
		logger:     logger,
		metrics:    metrics,
	}
}

// Connect dials the bus over WebSocket using the currently stored access
// token, retrying on the client library's own schedule on initial-connect
// failure (§4.3). The returned connection is held for the process
// lifetime; there is no explicit Close in the core (§5 — the OS service
// manager terminates the process).
func (m *Manager) Connect(ctx context.Context) (*nats.Conn, error) {
	token, err := m.auth.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("bus: read access token: %w", err)
	}
	return m.dial(ctx, token)
}

func (m *Manager) dial(ctx context.Context, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.UserInfo("machine", ""),
		nats.PingInterval(pingInterval),
		nats.ReconnectWait(reconnectDelay),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectBufSize(-1),
		nats.ErrorHandler(func(c *nats.Conn, sub *nats.Subscription, err error) {
			if err == nil {
				return
			}
			m.logger.Warn("bus error", "error", err, "subject", subjectOf(sub))
			if isAuthError(err) {
				go m.handleAuthFailure(ctx)
			}
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				m.logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			m.logger.Info("bus reconnected", "url", c.ConnectedUrl())
			if m.metrics != nil {
				m.metrics.BusReconnects.Inc()
			}
		}),
	}

	if m.localMode && m.caCertPath != "" {
		tlsConfig, err := m.localTLSConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	conn, err := nats.Connect(m.connectionURL(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	return conn, nil
}

// handleAuthFailure implements the §4.3 auth callback contract: call
// Reauthenticate, read the new access token, and redial with a rebuilt
// URL. Any error here is logged and left for the next auth failure or the
// proactive-refresh loop to retry.
func (m *Manager) handleAuthFailure(ctx context.Context) {
	token, err := m.auth.Reauthenticate(ctx)
	if err != nil {
		m.logger.Error("bus auth callback: reauthenticate failed", "error", err)
		return
	}

	m.mu.Lock()
	old := m.conn
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if _, err := m.dial(ctx, token); err != nil {
		m.logger.Error("bus auth callback: redial failed", "error", err)
	}
}

func (m *Manager) connectionURL(token string) string {
	return fmt.Sprintf("wss://%s/ws/nats?authorization=%s", m.serverHost, url.QueryEscape(token))
}

func (m *Manager) localTLSConfig() (*tls.Config, error) {
	pem, err := os.ReadFile(m.caCertPath)
	if err != nil {
		return nil, fmt.Errorf("bus: read local CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("bus: %s contains no usable certificates", m.caCertPath)
	}
	return &tls.Config{RootCAs: pool}, nil
}

// Subject builds a per-machine subject of the form "machine.<mid>.<suffix>".
func Subject(machineID, suffix string) string {
	return "machine." + machineID + "." + suffix
}

// Publish JSON-encodes payload and publishes it to subject. Every outbound
// message in the core (tool-connection, installed-agent) goes through this
// one encode-and-publish path.
func Publish(conn *nats.Conn, subject string, payload any) error {
	if conn == nil {
		return fmt.Errorf("bus: publish %s: nil connection", subject)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload for %s: %w", subject, err)
	}
	return conn.Publish(subject, data)
}

func subjectOf(sub *nats.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.Subject
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authorization violation") ||
		strings.Contains(msg, "auth expired") ||
		strings.Contains(msg, "user authentication expired")
}

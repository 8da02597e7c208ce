// Package bootstrap implements the two idempotent, retry-forever pipeline
// phases that must complete before the bus connection is attempted:
// registration and initial authentication (C7, §4.1).
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/infra"
	"github.com/openframe/agent/internal/tokencrypt"
	"github.com/openframe/agent/pkg/openframe"
)

// RetryDelay is the fixed backoff between bootstrap attempts (§4.1, §7).
const RetryDelay = 60 * time.Second

// AgentVersion is set at build time (ldflags) and reported during
// registration; it defaults to "dev" for unreleased builds.
var AgentVersion = "dev"

// Pipeline runs registration then initial authentication, in order.
type Pipeline struct {
	Client          *controlplane.Client
	InitialStore    *agentconfig.InitialStore
	AgentStore      *agentconfig.AgentStore
	SharedTokenPath string
	Logger          *slog.Logger
}

// Run executes both phases sequentially; each blocks (retrying every
// RetryDelay) until it succeeds or ctx is cancelled. Registration
// happens-before initial authentication happens-before bus connect (§5).
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.register(ctx); err != nil {
		return err
	}
	return p.authenticate(ctx)
}

// register is a no-op if machine_id is already populated (idempotent,
// §4.1, §8).
func (p *Pipeline) register(ctx context.Context) error {
	cfg, err := p.AgentStore.Load()
	if err != nil {
		return fmt.Errorf("bootstrap: load agent config: %w", err)
	}
	if cfg.Registered() {
		p.Logger.Debug("registration already complete, skipping", "machine_id", cfg.MachineID)
		return nil
	}

	initial, err := p.InitialStore.Load()
	if err != nil {
		return fmt.Errorf("bootstrap: load initial config: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	req := openframe.AgentRegistrationRequest{
		Hostname:       hostname,
		AgentVersion:   AgentVersion,
		OrganizationID: initial.OrgID,
		OSType:         osType(),
	}

	_, err = infra.RetryForever(ctx, RetryDelay, func(ctx context.Context) (struct{}, error) {
		resp, err := p.Client.Register(ctx, initial.InitialKey, req)
		if err != nil {
			p.Logger.Warn("registration attempt failed, retrying", "error", err, "delay", RetryDelay)
			return struct{}{}, err
		}
		if err := p.AgentStore.SaveRegistration(resp.MachineID, resp.ClientID, resp.ClientSecret); err != nil {
			return struct{}{}, err
		}
		if err := p.InitialStore.ClearInitialKey(); err != nil {
			return struct{}{}, err
		}
		p.Logger.Info("registration complete", "machine_id", resp.MachineID)
		return struct{}{}, nil
	})
	return err
}

// authenticate is a no-op if access_token is already populated (idempotent,
// §4.1, §8).
func (p *Pipeline) authenticate(ctx context.Context) error {
	cfg, err := p.AgentStore.Load()
	if err != nil {
		return fmt.Errorf("bootstrap: load agent config: %w", err)
	}
	if cfg.Authenticated() {
		p.Logger.Debug("initial authentication already complete, skipping")
		return nil
	}

	_, err = infra.RetryForever(ctx, RetryDelay, func(ctx context.Context) (struct{}, error) {
		cfg, err := p.AgentStore.Load()
		if err != nil {
			return struct{}{}, err
		}

		resp, err := p.Client.TokenWithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret)
		if err != nil {
			p.Logger.Warn("initial authentication attempt failed, retrying", "error", err, "delay", RetryDelay)
			return struct{}{}, err
		}
		if err := p.AgentStore.UpdateTokens(resp.AccessToken, resp.RefreshToken); err != nil {
			return struct{}{}, err
		}
		if err := tokencrypt.WriteSharedToken(p.SharedTokenPath, resp.AccessToken); err != nil {
			return struct{}{}, err
		}
		p.Logger.Info("initial authentication complete")
		return struct{}{}, nil
	})
	return err
}

func osType() string {
	switch runtime.GOOS {
	case "windows":
		return "WINDOWS"
	case "darwin":
		return "MAC_OS"
	default:
		return "LINUX"
	}
}

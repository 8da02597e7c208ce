// Package installer implements the tool installer (C11, §4.5): it
// materializes a tool's agent binary and assets, runs the tool's own
// install command, registers the tool in the installed-tools registry,
// and hands the freshly-installed tool off to the run manager and
// connection processor.
package installer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/archive"
	"github.com/openframe/agent/internal/bus"
	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/net/ssrf"
	"github.com/openframe/agent/internal/observability"
	"github.com/openframe/agent/internal/placeholder"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/toolexec"
	"github.com/openframe/agent/pkg/openframe"
)

// downloadTimeout bounds archive fetches from download_configurations
// links, which point outside the control plane (CDN/artifact storage)
// and so aren't covered by the controlplane.Client's 30s budget alone.
const downloadTimeout = 2 * time.Minute

// Runner is the subset of toolrun.Manager the installer dispatches to.
type Runner interface {
	RunNewTool(ctx context.Context, tool openframe.InstalledTool)
}

// ConnectionProber is the subset of toolconn.Manager the installer
// dispatches to.
type ConnectionProber interface {
	RunNewTool(ctx context.Context, conn *nats.Conn, tool openframe.InstalledTool)
}

// Installer runs the §4.5 procedure for one ToolInstallationMessage at a
// time. It holds no per-message state; every call is self-contained.
type Installer struct {
	dirs       agentconfig.Dirs
	machineID  string
	serverHost string
	client     *controlplane.Client
	auth       *controlplane.AuthService
	tools      *registry.ToolsRegistry
	runner     Runner
	connProber ConnectionProber
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New builds an Installer. runner and connProber are the already-built C9
// and C10 managers; the installer only ever calls their RunNewTool entry
// points, fire-and-forget (§4.5 step 7). metrics may be nil in tests.
func New(dirs agentconfig.Dirs, machineID, serverHost string, client *controlplane.Client, auth *controlplane.AuthService, tools *registry.ToolsRegistry, runner Runner, connProber ConnectionProber, logger *slog.Logger, metrics *observability.Metrics) *Installer {
	return &Installer{
		dirs:       dirs,
		machineID:  machineID,
		serverHost: serverHost,
		client:     client,
		auth:       auth,
		tools:      tools,
		runner:     runner,
		connProber: connProber,
		logger:     logger,
		metrics:    metrics,
	}
}

// Install runs the full §4.5 procedure. A returned error means the
// message must be left unacked for redelivery (§7.3, §7.6).
func (in *Installer) Install(ctx context.Context, conn *nats.Conn, msg openframe.ToolInstallationMessage) (err error) {
	if in.metrics != nil {
		start := time.Now()
		defer func() {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			in.metrics.ToolInstallAttempts.WithLabelValues(msg.ToolAgentID, outcome).Inc()
			in.metrics.ToolInstallDuration.WithLabelValues(msg.ToolAgentID).Observe(time.Since(start).Seconds())
		}()
	}

	// Step 1: idempotence — an existing registry entry means this message
	// was already handled (possibly by a prior, crashed process). Consume
	// and ack without re-downloading or re-registering (§8 round-trip).
	if _, ok, err := in.tools.Get(msg.ToolAgentID); err != nil {
		return fmt.Errorf("installer: check existing registration: %w", err)
	} else if ok {
		in.logger.Debug("install message for already-registered tool, skipping", "tool_agent_id", msg.ToolAgentID)
		return nil
	}

	// Step 2: directory.
	toolDir := in.dirs.ToolDir(msg.ToolAgentID)
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		return fmt.Errorf("installer: create tool dir: %w", err)
	}

	// Step 3: agent binary materialization.
	agentPath := in.dirs.ToolAgentPath(msg.ToolAgentID)
	if _, err := os.Stat(agentPath); os.IsNotExist(err) {
		data, err := in.fetchAgentBinary(ctx, msg)
		if err != nil {
			return fmt.Errorf("installer: fetch agent binary: %w", err)
		}
		if err := writeExecutable(agentPath, data); err != nil {
			return fmt.Errorf("installer: write agent binary: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("installer: stat agent binary: %w", err)
	}

	// Step 4: assets.
	for _, asset := range msg.Assets {
		if err := in.materializeAsset(ctx, toolDir, msg, asset); err != nil {
			return fmt.Errorf("installer: materialize asset %s: %w", asset.ID, err)
		}
	}

	// Step 5: install command.
	if len(msg.InstallationCommandArgs) > 0 {
		phCtx := placeholder.Context{
			ServerHost:      in.serverHost,
			ToolAgentID:     msg.ToolAgentID,
			SharedTokenPath: in.dirs.SharedTokenPath(),
			AppSupportDir:   in.dirs.AppSupport,
		}
		args := placeholder.ResolveArgs(msg.InstallationCommandArgs, phCtx)
		stdout, stderr, exitCode, err := toolexec.RunCapture(ctx, 0, agentPath, args...)
		if err != nil {
			return fmt.Errorf("installer: install command exited %d: %w (stdout=%q stderr=%q)", exitCode, err, stdout, stderr)
		}
	}

	// Step 6: register.
	tool := openframe.InstalledTool{
		ToolAgentID:               msg.ToolAgentID,
		ToolID:                    msg.ToolID,
		ToolType:                  msg.ToolType,
		Version:                   msg.Version,
		RunCommandArgs:            msg.RunCommandArgs,
		ToolAgentIDCommandArgs:    msg.ToolAgentIDCommandArgs,
		UninstallationCommandArgs: msg.UninstallationCommandArgs,
		SessionType:               msg.SessionType,
		Status:                    openframe.ToolStatusInstalled,
	}
	if err := in.tools.Upsert(tool); err != nil {
		return fmt.Errorf("installer: register tool: %w", err)
	}

	// Step 7: dispatch to the run manager and connection processor,
	// fire-and-forget — both are guarded by their own single-flight sets.
	in.runner.RunNewTool(ctx, tool)
	in.connProber.RunNewTool(ctx, conn, tool)

	// Step 8: publish, logged but non-fatal on failure.
	publishMsg := openframe.InstalledAgentMessage{AgentType: msg.ToolAgentID, Version: msg.Version}
	if err := bus.Publish(conn, bus.Subject(in.machineID, "installed-agent"), publishMsg); err != nil {
		in.logger.Warn("installer: publish installed-agent message failed", "tool_agent_id", msg.ToolAgentID, "error", err)
	}

	return nil
}

func (in *Installer) fetchAgentBinary(ctx context.Context, msg openframe.ToolInstallationMessage) ([]byte, error) {
	if len(msg.DownloadConfigurations) > 0 {
		cfg, ok := matchDownloadConfig(msg.DownloadConfigurations, downloadConfigOS())
		if !ok {
			return nil, fmt.Errorf("installer: no download configuration for os %q", downloadConfigOS())
		}
		return fetchAndExtract(ctx, cfg)
	}
	return in.client.FetchToolBinary(ctx, msg.ToolAgentID, legacyOSParam())
}

func (in *Installer) materializeAsset(ctx context.Context, toolDir string, msg openframe.ToolInstallationMessage, asset openframe.Asset) error {
	filename := asset.LocalFilename
	if runtime.GOOS == "windows" && asset.Executable {
		filename += ".exe"
	}
	path := filepath.Join(toolDir, filename)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	var data []byte
	var err error
	switch asset.Source {
	case openframe.AssetSourceArtifactory:
		data, err = in.client.FetchToolBinary(ctx, asset.ID, legacyOSParam())
	case openframe.AssetSourceToolAPI:
		token, tokenErr := in.auth.AccessToken(ctx)
		if tokenErr != nil {
			return tokenErr
		}
		resolvedPath := placeholder.ResolveURL(asset.Path, in.serverHost)
		data, err = in.client.FetchToolAPIAsset(ctx, token, msg.ToolID, resolvedPath)
	default:
		return fmt.Errorf("installer: unknown asset source %q", asset.Source)
	}
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if asset.Executable {
		mode = 0o755
	}
	return writeFile(path, data, mode)
}

func matchDownloadConfig(configs []openframe.DownloadConfiguration, osName string) (openframe.DownloadConfiguration, bool) {
	for _, c := range configs {
		if c.MatchesOS(osName) {
			return c, true
		}
	}
	return openframe.DownloadConfiguration{}, false
}

func fetchAndExtract(ctx context.Context, cfg openframe.DownloadConfiguration) ([]byte, error) {
	archiveData, err := downloadURL(ctx, cfg.Link)
	if err != nil {
		return nil, fmt.Errorf("installer: download %s: %w", cfg.Link, err)
	}
	format, err := archive.DetectFormat(cfg.FileName)
	if err != nil {
		return nil, err
	}
	return archive.ExtractNamed(format, archiveData, cfg.AgentFileName)
}

func downloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse download link: %w", err)
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return nil, fmt.Errorf("download link rejected: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return io.ReadAll(resp.Body)
}

// downloadConfigOS maps runtime.GOOS to the os values used in
// download_configurations ("windows", "macos", "linux", §3/§4.5).
func downloadConfigOS() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "macos"
	default:
		return "linux"
	}
}

// legacyOSParam maps runtime.GOOS to the ?os= query value used by the
// legacy `/clients/tool-agent/{id}` endpoint ("windows" or "mac", §6).
func legacyOSParam() string {
	if runtime.GOOS == "windows" {
		return "windows"
	}
	return "mac"
}

func writeExecutable(path string, data []byte) error {
	return writeFile(path, data, 0o755)
}

// writeFile writes data to a temp file in the destination directory and
// renames it into place, so a crash mid-write never leaves a truncated
// binary for the next bootstrap cycle to mistake for "already installed".
func writeFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

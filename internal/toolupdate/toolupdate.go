// Package toolupdate implements the tool updater (C12, §4.11): replaces
// an already-installed tool's agent binary with a new version, backing
// the current one up until the new one is confirmed written, and lets
// the run manager's own supervisor loop restart the tool once its
// process is killed.
package toolupdate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/nats-io/nats.go"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/archive"
	"github.com/openframe/agent/internal/bus"
	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/toolproc"
	"github.com/openframe/agent/pkg/openframe"
)

// Updater runs the §4.11 procedure for a single tool.
type Updater struct {
	dirs      agentconfig.Dirs
	machineID string
	client    *controlplane.Client
	tools     *registry.ToolsRegistry
	logger    *slog.Logger
}

// New builds an Updater.
func New(dirs agentconfig.Dirs, machineID string, client *controlplane.Client, tools *registry.ToolsRegistry, logger *slog.Logger) *Updater {
	return &Updater{dirs: dirs, machineID: machineID, client: client, tools: tools, logger: logger}
}

// Update looks up the existing registration for toolAgentID and, if its
// version differs from newVersion, downloads the new binary, swaps it in,
// kills the running process (the run manager restarts it on the new
// binary within RestartDelay), and publishes the installed-agent message.
func (u *Updater) Update(ctx context.Context, conn *nats.Conn, msg openframe.ToolInstallationMessage) error {
	existing, ok, err := u.tools.Get(msg.ToolAgentID)
	if err != nil {
		return fmt.Errorf("toolupdate: load existing registration: %w", err)
	}
	if !ok {
		return fmt.Errorf("toolupdate: tool %s is not installed", msg.ToolAgentID)
	}
	if existing.Version == msg.Version {
		u.logger.Debug("tool already at target version, skipping update", "tool_agent_id", msg.ToolAgentID, "version", msg.Version)
		return nil
	}

	agentPath := u.dirs.ToolAgentPath(msg.ToolAgentID)
	backupPath := agentPath + ".bak"

	if err := os.Rename(agentPath, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("toolupdate: back up current binary: %w", err)
	}
	backedUp := true

	data, err := u.fetchBinary(ctx, msg)
	if err != nil {
		u.restoreBackup(agentPath, backupPath, backedUp)
		return fmt.Errorf("toolupdate: fetch new binary: %w", err)
	}

	if err := os.WriteFile(agentPath, data, 0o755); err != nil {
		u.restoreBackup(agentPath, backupPath, backedUp)
		return fmt.Errorf("toolupdate: write new binary: %w", err)
	}

	pattern := toolproc.ToolPattern(msg.ToolAgentID)
	if err := toolproc.KillMatching(ctx, pattern); err != nil {
		u.logger.Warn("toolupdate: kill running tool process failed", "tool_agent_id", msg.ToolAgentID, "error", err)
	}

	existing.Version = msg.Version
	if err := u.tools.Upsert(existing); err != nil {
		return fmt.Errorf("toolupdate: persist updated registration: %w", err)
	}

	os.Remove(backupPath)

	publishMsg := openframe.InstalledAgentMessage{AgentType: msg.ToolAgentID, Version: msg.Version}
	if err := bus.Publish(conn, bus.Subject(u.machineID, "installed-agent"), publishMsg); err != nil {
		u.logger.Warn("toolupdate: publish installed-agent message failed", "tool_agent_id", msg.ToolAgentID, "error", err)
	}

	return nil
}

func (u *Updater) fetchBinary(ctx context.Context, msg openframe.ToolInstallationMessage) ([]byte, error) {
	if len(msg.DownloadConfigurations) > 0 {
		for _, cfg := range msg.DownloadConfigurations {
			if cfg.MatchesOS(downloadConfigOS()) {
				return archiveFetch(ctx, cfg)
			}
		}
		return nil, fmt.Errorf("toolupdate: no download configuration for os %q", downloadConfigOS())
	}
	return u.client.FetchToolBinary(ctx, msg.ToolAgentID, legacyOSParam())
}

func archiveFetch(ctx context.Context, cfg openframe.DownloadConfiguration) ([]byte, error) {
	req, err := httpGet(ctx, cfg.Link)
	if err != nil {
		return nil, err
	}
	format, err := archive.DetectFormat(cfg.FileName)
	if err != nil {
		return nil, err
	}
	return archive.ExtractNamed(format, req, cfg.AgentFileName)
}

// restoreBackup puts the previous binary back if the update failed
// partway through, so the run manager's supervisor loop keeps the old
// version alive instead of finding nothing to execute.
func (u *Updater) restoreBackup(agentPath, backupPath string, backedUp bool) {
	if !backedUp {
		return
	}
	if _, err := os.Stat(backupPath); err != nil {
		return
	}
	if err := os.Rename(backupPath, agentPath); err != nil {
		u.logger.Error("toolupdate: restore backup after failed update failed", "error", err)
	}
}

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

func legacyOSParam() string {
	if runtime.GOOS == "windows" {
		return "windows"
	}
	return "mac"
}

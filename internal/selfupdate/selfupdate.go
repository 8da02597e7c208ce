// Package selfupdate implements the Agent self-updater (C16, §4.10):
// validate the target version, download and extract the new Agent
// archive, hand off to an external helper that stops the service, swaps
// the binary, and restarts it, then exit so the service manager restarts
// the process under the new binary.
package selfupdate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/archive"
	"github.com/openframe/agent/internal/bus"
	"github.com/openframe/agent/internal/observability"
	"github.com/openframe/agent/internal/restart"
	"github.com/openframe/agent/pkg/openframe"
)

// ErrVersionInvalid is returned when the inbound message's version string
// fails §4.10 step 1 validation.
var ErrVersionInvalid = fmt.Errorf("selfupdate: version must start with a digit and contain only [A-Za-z0-9.-]")

// ErrUnixUnsupported is returned on non-Windows platforms (§4.10 step 5).
var ErrUnixUnsupported = fmt.Errorf("selfupdate: unix self-update is not implemented")

// Updater runs the §4.10 procedure.
type Updater struct {
	machineID   string
	dirs        agentconfig.Dirs
	clientInfo  *agentconfig.ClientInfoStore
	currentVer  string
	logger      *slog.Logger
	metrics     *observability.Metrics
	exitProcess func(code int)
}

// New builds an Updater. currentVersion is the Agent binary's own build
// version, used for both the §8 "version == current_version ⇒ ack"
// idempotence check and persisted ClientInfo bookkeeping. metrics may be
// nil in tests.
func New(machineID string, dirs agentconfig.Dirs, clientInfo *agentconfig.ClientInfoStore, currentVersion string, logger *slog.Logger, metrics *observability.Metrics) *Updater {
	return &Updater{
		machineID:   machineID,
		dirs:        dirs,
		clientInfo:  clientInfo,
		currentVer:  currentVersion,
		logger:      logger,
		metrics:     metrics,
		exitProcess: os.Exit,
	}
}

func (u *Updater) recordAttempt(outcome string) {
	if u.metrics != nil {
		u.metrics.SelfUpdateAttempts.WithLabelValues(outcome).Inc()
	}
}

// Update runs the full §4.10 procedure. Returning nil means "ack"; a
// non-nil error on the Windows happy path is never reached because the
// process exits before returning (§4.10 step 7's race is intentional).
func (u *Updater) Update(ctx context.Context, conn *nats.Conn, msg openframe.OpenFrameClientUpdateMessage) error {
	if !validVersion(msg.Version) {
		return ErrVersionInvalid
	}

	// §8 boundary: self-update with version == current_version acks and
	// returns without fetching anything. This is also how the not-yet-
	// acked redelivery loop from a prior, in-flight update terminates once
	// the new binary is actually running (§4.10 step 7, §9 open question).
	if msg.Version == u.currentVer {
		u.logger.Info("self-update message matches running version, acking without action", "version", msg.Version)
		u.recordAttempt("already_current")
		return nil
	}

	if err := u.clientInfo.Save(openframe.ClientInfo{
		CurrentVersion: u.currentVer,
		TargetVersion:  msg.Version,
		Status:         openframe.ClientUpdateUpdating,
	}); err != nil {
		return fmt.Errorf("selfupdate: persist updating status: %w", err)
	}

	cfg, ok := matchOS(msg.DownloadConfigurations)
	if !ok {
		u.markFailed(msg.Version)
		u.recordAttempt("error")
		return fmt.Errorf("selfupdate: no download configuration for os %q", downloadConfigOS())
	}

	data, err := fetchAndExtract(ctx, cfg)
	if err != nil {
		u.markFailed(msg.Version)
		u.recordAttempt("error")
		return fmt.Errorf("selfupdate: download and extract: %w", err)
	}

	tmpPath := filepath.Join(os.TempDir(), "openframe-update-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, data, 0o755); err != nil {
		u.markFailed(msg.Version)
		u.recordAttempt("error")
		return fmt.Errorf("selfupdate: write staged binary: %w", err)
	}

	if runtime.GOOS != "windows" {
		u.markFailed(msg.Version)
		u.recordAttempt("error")
		return ErrUnixUnsupported
	}

	if err := u.launchWindowsHelper(tmpPath, msg.Version); err != nil {
		u.markFailed(msg.Version)
		u.recordAttempt("error")
		return fmt.Errorf("selfupdate: launch update helper: %w", err)
	}

	u.recordAttempt("success")

	publishMsg := openframe.InstalledAgentMessage{AgentType: "openframe-client", Version: msg.Version}
	if err := bus.Publish(conn, bus.Subject(u.machineID, "installed-agent"), publishMsg); err != nil {
		u.logger.Warn("selfupdate: publish installed-agent message failed", "error", err)
	}

	if err := restart.WriteSentinel(u.dirs.Secured, restart.SentinelPayload{
		Kind:    restart.KindUpdate,
		Status:  restart.StatusOK,
		Version: msg.Version,
		Message: "handed off to update helper",
	}); err != nil {
		u.logger.Warn("selfupdate: write restart sentinel failed", "error", err)
	}

	// The helper races with this process's termination: the service
	// manager restarts the Agent with the new binary. Because the
	// triggering message is not acked here, the broker redelivers it after
	// restart; the new Agent process's currentVer will match msg.Version
	// and short-circuit above.
	u.logger.Info("handing off to update helper, exiting for service manager restart", "version", msg.Version)
	u.exitProcess(42)
	return nil
}

// ReportBoot consumes any restart sentinel left by a prior process and
// reconciles the persisted ClientInfo against it (§4.10 step 8, SPEC_FULL
// supplement #3). A self-update's outcome is only knowable once the new
// process is actually running, so the sentinel written just before the
// old process exited is how that process hands its result to this one.
// Call once at startup, before the rest of the service graph is built.
func ReportBoot(dirs agentconfig.Dirs, clientInfo *agentconfig.ClientInfoStore, currentVersion string, logger *slog.Logger) {
	sentinel, err := restart.ConsumeSentinel(dirs.Secured)
	if err != nil {
		logger.Warn("selfupdate: read restart sentinel failed", "error", err)
		return
	}
	if sentinel == nil || sentinel.Payload.Kind != restart.KindUpdate {
		return
	}

	info, err := clientInfo.Load()
	if err != nil {
		logger.Warn("selfupdate: load client info for boot report failed", "error", err)
		return
	}

	info.CurrentVersion = currentVersion
	if sentinel.Payload.Status == restart.StatusOK {
		info.Status = openframe.ClientUpdateUpdated
		info.LastUpdated = time.Now().UTC().Format(time.RFC3339)
		logger.Info("self-update completed, now running updated binary", "version", currentVersion)
	} else {
		info.Status = openframe.ClientUpdateFailed
		logger.Warn("self-update sentinel reports failure, still running prior binary", "version", currentVersion, "message", sentinel.Payload.Message)
	}

	if err := clientInfo.Save(info); err != nil {
		logger.Warn("selfupdate: persist boot report failed", "error", err)
	}
}

func (u *Updater) markFailed(targetVersion string) {
	if err := u.clientInfo.Save(openframe.ClientInfo{
		CurrentVersion: u.currentVer,
		TargetVersion:  targetVersion,
		Status:         openframe.ClientUpdateFailed,
	}); err != nil {
		u.logger.Warn("selfupdate: persist failed status failed", "error", err)
	}
}

func validVersion(v string) bool {
	if v == "" {
		return false
	}
	if v[0] < '0' || v[0] > '9' {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

func matchOS(configs []openframe.DownloadConfiguration) (openframe.DownloadConfiguration, bool) {
	want := downloadConfigOS()
	for _, c := range configs {
		if c.MatchesOS(want) {
			return c, true
		}
	}
	return openframe.DownloadConfiguration{}, false
}

func fetchAndExtract(ctx context.Context, cfg openframe.DownloadConfiguration) ([]byte, error) {
	data, err := httpGet(ctx, cfg.Link)
	if err != nil {
		return nil, err
	}
	format, err := archive.DetectFormat(cfg.FileName)
	if err != nil {
		return nil, err
	}
	return archive.ExtractNamed(format, data, cfg.AgentFileName)
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

// Package daemon provides cross-platform daemon/service management for
// OpenFrame. It installs the Agent as a root/admin system service: a macOS
// LaunchDaemon, a Linux systemd system unit, or a Windows Scheduled Task
// running as SYSTEM (spec §6).
package daemon

import (
	"runtime"
	"strings"
)

// ServiceRuntime contains runtime status information for a daemon service.
type ServiceRuntime struct {
	Status         string // "running", "stopped", "unknown"
	State          string // platform-specific state string
	SubState       string // systemd sub-state (Linux only)
	PID            int    // process ID if running
	LastExitStatus int    // last exit code
	LastExitReason string // exit reason description
	LastRunTime    string // last run time (Windows only)
	LastRunResult  string // last run result (Windows only)
	Detail         string // error detail message
	CachedLabel    bool   // plist exists but is cached (macOS only)
	MissingUnit    bool   // unit/plist/task is missing
}

// InstallOptions contains configuration for installing a daemon service.
type InstallOptions struct {
	Env              map[string]string // environment variable overrides for path resolution
	ProgramArguments []string          // command and arguments to execute
	WorkingDirectory string            // working directory for the service
	Environment      map[string]string // environment variables to set in the service
	Description      string            // service description
}

// InstallResult contains the result of installing a daemon service.
type InstallResult struct {
	Path string // path to the installed service file (plist, unit, or script)
}

// ServiceManager defines the interface for cross-platform service management.
type ServiceManager interface {
	// Label returns a human-readable name for the service type (e.g., "LaunchDaemon", "systemd", "Scheduled Task")
	Label() string

	// Install installs and starts the daemon service.
	Install(opts InstallOptions) (*InstallResult, error)

	// Uninstall stops and removes the daemon service.
	Uninstall(env map[string]string) error

	// Stop stops the running daemon service.
	Stop(env map[string]string) error

	// Restart restarts the daemon service.
	Restart(env map[string]string) error

	// IsInstalled checks if the service is installed and enabled.
	IsInstalled(env map[string]string) (bool, error)

	// Runtime returns the current runtime status of the service.
	Runtime(env map[string]string) (*ServiceRuntime, error)
}

// GetServiceManager returns the appropriate ServiceManager for the current platform.
// It returns nil if the current platform is not supported.
func GetServiceManager() ServiceManager {
	switch runtime.GOOS {
	case "darwin":
		return &LaunchdManager{}
	case "linux":
		return &SystemdManager{}
	case "windows":
		return &SchtasksManager{}
	default:
		return nil
	}
}

// Constants for service names and labels.
const (
	// DefaultLaunchdLabel is the default label for the macOS LaunchDaemon.
	DefaultLaunchdLabel = "com.openframe.agent"

	// DefaultSystemdServiceName is the default name for the Linux systemd service.
	DefaultSystemdServiceName = "openframe-agent"

	// DefaultWindowsTaskName is the default name for Windows scheduled task.
	DefaultWindowsTaskName = "OpenFrame Agent"

	// ServiceMarker is used to identify openframe services.
	ServiceMarker = "openframe"
)

// Environment variable names for overriding defaults.
const (
	EnvOpenFrameProfile        = "OPENFRAME_PROFILE"
	EnvOpenFrameStateDir       = "OPENFRAME_STATE_DIR"
	EnvOpenFrameLaunchdLabel   = "OPENFRAME_LAUNCHD_LABEL"
	EnvOpenFrameSystemdUnit    = "OPENFRAME_SYSTEMD_UNIT"
	EnvOpenFrameWindowsTask    = "OPENFRAME_WINDOWS_TASK_NAME"
	EnvOpenFrameLogPrefix      = "OPENFRAME_LOG_PREFIX"
	EnvOpenFrameServiceVersion = "OPENFRAME_SERVICE_VERSION"
)

// resolveHomeDir returns the home directory from environment.
func resolveHomeDir(env map[string]string) string {
	if home := env["HOME"]; home != "" {
		return home
	}
	if home := env["USERPROFILE"]; home != "" {
		return home
	}
	return ""
}

// resolveProfile returns the normalized profile name from environment.
func resolveProfile(env map[string]string) string {
	profile := env[EnvOpenFrameProfile]
	if profile == "" || profile == "default" || profile == "Default" || profile == "DEFAULT" {
		return ""
	}
	return profile
}

// resolveStateDir returns the state directory for storing logs and scripts.
func resolveStateDir(env map[string]string) string {
	if stateDir := env[EnvOpenFrameStateDir]; stateDir != "" {
		return stateDir
	}
	home := resolveHomeDir(env)
	if home == "" {
		return ""
	}
	profile := resolveProfile(env)
	if profile != "" {
		return home + "/.openframe-" + profile
	}
	return home + "/.openframe"
}

// formatServiceDescription creates a service description string.
func formatServiceDescription(env map[string]string) string {
	profile := resolveProfile(env)
	version := env[EnvOpenFrameServiceVersion]
	parts := []string{}
	if profile != "" {
		parts = append(parts, "profile: "+profile)
	}
	if version != "" {
		parts = append(parts, "v"+version)
	}
	if len(parts) == 0 {
		return "OpenFrame Agent"
	}
	return "OpenFrame Agent (" + strings.Join(parts, ", ") + ")"
}

// parseKeyValueOutput parses key-value output with a separator.
func parseKeyValueOutput(output, separator string) map[string]string {
	entries := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		idx := strings.Index(line, separator)
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		if key == "" {
			continue
		}
		value := strings.TrimSpace(line[idx+len(separator):])
		entries[key] = value
	}
	return entries
}

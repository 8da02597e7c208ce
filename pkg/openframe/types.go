// Package openframe holds the wire and on-disk data model shared across the
// agent's internal packages: configuration records, installed-tool and
// tool-connection registry entries, and the inbound/outbound bus messages.
package openframe

// SessionType describes how a tool process should be launched.
type SessionType string

const (
	SessionService SessionType = "SERVICE"
	SessionConsole SessionType = "CONSOLE"
	SessionUser    SessionType = "USER"
)

// ToolStatus is the lifecycle status of an InstalledTool record.
type ToolStatus string

const (
	ToolStatusInstalled ToolStatus = "INSTALLED"
)

// AssetSource identifies where an asset's bytes are fetched from.
type AssetSource string

const (
	AssetSourceArtifactory AssetSource = "ARTIFACTORY"
	AssetSourceToolAPI     AssetSource = "TOOL_API"
)

// ClientUpdateStatus tracks the agent's own self-update progress.
type ClientUpdateStatus string

const (
	ClientUpdateCurrent  ClientUpdateStatus = "current"
	ClientUpdateUpdating ClientUpdateStatus = "updating"
	ClientUpdateUpdated  ClientUpdateStatus = "updated"
	ClientUpdateFailed   ClientUpdateStatus = "failed"
)

// InitialConfiguration is the one-shot enrolment record written by the
// installer before the agent's first run. See spec §3 / §6.
type InitialConfiguration struct {
	ServerHost      string `json:"server_host"`
	InitialKey      string `json:"initial_key"`
	LocalMode       bool   `json:"local_mode"`
	OrgID           string `json:"org_id"`
	LocalCACertPath string `json:"local_ca_cert_path"`
}

// AgentConfiguration holds the machine identity and OAuth credentials
// assigned by the control plane during registration/authentication.
type AgentConfiguration struct {
	MachineID    string `json:"machine_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Registered reports whether registration has already completed.
func (c AgentConfiguration) Registered() bool { return c.MachineID != "" }

// Authenticated reports whether initial authentication has already completed.
func (c AgentConfiguration) Authenticated() bool { return c.AccessToken != "" }

// DownloadConfiguration points at an OS-specific release archive.
type DownloadConfiguration struct {
	OS            string `json:"os"`
	FileName      string `json:"fileName"`
	AgentFileName string `json:"agentFileName"`
	Link          string `json:"link"`
}

// MatchesOS reports whether this configuration targets the given OS
// ("windows", "macos", or "linux").
func (d DownloadConfiguration) MatchesOS(os string) bool {
	return equalFold(d.OS, os)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Asset is a single file to be materialized alongside a tool's binary.
type Asset struct {
	ID            string      `json:"id"`
	LocalFilename string      `json:"localFilename"`
	Source        AssetSource `json:"source"`
	Path          string      `json:"path,omitempty"`
	Executable    bool        `json:"executable"`
}

// ToolInstallationMessage is the inbound install/reinstall command consumed
// from the TOOL_INSTALLATION stream (§3, §4.5).
type ToolInstallationMessage struct {
	ToolAgentID               string                  `json:"toolAgentId"`
	ToolID                    string                  `json:"toolId"`
	ToolType                  string                  `json:"toolType"`
	Version                   string                  `json:"version"`
	SessionType               SessionType             `json:"sessionType,omitempty"`
	DownloadConfigurations    []DownloadConfiguration `json:"downloadConfigurations,omitempty"`
	InstallationCommandArgs   []string                `json:"installationCommandArgs,omitempty"`
	UninstallationCommandArgs []string                `json:"uninstallationCommandArgs,omitempty"`
	RunCommandArgs            []string                `json:"runCommandArgs"`
	ToolAgentIDCommandArgs    []string                `json:"toolAgentIdCommandArgs,omitempty"`
	Assets                    []Asset                 `json:"assets,omitempty"`
}

// OpenFrameClientUpdateMessage is the inbound self-update command consumed
// from the CLIENT_UPDATE stream (§3, §4.10).
type OpenFrameClientUpdateMessage struct {
	Version                string                  `json:"version"`
	DownloadConfigurations []DownloadConfiguration `json:"downloadConfigurations"`
}

// ToolConnectionMessage is published once per tool after a successful
// identity probe (§3, §4.8).
type ToolConnectionMessage struct {
	ToolType    string `json:"toolType"`
	AgentToolID string `json:"agentToolId"`
}

// InstalledAgentMessage announces a tool (or the agent itself) landing on a
// given version (§3, §4.5 step 8, §4.10 step 6, §4.11).
type InstalledAgentMessage struct {
	AgentType string `json:"agentType"`
	Version   string `json:"version"`
}

// InstalledTool is a single row of the installed-tools registry (C3).
// Invariant: at most one record per ToolAgentID (upsert semantics).
type InstalledTool struct {
	ToolAgentID               string      `json:"tool_agent_id"`
	ToolID                    string      `json:"tool_id"`
	ToolType                  string      `json:"tool_type"`
	Version                   string      `json:"version"`
	RunCommandArgs            []string    `json:"run_command_args"`
	ToolAgentIDCommandArgs    []string    `json:"tool_agent_id_command_args"`
	UninstallationCommandArgs []string    `json:"uninstallation_command_args,omitempty"`
	SessionType               SessionType `json:"session_type"`
	Status                    ToolStatus  `json:"status"`
}

// ToolConnection is a single row of the tool-connections registry (C4).
// Invariant: exactly one record per ToolAgentID; Published=true is terminal.
type ToolConnection struct {
	ToolAgentID string `json:"tool_agent_id"`
	AgentToolID string `json:"agent_tool_id"`
	Published   bool   `json:"published"`
}

// ClientInfo tracks the agent's own self-update state on disk, mirroring
// the registry's pattern of persisting progress outside of memory.
type ClientInfo struct {
	CurrentVersion  string             `json:"current_version"`
	TargetVersion   string             `json:"target_version,omitempty"`
	Status          ClientUpdateStatus `json:"status"`
	BinaryPath      string             `json:"binary_path"`
	LastUpdateCheck string             `json:"last_update_check,omitempty"`
	LastUpdated     string             `json:"last_updated,omitempty"`
}

// AgentRegistrationRequest is the outbound body of POST /clients/api/agents/register.
type AgentRegistrationRequest struct {
	Hostname       string `json:"hostname"`
	AgentVersion   string `json:"agentVersion"`
	OrganizationID string `json:"organizationId,omitempty"`
	OSType         string `json:"osType"`
}

// AgentRegistrationResponse is the decoded body of a successful registration.
type AgentRegistrationResponse struct {
	MachineID    string `json:"machineId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// AgentTokenResponse is the decoded body of a successful /clients/oauth/token call.
type AgentTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    *int64 `json:"expiresIn,omitempty"`
}

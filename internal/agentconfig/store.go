package agentconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/openframe/agent/pkg/openframe"
)

// ErrInitialConfigMissing is returned when initial_config.json does not
// exist yet. run requires it to have been written by the installer first.
var ErrInitialConfigMissing = errors.New("agentconfig: initial configuration file does not exist")

// InitialStore owns the one-shot InitialConfiguration file.
type InitialStore struct {
	path string
}

// NewInitialStore opens the initial-configuration store at the given
// secured-directory path.
func NewInitialStore(dirs Dirs) *InitialStore {
	return &InitialStore{path: dirs.InitialConfigPath()}
}

// Load reads the current InitialConfiguration. Returns ErrInitialConfigMissing
// if the file has not been written yet (the installer's job, per §3).
func (s *InitialStore) Load() (openframe.InitialConfiguration, error) {
	var cfg openframe.InitialConfiguration
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, ErrInitialConfigMissing
		}
		return cfg, fmt.Errorf("agentconfig: read initial config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("agentconfig: decode initial config: %w", err)
	}
	return cfg, nil
}

// Save whole-file-replaces the InitialConfiguration at 0600.
func (s *InitialStore) Save(cfg openframe.InitialConfiguration) error {
	return writeJSON(s.path, cfg)
}

// ClearInitialKey blanks the one-shot enrolment secret after a successful
// registration, unless dev mode is active (§4.1).
func (s *InitialStore) ClearInitialKey() error {
	if DevMode() {
		return nil
	}
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	cfg.InitialKey = ""
	return s.Save(cfg)
}

// AgentStore owns the AgentConfiguration file: machine identity, OAuth
// client credentials, and the current access/refresh tokens.
type AgentStore struct {
	path string
}

// NewAgentStore opens the agent-configuration store at the given
// secured-directory path.
func NewAgentStore(dirs Dirs) *AgentStore {
	return &AgentStore{path: dirs.AgentConfigPath()}
}

// Load reads the current AgentConfiguration. A missing file is not an
// error — it reads as the zero value, meaning "unregistered, unauthenticated".
func (s *AgentStore) Load() (openframe.AgentConfiguration, error) {
	var cfg openframe.AgentConfiguration
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("agentconfig: read agent config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("agentconfig: decode agent config: %w", err)
	}
	return cfg, nil
}

// Save whole-file-replaces the AgentConfiguration at 0600.
func (s *AgentStore) Save(cfg openframe.AgentConfiguration) error {
	return writeJSON(s.path, cfg)
}

// SaveRegistration persists the identity assigned by /register.
func (s *AgentStore) SaveRegistration(machineID, clientID, clientSecret string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	cfg.MachineID = machineID
	cfg.ClientID = clientID
	cfg.ClientSecret = clientSecret
	return s.Save(cfg)
}

// UpdateTokens persists a fresh access/refresh token pair atomically with
// respect to the rest of the agent config (whole-file replace, §4.2).
func (s *AgentStore) UpdateTokens(accessToken, refreshToken string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	cfg.AccessToken = accessToken
	cfg.RefreshToken = refreshToken
	return s.Save(cfg)
}

// ClientInfoStore owns the agent's own self-update progress file (§4.10
// step 2, SPEC_FULL supplemented feature #3).
type ClientInfoStore struct {
	path string
}

// NewClientInfoStore opens the client-info store at the given
// secured-directory path.
func NewClientInfoStore(dirs Dirs) *ClientInfoStore {
	return &ClientInfoStore{path: dirs.ClientInfoPath()}
}

// Load reads the current ClientInfo. A missing file reads as the zero
// value with Status left empty (treated as "current" by callers).
func (s *ClientInfoStore) Load() (openframe.ClientInfo, error) {
	var info openframe.ClientInfo
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return info, nil
		}
		return info, fmt.Errorf("agentconfig: read client info: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("agentconfig: decode client info: %w", err)
	}
	return info, nil
}

// Save whole-file-replaces the ClientInfo at 0600.
func (s *ClientInfoStore) Save(info openframe.ClientInfo) error {
	return writeJSON(s.path, info)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("agentconfig: marshal: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("agentconfig: write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("agentconfig: replace %s: %w", path, err)
	}
	return nil
}

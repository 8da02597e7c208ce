// Package restart implements the restart sentinel: a small versioned JSON
// file a process writes to the secured state directory right before it
// hands off to an external helper and exits (§4.10 step 8), and the next
// process reads back on boot to learn how it came to be running and
// reconcile its own self-update status (SPEC_FULL supplement #3).
package restart

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SentinelFilename is the name of the restart sentinel file.
const SentinelFilename = "restart-sentinel.json"

// RestartKind identifies why a process restarted.
type RestartKind string

const (
	KindUpdate RestartKind = "update"
)

// RestartStatus represents the outcome of the operation that triggered the restart.
type RestartStatus string

const (
	StatusOK    RestartStatus = "ok"
	StatusError RestartStatus = "error"
)

// SentinelPayload is what a restarting process leaves for the next one.
type SentinelPayload struct {
	Kind    RestartKind   `json:"kind"`
	Status  RestartStatus `json:"status"`
	Ts      int64         `json:"ts"`
	Version string        `json:"version,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Sentinel is the versioned wrapper for restart sentinel data.
type Sentinel struct {
	Version int             `json:"version"`
	Payload SentinelPayload `json:"payload"`
}

// ResolveSentinelPath returns the full path to the restart sentinel file.
func ResolveSentinelPath(stateDir string) string {
	return filepath.Join(stateDir, SentinelFilename)
}

// WriteSentinel writes a restart sentinel to the state directory. Ts
// defaults to the current time when the caller leaves it zero.
func WriteSentinel(stateDir string, payload SentinelPayload) error {
	sentinelPath := ResolveSentinelPath(stateDir)

	if err := os.MkdirAll(filepath.Dir(sentinelPath), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if payload.Ts == 0 {
		payload.Ts = time.Now().UnixMilli()
	}

	sentinel := Sentinel{
		Version: 1,
		Payload: payload,
	}

	data, err := json.MarshalIndent(sentinel, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sentinel: %w", err)
	}

	data = append(data, '\n')
	if err := os.WriteFile(sentinelPath, data, 0644); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}

	return nil
}

// ReadSentinel reads and validates a restart sentinel from the state directory.
// Returns nil if the file doesn't exist or is invalid. Invalid files are deleted.
func ReadSentinel(stateDir string) (*Sentinel, error) {
	sentinelPath := ResolveSentinelPath(stateDir)

	data, err := os.ReadFile(sentinelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sentinel: %w", err)
	}

	var sentinel Sentinel
	if err := json.Unmarshal(data, &sentinel); err != nil {
		// Invalid JSON - delete and return nil
		_ = os.Remove(sentinelPath)
		return nil, nil
	}

	// Validate structure
	if sentinel.Version != 1 {
		_ = os.Remove(sentinelPath)
		return nil, nil
	}

	return &sentinel, nil
}

// ConsumeSentinel reads and then deletes the restart sentinel.
// Returns nil if the file doesn't exist or is invalid.
func ConsumeSentinel(stateDir string) (*Sentinel, error) {
	sentinel, err := ReadSentinel(stateDir)
	if err != nil {
		return nil, err
	}
	if sentinel == nil {
		return nil, nil
	}

	sentinelPath := ResolveSentinelPath(stateDir)
	_ = os.Remove(sentinelPath)

	return sentinel, nil
}

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/openframe/agent/pkg/openframe"
)

// ConnectionsRegistry owns tool_connections.json. Invariant: exactly one
// record per ToolAgentID; Published=true is terminal and must never be
// republished (C4, §8).
type ConnectionsRegistry struct {
	path string
	mu   sync.Mutex
}

// NewConnectionsRegistry opens the tool-connections registry at path.
func NewConnectionsRegistry(path string) *ConnectionsRegistry {
	return &ConnectionsRegistry{path: path}
}

// Get returns the connection record for toolAgentID, if any.
func (r *ConnectionsRegistry) Get(toolAgentID string) (openframe.ToolConnection, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, err := r.load()
	if err != nil {
		return openframe.ToolConnection{}, false, err
	}
	for _, c := range conns {
		if c.ToolAgentID == toolAgentID {
			return c, true, nil
		}
	}
	return openframe.ToolConnection{}, false, nil
}

// Published reports whether toolAgentID already has a terminal,
// published connection record.
func (r *ConnectionsRegistry) Published(toolAgentID string) (bool, error) {
	conn, ok, err := r.Get(toolAgentID)
	if err != nil {
		return false, err
	}
	return ok && conn.Published, nil
}

// Upsert inserts or replaces the connection record for conn.ToolAgentID.
func (r *ConnectionsRegistry) Upsert(conn openframe.ToolConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, err := r.load()
	if err != nil {
		return err
	}
	replaced := false
	for i, c := range conns {
		if c.ToolAgentID == conn.ToolAgentID {
			conns[i] = conn
			replaced = true
			break
		}
	}
	if !replaced {
		conns = append(conns, conn)
	}
	return r.save(conns)
}

func (r *ConnectionsRegistry) load() ([]openframe.ToolConnection, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: read connections: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var conns []openframe.ToolConnection
	if err := json.Unmarshal(data, &conns); err != nil {
		return nil, fmt.Errorf("registry: decode connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionsRegistry) save(conns []openframe.ToolConnection) error {
	if conns == nil {
		conns = []openframe.ToolConnection{}
	}
	data, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode connections: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("registry: write connections: %w", err)
	}
	return nil
}

// Package registry implements the two durable-state anchors the agent
// restarts from: the installed-tools registry (C3) and the tool-connections
// registry (C4). Both are whole-file-replace JSON documents with no
// in-memory cache across operations — every read reloads from disk, per
// the shared-state discipline in §5.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/openframe/agent/pkg/openframe"
)

// ToolsRegistry owns installed_tools.json. Invariant: at most one record
// per ToolAgentID (upsert).
type ToolsRegistry struct {
	path string
	mu   sync.Mutex
}

// NewToolsRegistry opens the installed-tools registry at path.
func NewToolsRegistry(path string) *ToolsRegistry {
	return &ToolsRegistry{path: path}
}

// List returns every installed tool. A missing file reads as empty.
func (r *ToolsRegistry) List() ([]openframe.InstalledTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Get returns the record for toolAgentID, if any.
func (r *ToolsRegistry) Get(toolAgentID string) (openframe.InstalledTool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tools, err := r.load()
	if err != nil {
		return openframe.InstalledTool{}, false, err
	}
	for _, t := range tools {
		if t.ToolAgentID == toolAgentID {
			return t, true, nil
		}
	}
	return openframe.InstalledTool{}, false, nil
}

// Upsert inserts or replaces the record for tool.ToolAgentID and persists
// the whole registry.
func (r *ToolsRegistry) Upsert(tool openframe.InstalledTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tools, err := r.load()
	if err != nil {
		return err
	}
	replaced := false
	for i, t := range tools {
		if t.ToolAgentID == tool.ToolAgentID {
			tools[i] = tool
			replaced = true
			break
		}
	}
	if !replaced {
		tools = append(tools, tool)
	}
	return r.save(tools)
}

// Remove deletes the record for toolAgentID, if present.
func (r *ToolsRegistry) Remove(toolAgentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tools, err := r.load()
	if err != nil {
		return err
	}
	out := tools[:0]
	for _, t := range tools {
		if t.ToolAgentID != toolAgentID {
			out = append(out, t)
		}
	}
	return r.save(out)
}

func (r *ToolsRegistry) load() ([]openframe.InstalledTool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: read tools: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var tools []openframe.InstalledTool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("registry: decode tools: %w", err)
	}
	return tools, nil
}

func (r *ToolsRegistry) save(tools []openframe.InstalledTool) error {
	if tools == nil {
		tools = []openframe.InstalledTool{}
	}
	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode tools: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("registry: write tools: %w", err)
	}
	return nil
}

// Package permcheck implements the check-permissions subcommand (§6): a
// non-fatal filesystem permission and ownership audit of the Agent's own
// state, run without root so operators and support tooling can sanity-check
// an install.
package permcheck

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/openframe/agent/internal/agentconfig"
)

// Severity classifies a finding's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Finding is a single permission or ownership mismatch.
type Finding struct {
	CheckID     string   `json:"check_id"`
	Severity    Severity `json:"severity"`
	Path        string   `json:"path"`
	Title       string   `json:"title"`
	Detail      string   `json:"detail"`
	Remediation string   `json:"remediation,omitempty"`
}

// Report is the full result of a Run.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Findings  []Finding `json:"findings"`
}

// HasCritical reports whether any finding is critical severity.
func (r Report) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// expect pairs a path from the §6 filesystem table with its wanted mode
// and whether it must exist to be checked at all.
type expect struct {
	path     string
	wantMode os.FileMode
	dir      bool
	optional bool
}

// Run audits dirs against the §6 filesystem layout table: the app-support
// root is 0755, the secured directory is 0700, each named state file
// (configs, registries, shared token) is 0600, and the log file is 0644.
// Other files under the secured directory are not checked. Missing optional files (not yet written, e.g.
// before first bootstrap) are skipped rather than flagged.
func Run(dirs agentconfig.Dirs) Report {
	checks := []expect{
		{path: dirs.AppSupport, wantMode: 0o755, dir: true},
		{path: dirs.Secured, wantMode: 0o700, dir: true},
		{path: dirs.InitialConfigPath(), wantMode: 0o600, optional: true},
		{path: dirs.AgentConfigPath(), wantMode: 0o600, optional: true},
		{path: dirs.InstalledToolsPath(), wantMode: 0o600, optional: true},
		{path: dirs.ToolConnectionsPath(), wantMode: 0o600, optional: true},
		{path: dirs.SharedTokenPath(), wantMode: 0o600, optional: true},
		{path: dirs.LogFilePath(), wantMode: 0o644, optional: true},
	}

	var findings []Finding
	for _, c := range checks {
		findings = append(findings, checkPath(c)...)
	}

	// Walk the app-support tree for tool binaries/assets, which the §6
	// table allows either 0755 (executable) or 0644 (non-executable) — a
	// looser check than the fixed-mode entries above.
	if dirs.AppSupport != "" {
		findings = append(findings, walkToolTree(dirs.AppSupport)...)
	}

	return Report{Timestamp: time.Now(), Findings: findings}
}

func checkPath(c expect) []Finding {
	info, err := os.Lstat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !c.optional {
				return []Finding{{
					CheckID:  "fs.missing_required_path",
					Severity: SeverityCritical,
					Path:     c.path,
					Title:    "required path is missing",
					Detail:   fmt.Sprintf("%s does not exist", c.path),
				}}
			}
			return nil
		}
		return []Finding{{
			CheckID:  "fs.stat_failed",
			Severity: SeverityWarn,
			Path:     c.path,
			Title:    "could not stat path",
			Detail:   err.Error(),
		}}
	}

	var findings []Finding

	if info.Mode()&os.ModeSymlink != 0 {
		findings = append(findings, Finding{
			CheckID:     "fs.symlink",
			Severity:    SeverityWarn,
			Path:        c.path,
			Title:       "path is a symlink",
			Detail:      "symlinks under a root-owned state directory can be used to redirect writes outside it",
			Remediation: fmt.Sprintf("replace %s with a real file or directory", c.path),
		})
		// Lstat's mode bits describe the link itself, not its target, so
		// the type/permission checks below need to follow it instead.
		followed, err := os.Stat(c.path)
		if err != nil {
			return findings
		}
		info = followed
	}

	if c.dir != info.IsDir() {
		findings = append(findings, Finding{
			CheckID:  "fs.unexpected_type",
			Severity: SeverityCritical,
			Path:     c.path,
			Title:    "path is not the expected type",
			Detail:   fmt.Sprintf("expected dir=%v, found dir=%v", c.dir, info.IsDir()),
		})
		return findings
	}

	mode := info.Mode().Perm()
	if runtime.GOOS != "windows" && mode != c.wantMode {
		sev := SeverityWarn
		if isWorldWritable(mode) || (mode&0o077) != 0 && c.wantMode&0o077 == 0 {
			sev = SeverityCritical
		}
		findings = append(findings, Finding{
			CheckID:     "fs.unexpected_mode",
			Severity:    sev,
			Path:        c.path,
			Title:       "path has unexpected permissions",
			Detail:      fmt.Sprintf("want %04o, have %04o", c.wantMode, mode),
			Remediation: fmt.Sprintf("chmod %04o %s", c.wantMode, c.path),
		})
	}

	return findings
}

func walkToolTree(appSupport string) []Finding {
	var findings []Finding
	_ = filepath.WalkDir(appSupport, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == appSupport || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mode := info.Mode().Perm()
		if runtime.GOOS == "windows" {
			return nil
		}
		if isWorldWritable(mode) {
			findings = append(findings, Finding{
				CheckID:     "fs.tool_asset_world_writable",
				Severity:    SeverityCritical,
				Path:        path,
				Title:       "tool asset is world-writable",
				Detail:      fmt.Sprintf("%s has mode %04o", path, mode),
				Remediation: fmt.Sprintf("chmod o-w %s", path),
			})
		}
		return nil
	})
	return findings
}

func isWorldWritable(mode os.FileMode) bool {
	return mode&0o002 != 0
}

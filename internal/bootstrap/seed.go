// Package bootstrap assembles a Flock node from configuration and seeds
// per-agent home directories.
package bootstrap

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flocklabs/flock/internal/config"
)

// Home directory files. AGENTS.md and TOOLS.md are regenerated on every
// boot; the rest are seeded once and owned by the agent afterwards.
const (
	AgentsFile    = "AGENTS.md"
	ToolsFile     = "TOOLS.md"
	SoulFile      = "SOUL.md"
	IdentityFile  = "IDENTITY.md"
	MemoryFile    = "MEMORY.md"
	UserFile      = "USER.md"
	HeartbeatFile = "HEARTBEAT.md"
	MemoryDir     = "memory"
)

//go:embed templates/*.md
var templateFS embed.FS

// seedOnceFiles are never overwritten: the agent's accumulated state
// lives in them and must survive reboots and migrations.
var seedOnceFiles = []string{
	SoulFile,
	IdentityFile,
	MemoryFile,
	UserFile,
	HeartbeatFile,
}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureHome seeds one agent's home directory. Generated files are
// rewritten every call; template files are created only when absent.
// Returns the list of files created or rewritten.
func EnsureHome(homeDir string, spec config.AgentSpec, role string, peerIDs []string) ([]string, error) {
	if err := os.MkdirAll(filepath.Join(homeDir, MemoryDir), 0o755); err != nil {
		return nil, err
	}

	var written []string

	generated := map[string]string{
		AgentsFile: renderAgentsFile(spec, role, peerIDs),
		ToolsFile:  renderToolsFile(role),
	}
	for name, content := range generated {
		if err := os.WriteFile(filepath.Join(homeDir, name), []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, name)
	}

	for _, name := range seedOnceFiles {
		ok, err := seedTemplate(homeDir, name)
		if err != nil {
			return written, fmt.Errorf("seed %s: %w", name, err)
		}
		if ok {
			written = append(written, name)
		}
	}
	sort.Strings(written)
	return written, nil
}

// seedTemplate writes a template into the home if absent. O_EXCL keeps
// existing agent state untouched.
func seedTemplate(homeDir, name string) (bool, error) {
	dst := filepath.Join(homeDir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

func renderAgentsFile(spec config.AgentSpec, role string, peerIDs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# AGENTS\n\nGenerated at boot, %s. Do not edit; changes are overwritten.\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "## You\n\n- **Agent ID:** %s\n- **Role:** %s\n", spec.ID, role)
	if spec.Archetype != "" {
		fmt.Fprintf(&b, "- **Archetype:** %s\n", spec.Archetype)
	}
	b.WriteString("\n## Peers\n\n")
	if len(peerIDs) == 0 {
		b.WriteString("No other agents on this node.\n")
	} else {
		for _, id := range peerIDs {
			if id == spec.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	b.WriteString("\nMessages to peers go through the flock; address them by agent id.\n")
	return b.String()
}

func renderToolsFile(role string) string {
	var b strings.Builder
	b.WriteString("# TOOLS\n\nGenerated at boot. Do not edit; changes are overwritten.\n\n")
	b.WriteString("## Available\n\n")
	if role == "sysadmin" {
		b.WriteString("- `flock_triage`: classify an escalated request as GREEN, YELLOW, or RED\n  before replying. Always include the request id you were given.\n")
	} else {
		b.WriteString("- None beyond the session itself. Escalate privileged work to the\n  sysadmin agent.\n")
	}
	return b.String()
}

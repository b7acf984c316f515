package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Home is the daemon's on-disk layout. Everything the daemon owns lives
// under one root:
//
//	<root>/config.yaml            user configuration
//	<root>/allowlist.yaml         network allowlist
//	<root>/protected/             daemon-owned state, never agent-writable
//	<root>/protected/daemon.pid
//	<root>/protected/daemon.lock
//	<root>/protected/db.sqlite
//	<root>/projects/<team>/repos/<repo>          shared main checkouts
//	<root>/projects/<team>/worktrees/<agent>/<repo>
//	<root>/projects/<team>/scratch/
//	<root>/members/<team>/<agent>/ per-agent state (memory, notes)
type Home struct {
	root string
}

// envHome overrides the default home location.
const envHome = "DELEGATE_HOME"

// NewHome resolves the daemon home: the DELEGATE_HOME environment
// variable, or ~/.delegate.
func NewHome() (*Home, error) {
	if root := os.Getenv(envHome); root != "" {
		return &Home{root: root}, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return &Home{root: filepath.Join(dir, ".delegate")}, nil
}

// HomeAt returns a Home rooted at an explicit path, for tests.
func HomeAt(root string) *Home {
	return &Home{root: root}
}

// Ensure creates the directory skeleton. The protected dir is owner-only.
func (h *Home) Ensure() error {
	if err := os.MkdirAll(h.root, 0o755); err != nil {
		return err
	}
	for _, dir := range []string{h.ProtectedDir(), h.projectsDir(), h.membersDir()} {
		mode := os.FileMode(0o755)
		if dir == h.ProtectedDir() {
			mode = 0o700
		}
		if err := os.MkdirAll(dir, mode); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the home root directory.
func (h *Home) Root() string { return h.root }

// ProtectedDir holds daemon-owned state agents must never touch.
func (h *Home) ProtectedDir() string { return filepath.Join(h.root, "protected") }

// PIDFile is the running daemon's PID record.
func (h *Home) PIDFile() string { return filepath.Join(h.ProtectedDir(), "daemon.pid") }

// LockFile is the singleton flock target.
func (h *Home) LockFile() string { return filepath.Join(h.ProtectedDir(), "daemon.lock") }

// DBPath is the SQLite database file.
func (h *Home) DBPath() string { return filepath.Join(h.ProtectedDir(), "db.sqlite") }

// AllowlistPath is the network allowlist file.
func (h *Home) AllowlistPath() string { return filepath.Join(h.root, "allowlist.yaml") }

// ConfigPath is the user configuration file.
func (h *Home) ConfigPath() string { return filepath.Join(h.root, "config.yaml") }

func (h *Home) projectsDir() string { return filepath.Join(h.root, "projects") }
func (h *Home) membersDir() string  { return filepath.Join(h.root, "members") }

// TeamDir is a team's project root.
func (h *Home) TeamDir(team string) string {
	return filepath.Join(h.projectsDir(), team)
}

// EnsureTeam creates a team's directory skeleton. Safe to run any
// number of times; existing files are never touched.
func (h *Home) EnsureTeam(team string) error {
	for _, dir := range []string{
		filepath.Join(h.TeamDir(team), "repos"),
		filepath.Join(h.TeamDir(team), "worktrees"),
		filepath.Join(h.TeamDir(team), "scratch"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// RepoPath is the shared main checkout of a registered repo.
func (h *Home) RepoPath(team, repo string) string {
	return filepath.Join(h.TeamDir(team), "repos", repo)
}

// LinkRepo symlinks the shared checkout slot to the registered path.
// Re-linking the same name is a no-op when the target is unchanged and
// replaces the link when it moved, so a repo name always resolves to
// exactly one symlink.
func (h *Home) LinkRepo(team, repo, target string) error {
	link := h.RepoPath(team, repo)
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	if existing, err := os.Readlink(link); err == nil {
		if existing == target {
			return nil
		}
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(target, link)
}

// AgentWorktreePath is an agent's private worktree of a repo.
func (h *Home) AgentWorktreePath(team, agent, repo string) string {
	return filepath.Join(h.TeamDir(team), "worktrees", agent, repo)
}

// ScratchPath is a disposable merge worktree location.
func (h *Home) ScratchPath(team string, taskID int64, repo string) string {
	return filepath.Join(h.TeamDir(team), "scratch", fmt.Sprintf("t%d-%s", taskID, repo))
}

// MemberDir is an agent's private state directory.
func (h *Home) MemberDir(team, agent string) string {
	return filepath.Join(h.membersDir(), team, agent)
}

// WorkDir is the directory an agent's session runs in. Agents without
// worktrees yet work in their member dir; callers pass a repo worktree
// when one exists.
func (h *Home) WorkDir(team, agent string) string {
	return filepath.Join(h.TeamDir(team), "worktrees", agent)
}

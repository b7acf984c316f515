package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// homeMigration is a one-shot filesystem migration of the daemon home.
// Completed migrations leave a sentinel file so they never rerun.
type homeMigration struct {
	name  string
	apply func(root string) error
}

// homeMigrations run in order on startup. Append only.
var homeMigrations = []homeMigration{
	{
		// Early homes kept db.sqlite at the root, writable by agents.
		name: "001-move-db-to-protected",
		apply: func(root string) error {
			old := filepath.Join(root, "db.sqlite")
			if _, err := os.Stat(old); os.IsNotExist(err) {
				return nil
			}
			return os.Rename(old, filepath.Join(root, "protected", "db.sqlite"))
		},
	},
	{
		// allowlist.json predates the YAML config surface.
		name: "002-drop-json-allowlist",
		apply: func(root string) error {
			old := filepath.Join(root, "allowlist.json")
			if _, err := os.Stat(old); os.IsNotExist(err) {
				return nil
			}
			return os.Rename(old, old+".bak")
		},
	},
	{
		// The projects/ dir was called teams/ before members could join
		// multiple teams. Entries move one by one so an interrupted run
		// resumes cleanly: already-moved teams are skipped.
		name: "003-rename-teams-to-projects",
		apply: func(root string) error {
			old := filepath.Join(root, "teams")
			entries, err := os.ReadDir(old)
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return err
			}
			projects := filepath.Join(root, "projects")
			if err := os.MkdirAll(projects, 0o755); err != nil {
				return err
			}
			for _, e := range entries {
				dst := filepath.Join(projects, e.Name())
				if _, err := os.Stat(dst); err == nil {
					continue
				}
				if err := os.Rename(filepath.Join(old, e.Name()), dst); err != nil {
					return err
				}
			}
			return os.Remove(old)
		},
	},
}

// MigrateHome applies outstanding home-layout migrations.
func MigrateHome(home interface{ Root() string }) error {
	root := home.Root()
	sentinelDir := filepath.Join(root, "protected", "migrations")
	if err := os.MkdirAll(sentinelDir, 0o700); err != nil {
		return err
	}

	for _, m := range homeMigrations {
		sentinel := filepath.Join(sentinelDir, m.name)
		if _, err := os.Stat(sentinel); err == nil {
			continue
		}
		if err := m.apply(root); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if err := os.WriteFile(sentinel, nil, 0o600); err != nil {
			return fmt.Errorf("migration %s sentinel: %w", m.name, err)
		}
		log.Printf("[daemon] applied home migration %s", m.name)
	}
	return nil
}

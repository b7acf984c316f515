package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// allowlistFile is the on-disk allowlist shape.
type allowlistFile struct {
	Hosts []string `yaml:"hosts"`
}

// defaultHosts replaces a legacy allow-everything file: the package
// registries and git forges agent toolchains commonly need.
var defaultHosts = []string{
	"github.com",
	"*.github.com",
	"*.githubusercontent.com",
	"gitlab.com",
	"*.gitlab.com",
	"bitbucket.org",
	"proxy.golang.org",
	"sum.golang.org",
	"registry.npmjs.org",
	"pypi.org",
	"files.pythonhosted.org",
	"crates.io",
	"static.crates.io",
	"index.docker.io",
	"auth.docker.io",
	"registry-1.docker.io",
}

// Allowlist is the set of hosts agent network egress may reach. Entries
// are exact hostnames or "*.suffix" wildcards; a bare "*" is not a
// global wildcard and matches nothing.
type Allowlist struct {
	path string

	mu    sync.RWMutex
	hosts []string
}

// LoadAllowlist reads the allowlist file. A missing file means an empty
// allowlist. The legacy format, a bare YAML sequence of hosts, is
// migrated to the hosts: form in place.
func LoadAllowlist(path string) (*Allowlist, error) {
	a := &Allowlist{path: path}
	if err := a.reload(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allowlist) reload() error {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		a.mu.Lock()
		a.hosts = nil
		a.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading allowlist: %w", err)
	}

	var file allowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		// Legacy format: a bare sequence of hosts. A legacy ["*"]
		// meant allow everything; that becomes the curated defaults.
		var legacy []string
		if legacyErr := yaml.Unmarshal(data, &legacy); legacyErr != nil {
			return fmt.Errorf("parsing allowlist: %w", err)
		}
		if len(legacy) == 1 && strings.TrimSpace(legacy[0]) == "*" {
			legacy = append([]string(nil), defaultHosts...)
		}
		file.Hosts = legacy
		if migrated, marshalErr := yaml.Marshal(allowlistFile{Hosts: file.Hosts}); marshalErr == nil {
			if writeErr := os.WriteFile(a.path, migrated, 0o644); writeErr != nil {
				log.Printf("[config] allowlist migration write failed: %v", writeErr)
			}
		}
	}

	hosts := make([]string, 0, len(file.Hosts))
	for _, h := range file.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if h == "*" {
			log.Printf("[config] allowlist entry %q ignored: bare wildcard is not supported", h)
			continue
		}
		hosts = append(hosts, h)
	}

	a.mu.Lock()
	a.hosts = hosts
	a.mu.Unlock()
	return nil
}

// Allowed reports whether the host may be reached. Matching is
// case-insensitive; a "*.suffix" entry matches exactly one extra label
// in front of the suffix, never the bare suffix or deeper nesting.
func (a *Allowlist) Allowed(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, entry := range a.hosts {
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if label, ok := strings.CutSuffix(host, "."+suffix); ok &&
				label != "" && !strings.Contains(label, ".") {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// Hosts returns a copy of the current entries.
func (a *Allowlist) Hosts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.hosts...)
}

// Watch hot-reloads the allowlist when the file changes, until ctx is
// cancelled. The parent directory is watched so replace-by-rename (the
// common editor save) is caught.
func (a *Allowlist) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(a.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(a.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != a.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := a.reload(); err != nil {
					log.Printf("[config] allowlist reload failed: %v", err)
				} else {
					log.Printf("[config] allowlist reloaded: %d host(s)", len(a.Hosts()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] allowlist watcher: %v", err)
			}
		}
	}()
	return nil
}

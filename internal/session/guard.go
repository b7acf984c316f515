package session

import (
	"fmt"
	"path/filepath"
	"strings"
)

// fileWriteTools are the tools whose "file_path" input is confined to the
// allowed write prefixes.
var fileWriteTools = map[string]bool{
	"Edit":  true,
	"Write": true,
}

// NewGuard builds the per-turn tool guard. Edit and Write are allowed only
// under one of the allowedWritePaths prefixes (nil means unrestricted);
// Bash commands containing any denied substring are refused; every other
// tool is allowed. Relative file paths are resolved against cwd before the
// prefix check, matching where the executor will actually write them.
func NewGuard(cwd string, allowedWritePaths, deniedBashPatterns []string) GuardFunc {
	prefixes := make([]string, 0, len(allowedWritePaths))
	for _, p := range allowedWritePaths {
		prefixes = append(prefixes, filepath.Clean(p))
	}

	return func(tool string, input map[string]any) error {
		switch {
		case fileWriteTools[tool]:
			if len(prefixes) == 0 {
				return nil
			}
			path, _ := input["file_path"].(string)
			if path == "" {
				return fmt.Errorf("%s: missing file_path", tool)
			}
			if !filepath.IsAbs(path) {
				path = filepath.Join(cwd, path)
			}
			clean := filepath.Clean(path)
			for _, prefix := range prefixes {
				if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
					return nil
				}
			}
			return fmt.Errorf("%s to %s is outside the permitted workspace", tool, path)

		case tool == "Bash":
			command, _ := input["command"].(string)
			for _, pattern := range deniedBashPatterns {
				if pattern != "" && strings.Contains(command, pattern) {
					return fmt.Errorf("command contains forbidden pattern %q", pattern)
				}
			}
			return nil

		default:
			return nil
		}
	}
}

package models

import (
	"fmt"
	"regexp"
	"time"
)

// teamNamePattern matches valid team slugs: lowercase alphanumeric start,
// then lowercase alphanumerics, underscores, or hyphens.
var teamNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidTeamName returns true if the slug is acceptable.
func ValidTeamName(name string) bool {
	return teamNamePattern.MatchString(name)
}

// CheckTeamName validates a team slug and returns a diagnostic error
// if it is rejected. The diagnostic always mentions "lowercase" so callers
// can surface the constraint directly.
func CheckTeamName(name string) error {
	if !ValidTeamName(name) {
		return fmt.Errorf("invalid team name %q: must be lowercase alphanumeric with optional hyphens or underscores", name)
	}
	return nil
}

// Team is a named workspace owning agents, tasks, mailbox rows, and repos.
type Team struct {
	// Name is the globally-unique team slug.
	Name string `json:"name"`
	// CreatedAt is when the team was registered.
	CreatedAt time.Time `json:"created_at"`
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/denyherianto/delegate/pkg/models"
)

// ErrTeamNotFound indicates no team matched the given slug.
var ErrTeamNotFound = errors.New("team not found")

// ErrTeamExists indicates the slug is already registered.
var ErrTeamExists = errors.New("team already exists")

// ErrAgentNotFound indicates no agent matched the given name.
var ErrAgentNotFound = errors.New("agent not found")

// ErrNameTaken indicates a participant name is already in use.
// Participant names are globally unique across agents and members.
var ErrNameTaken = errors.New("participant name already taken")

// CreateTeam registers a new team. The slug must be valid and unused.
func (db *DB) CreateTeam(name string) (*models.Team, error) {
	if err := models.CheckTeamName(name); err != nil {
		return nil, err
	}

	now := time.Now()
	_, err := db.Exec(`INSERT INTO teams (name, created_at) VALUES (?, ?)`,
		name, formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTeamExists
		}
		return nil, fmt.Errorf("create team: %w", err)
	}
	return &models.Team{Name: name, CreatedAt: now}, nil
}

// GetTeam returns the team with the given slug.
func (db *DB) GetTeam(name string) (*models.Team, error) {
	var createdAt string
	row := db.QueryRow(`SELECT created_at FROM teams WHERE name = ?`, name)
	if err := row.Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &models.Team{Name: name, CreatedAt: t}, nil
}

// ListTeams returns all teams ordered by name.
func (db *DB) ListTeams() ([]*models.Team, error) {
	rows, err := db.Query(`SELECT name, created_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var (
			name      string
			createdAt string
		)
		if err := rows.Scan(&name, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		teams = append(teams, &models.Team{Name: name, CreatedAt: t})
	}
	return teams, rows.Err()
}

// DeleteTeam removes the team and, via cascading foreign keys, its agents,
// tasks, messages, and repos.
func (db *DB) DeleteTeam(name string) error {
	res, err := db.Exec(`DELETE FROM teams WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// CreateAgent registers an agent in a team. Agent names are globally unique.
func (db *DB) CreateAgent(agent *models.Agent) error {
	if _, err := db.GetTeam(agent.Team); err != nil {
		return err
	}
	var taken int
	row := db.QueryRow(`SELECT COUNT(*) FROM members WHERE name = ?`, agent.Name)
	if err := row.Scan(&taken); err != nil {
		return fmt.Errorf("check name: %w", err)
	}
	if taken > 0 {
		return ErrNameTaken
	}
	_, err := db.Exec(`
		INSERT INTO agents (name, team, role, model, bio) VALUES (?, ?, ?, ?, ?)
	`, agent.Name, agent.Team, string(agent.Role), agent.Model, agent.Bio)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent returns the agent with the given name.
func (db *DB) GetAgent(name string) (*models.Agent, error) {
	row := db.QueryRow(`SELECT name, team, role, model, bio FROM agents WHERE name = ?`, name)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	return agent, err
}

// ListAgents returns the team's agents ordered by name.
func (db *DB) ListAgents(team string) ([]*models.Agent, error) {
	rows, err := db.Query(`
		SELECT name, team, role, model, bio FROM agents WHERE team = ? ORDER BY name
	`, team)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// DeleteAgent removes the agent with the given name.
func (db *DB) DeleteAgent(name string) error {
	res, err := db.Exec(`DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func scanAgent(row scanner) (*models.Agent, error) {
	var (
		agent models.Agent
		role  string
	)
	if err := row.Scan(&agent.Name, &agent.Team, &role, &agent.Model, &agent.Bio); err != nil {
		return nil, err
	}
	agent.Role = models.AgentRole(role)
	return &agent, nil
}

// isUniqueViolation reports whether the error is a SQLite unique or
// primary-key constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

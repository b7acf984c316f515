package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/denyherianto/delegate/pkg/models"
)

// ErrRepoNotFound indicates no repo matched the given team and name.
var ErrRepoNotFound = errors.New("repo not found")

// RegisterRepo registers a repo under a team-scoped symbolic name.
// Registering the same (team, name) again updates path, approval mode,
// and pipeline in place, so repeated registration is idempotent.
func (db *DB) RegisterRepo(repo *models.Repo) error {
	if _, err := db.GetTeam(repo.Team); err != nil {
		return err
	}
	if !repo.Approval.Valid() {
		return fmt.Errorf("invalid approval mode %q", repo.Approval)
	}

	pipeline, err := json.Marshal(repo.Pipeline)
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO repos (team, name, path, approval, pipeline)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (team, name) DO UPDATE SET
			path = excluded.path,
			approval = excluded.approval,
			pipeline = excluded.pipeline
	`, repo.Team, repo.Name, repo.Path, string(repo.Approval), string(pipeline))
	if err != nil {
		return fmt.Errorf("register repo: %w", err)
	}
	return nil
}

// GetRepo returns the repo with the given team-scoped name.
func (db *DB) GetRepo(team, name string) (*models.Repo, error) {
	row := db.QueryRow(`
		SELECT team, name, path, approval, pipeline FROM repos
		WHERE team = ? AND name = ?
	`, team, name)
	repo, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRepoNotFound
	}
	return repo, err
}

// ListRepos returns the team's repos ordered by name.
func (db *DB) ListRepos(team string) ([]*models.Repo, error) {
	rows, err := db.Query(`
		SELECT team, name, path, approval, pipeline FROM repos
		WHERE team = ? ORDER BY name
	`, team)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// RemoveRepo removes the repo registration.
func (db *DB) RemoveRepo(team, name string) error {
	res, err := db.Exec(`DELETE FROM repos WHERE team = ? AND name = ?`, team, name)
	if err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRepoNotFound
	}
	return nil
}

func scanRepo(row scanner) (*models.Repo, error) {
	var (
		repo     models.Repo
		approval string
		pipeline string
	)
	if err := row.Scan(&repo.Team, &repo.Name, &repo.Path, &approval, &pipeline); err != nil {
		return nil, err
	}
	repo.Approval = models.ApprovalMode(approval)
	if err := json.Unmarshal([]byte(pipeline), &repo.Pipeline); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	return &repo, nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/denyherianto/delegate/pkg/models"
)

// ErrMemberNotFound indicates no member matched the given name.
var ErrMemberNotFound = errors.New("member not found")

// CreateMember registers a human member. Members are org-global and
// participate in every team. Names share a namespace with agents.
func (db *DB) CreateMember(member *models.Member) error {
	var taken int
	row := db.QueryRow(`SELECT COUNT(*) FROM agents WHERE name = ?`, member.Name)
	if err := row.Scan(&taken); err != nil {
		return fmt.Errorf("check name: %w", err)
	}
	if taken > 0 {
		return ErrNameTaken
	}

	_, err := db.Exec(`INSERT INTO members (name, email, created_at) VALUES (?, ?, ?)`,
		member.Name, member.Email, formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

// GetMember returns the member with the given name.
func (db *DB) GetMember(name string) (*models.Member, error) {
	var member models.Member
	row := db.QueryRow(`SELECT name, email FROM members WHERE name = ?`, name)
	if err := row.Scan(&member.Name, &member.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &member, nil
}

// ListMembers returns all members ordered by name.
func (db *DB) ListMembers() ([]*models.Member, error) {
	rows, err := db.Query(`SELECT name, email FROM members ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		var member models.Member
		if err := rows.Scan(&member.Name, &member.Email); err != nil {
			return nil, err
		}
		members = append(members, &member)
	}
	return members, rows.Err()
}

// DeleteMember removes the member with the given name.
func (db *DB) DeleteMember(name string) error {
	res, err := db.Exec(`DELETE FROM members WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

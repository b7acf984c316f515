package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionState is the persisted accounting snapshot for an agent's
// conversation session. The conversation content itself lives with the
// model runtime; only usage and generation survive a daemon restart.
type SessionState struct {
	Team             string
	Agent            string
	SessionID        string
	Generation       int
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Cost             float64
	Turns            int
	UpdatedAt        time.Time
}

// SaveSessionState upserts the session snapshot for an agent.
func (db *DB) SaveSessionState(s *SessionState) error {
	_, err := db.Exec(`
		INSERT INTO sessions (team, agent, session_id, generation, input_tokens,
			output_tokens, cache_read_tokens, cache_write_tokens, cost, turns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (team, agent) DO UPDATE SET
			session_id = excluded.session_id,
			generation = excluded.generation,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_write_tokens = excluded.cache_write_tokens,
			cost = excluded.cost,
			turns = excluded.turns,
			updated_at = excluded.updated_at
	`, s.Team, s.Agent, s.SessionID, s.Generation, s.InputTokens, s.OutputTokens,
		s.CacheReadTokens, s.CacheWriteTokens, s.Cost, s.Turns, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// LoadSessionState returns the persisted snapshot for an agent, or nil if
// none exists.
func (db *DB) LoadSessionState(team, agent string) (*SessionState, error) {
	row := db.QueryRow(`
		SELECT team, agent, session_id, generation, input_tokens, output_tokens,
		       cache_read_tokens, cache_write_tokens, cost, turns, updated_at
		FROM sessions WHERE team = ? AND agent = ?
	`, team, agent)

	var (
		s         SessionState
		updatedAt string
	)
	err := row.Scan(&s.Team, &s.Agent, &s.SessionID, &s.Generation,
		&s.InputTokens, &s.OutputTokens, &s.CacheReadTokens, &s.CacheWriteTokens,
		&s.Cost, &s.Turns, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &s, nil
}

// DeleteSessionState removes the snapshot for an agent.
func (db *DB) DeleteSessionState(team, agent string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE team = ? AND agent = ?`, team, agent)
	if err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}

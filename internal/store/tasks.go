package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/denyherianto/delegate/pkg/models"
)

// ErrTaskNotFound indicates no task matched the given team and id.
var ErrTaskNotFound = errors.New("task not found")

// TaskFilter narrows ListTasks results. Zero values mean no filtering.
type TaskFilter struct {
	// Status restricts results to a single workflow state.
	Status models.TaskStatus
	// Statuses restricts results to any of the given states.
	Statuses []models.TaskStatus
	// DRI restricts results to tasks owned by the given agent.
	DRI string
	// Limit bounds the number of rows returned; 0 means no limit.
	Limit int
}

// TaskUpdate carries a partial task update. Unset fields leave the stored
// value untouched; per-repo maps merge key-by-key.
type TaskUpdate struct {
	Title           models.Optional[string]
	Description     models.Optional[string]
	DRI             models.Optional[string]
	Branches        map[string]string
	BaseSHAs        map[string]string
	MergeTips       map[string]string
	MergeAttempts   models.Optional[int]
	RetryAfter      models.Optional[time.Time]
	RejectionReason models.Optional[string]
}

// CreateTask allocates an id and inserts a task with status unassigned.
func (db *DB) CreateTask(team, title, description string) (*models.Task, error) {
	now := time.Now()
	res, err := db.Exec(`
		INSERT INTO tasks (team, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, team, title, description, string(models.TaskStatusUnassigned), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}

	return db.GetTask(team, id)
}

// GetTask returns the task with the given id in the given team.
func (db *DB) GetTask(team string, id int64) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, team, title, description, dri, status, branches, base_shas,
		       merge_tips, merge_attempts, retry_after, rejection_reason,
		       created_at, updated_at
		FROM tasks WHERE team = ? AND id = ?
	`, team, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// ListTasks returns the team's tasks matching the filter, oldest first.
func (db *DB) ListTasks(team string, filter TaskFilter) ([]*models.Task, error) {
	query := `
		SELECT id, team, title, description, dri, status, branches, base_shas,
		       merge_tips, merge_attempts, retry_after, rejection_reason,
		       created_at, updated_at
		FROM tasks WHERE team = ?`
	args := []any{team}

	statuses := filter.Statuses
	if filter.Status != "" {
		statuses = append(statuses, filter.Status)
	}
	if len(statuses) > 0 {
		query += " AND status IN ("
		for i, s := range statuses {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, string(s))
		}
		query += ")"
	}
	if filter.DRI != "" {
		query += " AND dri = ?"
		args = append(args, filter.DRI)
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask merges the provided fields into the stored task.
// Per-repo maps merge key-by-key rather than replacing wholesale.
func (db *DB) UpdateTask(team string, id int64, update TaskUpdate) (*models.Task, error) {
	task, err := db.GetTask(team, id)
	if err != nil {
		return nil, err
	}

	if v, ok := update.Title.Get(); ok {
		task.Title = v
	}
	if v, ok := update.Description.Get(); ok {
		task.Description = v
	}
	if v, ok := update.DRI.Get(); ok {
		task.DRI = v
	} else if update.DRI.IsNull() {
		task.DRI = ""
	}
	task.Branches = mergeRepoMap(task.Branches, update.Branches)
	task.BaseSHAs = mergeRepoMap(task.BaseSHAs, update.BaseSHAs)
	task.MergeTips = mergeRepoMap(task.MergeTips, update.MergeTips)
	if v, ok := update.MergeAttempts.Get(); ok {
		if v < task.MergeAttempts {
			return nil, fmt.Errorf("merge_attempts may not decrease (%d -> %d)", task.MergeAttempts, v)
		}
		task.MergeAttempts = v
	}
	if v, ok := update.RetryAfter.Get(); ok {
		task.RetryAfter = &v
	} else if update.RetryAfter.IsNull() {
		task.RetryAfter = nil
	}
	if v, ok := update.RejectionReason.Get(); ok {
		task.RejectionReason = v
	} else if update.RejectionReason.IsNull() {
		task.RejectionReason = ""
	}
	task.UpdatedAt = time.Now()

	if err := db.writeTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// SetTaskStatus writes a new status without transition validation.
// Callers go through the workflow engine, which owns the transition table.
func (db *DB) SetTaskStatus(team string, id int64, status models.TaskStatus) error {
	res, err := db.Exec(`
		UPDATE tasks SET status = ?, updated_at = ? WHERE team = ? AND id = ?
	`, string(status), formatTime(time.Now()), team, id)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// writeTask persists all mutable task fields.
func (db *DB) writeTask(task *models.Task) error {
	branches, err := json.Marshal(orEmpty(task.Branches))
	if err != nil {
		return fmt.Errorf("marshal branches: %w", err)
	}
	baseSHAs, err := json.Marshal(orEmpty(task.BaseSHAs))
	if err != nil {
		return fmt.Errorf("marshal base_shas: %w", err)
	}
	mergeTips, err := json.Marshal(orEmpty(task.MergeTips))
	if err != nil {
		return fmt.Errorf("marshal merge_tips: %w", err)
	}

	var retryAfter any
	if task.RetryAfter != nil {
		retryAfter = formatTime(*task.RetryAfter)
	}

	res, err := db.Exec(`
		UPDATE tasks SET title = ?, description = ?, dri = ?, branches = ?,
		       base_shas = ?, merge_tips = ?, merge_attempts = ?, retry_after = ?,
		       rejection_reason = ?, updated_at = ?
		WHERE team = ? AND id = ?
	`, task.Title, task.Description, task.DRI, string(branches), string(baseSHAs),
		string(mergeTips), task.MergeAttempts, retryAfter, task.RejectionReason,
		formatTime(task.UpdatedAt), task.Team, task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		task       models.Task
		status     string
		branches   string
		baseSHAs   string
		mergeTips  string
		retryAfter sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(&task.ID, &task.Team, &task.Title, &task.Description,
		&task.DRI, &status, &branches, &baseSHAs, &mergeTips,
		&task.MergeAttempts, &retryAfter, &task.RejectionReason,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(branches), &task.Branches); err != nil {
		return nil, fmt.Errorf("unmarshal branches: %w", err)
	}
	if err := json.Unmarshal([]byte(baseSHAs), &task.BaseSHAs); err != nil {
		return nil, fmt.Errorf("unmarshal base_shas: %w", err)
	}
	if err := json.Unmarshal([]byte(mergeTips), &task.MergeTips); err != nil {
		return nil, fmt.Errorf("unmarshal merge_tips: %w", err)
	}
	task.RetryAfter = parseNullableTime(retryAfter)
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &task, nil
}

func mergeRepoMap(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"torrent-bot/internal/domain"
	"torrent-bot/internal/repository"
)

const createActiveTasksTable = `
CREATE TABLE IF NOT EXISTS active_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	requester TEXT NOT NULL DEFAULT '',
	descriptor TEXT NOT NULL,
	started_at DATETIME NOT NULL
);
`

// TaskJournal stores active downloads keyed by infohash.
type TaskJournal struct {
	db *sql.DB
}

func NewTaskJournal(db *sql.DB) repository.TaskJournal {
	return &TaskJournal{db: db}
}

func (j *TaskJournal) Init(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, createActiveTasksTable); err != nil {
		return fmt.Errorf("create active_tasks table: %w", err)
	}
	return nil
}

// Save inserts the task, or refreshes its name if the id is already
// journaled (metadata resolved after the initial insert).
func (j *TaskJournal) Save(ctx context.Context, task domain.Task) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO active_tasks (id, name, requester, descriptor, started_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		task.ID,
		task.Name,
		task.Requester,
		task.Descriptor,
		task.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (j *TaskJournal) Delete(ctx context.Context, id string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM active_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (j *TaskJournal) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, name, requester, descriptor, started_at
FROM active_tasks
ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Name, &t.Requester, &t.Descriptor, &t.StartedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

var _ repository.TaskJournal = (*TaskJournal)(nil)

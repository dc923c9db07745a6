package repository

import (
	"context"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/memory"
)

// PostgresTaskRepository implements TaskRepository on postgres.
type PostgresTaskRepository struct {
	db *db.PostgresDB
}

// NewPostgresTaskRepository creates a task repository.
func NewPostgresTaskRepository(pg *db.PostgresDB) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: pg}
}

// Insert persists a task.
func (r *PostgresTaskRepository) Insert(ctx context.Context, t *memory.Task) error {
	err := r.db.Exec(ctx, `
INSERT INTO tasks (task_id, tenant_id, title, details, status, project_id, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.TaskID, t.TenantID, t.Title, t.Details, string(t.Status), t.ProjectID, t.TS)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperr.ConflictError{Attribute: "task_id", Message: "task already exists"}
		}
		return apperr.Storage("insert task", err)
	}
	return nil
}

// OpenTasks returns tasks in open or doing state, newest first.
func (r *PostgresTaskRepository) OpenTasks(ctx context.Context, tenantID string) ([]*memory.Task, error) {
	return r.query(ctx, `
SELECT task_id, tenant_id, title, details, status, project_id, ts
FROM tasks
WHERE tenant_id = $1 AND status IN ('open', 'doing')
ORDER BY ts DESC`,
		tenantID)
}

// ProjectTasks returns open and doing tasks for one project, newest first.
func (r *PostgresTaskRepository) ProjectTasks(ctx context.Context, tenantID, projectID string) ([]*memory.Task, error) {
	return r.query(ctx, `
SELECT task_id, tenant_id, title, details, status, project_id, ts
FROM tasks
WHERE tenant_id = $1 AND project_id = $2 AND status IN ('open', 'doing')
ORDER BY ts DESC`,
		tenantID, projectID)
}

func (r *PostgresTaskRepository) query(ctx context.Context, sql string, args ...interface{}) ([]*memory.Task, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Storage("query tasks", err)
	}
	defer rows.Close()

	var out []*memory.Task
	for rows.Next() {
		var t memory.Task
		var status string
		if err := rows.Scan(&t.TaskID, &t.TenantID, &t.Title, &t.Details, &status, &t.ProjectID, &t.TS); err != nil {
			return nil, apperr.Storage("scan task", err)
		}
		t.Status = memory.TaskStatus(status)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("query tasks", err)
	}
	return out, nil
}

// UpdateStatus transitions a task's lifecycle state.
func (r *PostgresTaskRepository) UpdateStatus(ctx context.Context, tenantID, taskID string, status memory.TaskStatus) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE tasks SET status = $3 WHERE tenant_id = $1 AND task_id = $2`,
		tenantID, taskID, string(status))
	if err != nil {
		return apperr.Storage("update task status", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "task", ID: taskID}
	}
	return nil
}

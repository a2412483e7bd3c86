package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/internal/tracker"
)

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Journal persists the action log to PostgreSQL: one upserted row per
// task plus one append-only row per journal entry. It is a tracker
// sink, so writes happen off the mutation path and a database outage
// degrades to lost audit rows, never lost tracking.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal wraps a pool as a journal sink.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Name() string { return "postgres" }

// Append writes the task snapshot and the event row in one transaction.
func (j *Journal) Append(ctx context.Context, entry tracker.JournalEntry) error {
	task := entry.Task
	args, err := json.Marshal(task.Args)
	if err != nil {
		return fmt.Errorf("marshal args for task %s: %w", task.ID, err)
	}
	progress, err := json.Marshal(task.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress for task %s: %w", task.ID, err)
	}
	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("marshal result for task %s: %w", task.ID, err)
		}
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks
			(id, title, description, type, status, priority, tool_name, args,
			 progress, result, session_id, message_id, parent_task_id,
			 created_at, updated_at, started_at, completed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`,
		task.ID, task.Title, task.Description, string(task.Type), string(task.Status),
		string(task.Priority), task.ToolName, args,
		progress, result, task.SessionID, task.MessageID, task.ParentTaskID,
		task.CreatedAt, task.UpdatedAt, task.StartedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO task_events
			(seq, task_id, from_status, to_status, event_trigger, reason, at)
		VALUES
			($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (seq) DO NOTHING
	`,
		entry.Seq, entry.TaskID, string(entry.From), string(entry.To),
		string(entry.Trigger), entry.Reason, entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert event %d for task %s: %w", entry.Seq, entry.TaskID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

// History returns the persisted event rows for one task, oldest first.
func (j *Journal) History(ctx context.Context, taskID string) ([]tracker.JournalEntry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT seq, task_id, COALESCE(from_status, ''), to_status, event_trigger, reason, at
		FROM task_events
		WHERE task_id = $1
		ORDER BY seq
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query history for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var entries []tracker.JournalEntry
	for rows.Next() {
		var e tracker.JournalEntry
		var from, to, trigger string
		if err := rows.Scan(&e.Seq, &e.TaskID, &from, &to, &trigger, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.From = domain.Status(from)
		e.To = domain.Status(to)
		e.Trigger = domain.Trigger(trigger)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetTask returns the persisted snapshot for one task.
func (j *Journal) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := j.pool.QueryRow(ctx, `
		SELECT id, title, description, type, status, priority, tool_name,
		       args, progress, result, session_id, message_id,
		       COALESCE(parent_task_id, ''), created_at, updated_at, started_at, completed_at
		FROM tasks
		WHERE id = $1
	`, taskID)

	var (
		task                   domain.Task
		typ, status, priority  string
		args, progress, result []byte
	)
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &typ, &status, &priority, &task.ToolName,
		&args, &progress, &result, &task.SessionID, &task.MessageID,
		&task.ParentTaskID, &task.CreatedAt, &task.UpdatedAt, &task.StartedAt, &task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("scan task %s: %w", taskID, err)
	}
	task.Type = domain.TaskType(typ)
	task.Status = domain.Status(status)
	task.Priority = domain.Priority(priority)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &task.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args for task %s: %w", taskID, err)
		}
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &task.Progress); err != nil {
			return nil, fmt.Errorf("unmarshal progress for task %s: %w", taskID, err)
		}
	}
	if len(result) > 0 {
		task.Result = &domain.Result{}
		if err := json.Unmarshal(result, task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result for task %s: %w", taskID, err)
		}
	}
	return &task, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"go-taskapi/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no task matches the requested id.
var ErrNotFound = errors.New("task not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS task_events (
	id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	task_id     BIGINT NOT NULL,
	action      TEXT NOT NULL,
	actor       TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS task_events_task_id_idx ON task_events (task_id);`

const taskColumns = `id, name, status, created_at, updated_at`

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// withConn runs fn on a connection held for the duration of the call.
func (p *Postgres) withConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}

// withTx runs fn in a transaction that is committed before withTx returns.
func (p *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return p.withConn(ctx, func(conn *pgxpool.Conn) error {
		return pgx.BeginFunc(ctx, conn, fn)
	})
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (p *Postgres) ListTasks(ctx context.Context) ([]model.Task, error) {
	tasks := []model.Task{}
	err := p.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (p *Postgres) GetTask(ctx context.Context, id int64) (model.Task, error) {
	var task model.Task
	err := p.withConn(ctx, func(conn *pgxpool.Conn) error {
		var err error
		task, err = scanTask(conn.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
		return err
	})
	return task, wrap("get task", err)
}

func (p *Postgres) CreateTask(ctx context.Context, name string) (model.Task, error) {
	var task model.Task
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		task, err = scanTask(tx.QueryRow(ctx, `
			INSERT INTO tasks (name, status, created_at, updated_at)
			VALUES ($1, $2, now(), now())
			RETURNING `+taskColumns, name, model.DefaultStatus))
		return err
	})
	return task, wrap("create task", err)
}

func (p *Postgres) UpdateTask(ctx context.Context, id int64, name, status string) (model.Task, error) {
	var task model.Task
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		task, err = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks
			SET name = $1, status = $2, updated_at = GREATEST(now(), created_at)
			WHERE id = $3
			RETURNING `+taskColumns, name, status, id))
		return err
	})
	return task, wrap("update task", err)
}

func (p *Postgres) DeleteTask(ctx context.Context, id int64) (model.Task, error) {
	var task model.Task
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		task, err = scanTask(tx.QueryRow(ctx,
			`DELETE FROM tasks WHERE id = $1 RETURNING `+taskColumns, id))
		return err
	})
	return task, wrap("delete task", err)
}

func (p *Postgres) AppendEvent(ctx context.Context, ev model.TaskEvent) error {
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO task_events (task_id, action, actor, occurred_at)
			VALUES ($1, $2, $3, $4)`, ev.TaskID, ev.Action, ev.Actor, ev.OccurredAt)
		return err
	})
	return wrap("append event", err)
}

func (p *Postgres) ListEvents(ctx context.Context, taskID int64) ([]model.TaskEvent, error) {
	events := []model.TaskEvent{}
	err := p.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, task_id, action, actor, occurred_at
			FROM task_events WHERE task_id = $1 ORDER BY id`, taskID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ev model.TaskEvent
			if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Action, &ev.Actor, &ev.OccurredAt); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// wrap leaves ErrNotFound untouched so callers can match it directly.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

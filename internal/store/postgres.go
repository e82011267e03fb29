package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/screentask/screentask/internal/models"
	"go.uber.org/zap"
)

const (
	taskChannel  = "screentask_task_changes"
	spaceChannel = "screentask_space_changes"

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Postgres implements Store on PostgreSQL. Documents are stored as JSONB so
// the serialized form matches the in-memory model exactly: optional fields
// absent in memory are absent in the row, which is how the "never write null
// for unset" contract is honored. Change notification rides on
// LISTEN/NOTIFY with the owning user id as payload.
type Postgres struct {
	db     *sql.DB
	url    string
	logger *zap.Logger
}

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(databaseURL string, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{db: db, url: databaseURL, logger: logger}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the database connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			space_id TEXT NOT NULL DEFAULT '',
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_space ON tasks (user_id, space_id)`,
		`CREATE TABLE IF NOT EXISTS spaces (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spaces_user ON spaces (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// UpsertTask writes a task document with full-replace semantics.
func (p *Postgres) UpsertTask(ctx context.Context, task models.Task) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	query := `
		INSERT INTO tasks (id, user_id, space_id, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET space_id = EXCLUDED.space_id, doc = EXCLUDED.doc
	`
	if _, err := p.db.ExecContext(ctx, query, task.ID, task.UserID, task.SpaceID, doc); err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return p.notify(ctx, taskChannel, task.UserID)
}

// DeleteTask removes a task document. Deleting an absent document succeeds.
func (p *Postgres) DeleteTask(ctx context.Context, userID, taskID string) error {
	query := `DELETE FROM tasks WHERE id = $1 AND user_id = $2`
	if _, err := p.db.ExecContext(ctx, query, taskID, userID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return p.notify(ctx, taskChannel, userID)
}

// QueryTasks is a one-shot partition read. An empty SpaceID matches every
// task the user owns, which is how pre-space documents are found.
func (p *Postgres) QueryTasks(ctx context.Context, part models.Partition) ([]models.Task, error) {
	query := `SELECT user_id, doc FROM tasks WHERE user_id = $1`
	args := []any{part.UserID}
	if part.SpaceID != "" {
		query += ` AND space_id = $2`
		args = append(args, part.SpaceID)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var userID string
		var doc []byte
		if err := rows.Scan(&userID, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		var task models.Task
		if err := json.Unmarshal(doc, &task); err != nil {
			return nil, fmt.Errorf("failed to decode task document: %w", err)
		}
		task.UserID = userID
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpsertSpace writes a space document.
func (p *Postgres) UpsertSpace(ctx context.Context, space models.Space) error {
	doc, err := json.Marshal(space)
	if err != nil {
		return fmt.Errorf("failed to marshal space: %w", err)
	}

	query := `
		INSERT INTO spaces (id, user_id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`
	if _, err := p.db.ExecContext(ctx, query, space.ID, space.UserID, doc); err != nil {
		return fmt.Errorf("failed to upsert space: %w", err)
	}
	return p.notify(ctx, spaceChannel, space.UserID)
}

// QuerySpaces is a one-shot read of a user's spaces.
func (p *Postgres) QuerySpaces(ctx context.Context, userID string) ([]models.Space, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM spaces WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spaces: %w", err)
	}
	defer rows.Close()

	var spaces []models.Space
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan space: %w", err)
		}
		var space models.Space
		if err := json.Unmarshal(doc, &space); err != nil {
			return nil, fmt.Errorf("failed to decode space document: %w", err)
		}
		space.UserID = userID
		spaces = append(spaces, space)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spaces: %w", err)
	}
	return spaces, nil
}

// Batch commits a list of operations for one user in a single transaction.
func (p *Postgres) Batch(ctx context.Context, userID string, ops []Op) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, op := range ops {
		switch {
		case op.UpsertTask != nil:
			doc, err := json.Marshal(op.UpsertTask)
			if err != nil {
				return fmt.Errorf("failed to marshal task: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tasks (id, user_id, space_id, doc)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET space_id = EXCLUDED.space_id, doc = EXCLUDED.doc
			`, op.UpsertTask.ID, userID, op.UpsertTask.SpaceID, doc)
			if err != nil {
				return fmt.Errorf("failed to batch-upsert task: %w", err)
			}
		case op.UpsertSpace != nil:
			doc, err := json.Marshal(op.UpsertSpace)
			if err != nil {
				return fmt.Errorf("failed to marshal space: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO spaces (id, user_id, doc)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
			`, op.UpsertSpace.ID, userID, doc)
			if err != nil {
				return fmt.Errorf("failed to batch-upsert space: %w", err)
			}
		case op.DeleteTaskID != "":
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, op.DeleteTaskID, userID); err != nil {
				return fmt.Errorf("failed to batch-delete task: %w", err)
			}
		case op.DeleteSpaceID != "":
			if _, err := tx.ExecContext(ctx, `DELETE FROM spaces WHERE id = $1 AND user_id = $2`, op.DeleteSpaceID, userID); err != nil {
				return fmt.Errorf("failed to batch-delete space: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	if err := p.notify(ctx, taskChannel, userID); err != nil {
		return err
	}
	return p.notify(ctx, spaceChannel, userID)
}

// ListUserIDs returns every user id that owns at least one document.
func (p *Postgres) ListUserIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM tasks UNION SELECT DISTINCT user_id FROM spaces`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (p *Postgres) notify(ctx context.Context, channel, userID string) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, userID); err != nil {
		return fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return nil
}

// SubscribeTasks opens a LISTEN-backed subscription for one partition. Every
// relevant notification triggers a re-query so subscribers always receive a
// full, current snapshot.
func (p *Postgres) SubscribeTasks(ctx context.Context, part models.Partition) (*TaskSubscription, error) {
	snapshots := make(chan []models.Task, 1)
	errs := make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)

	listener, err := p.openListener(taskChannel, errs)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer close(snapshots)
		defer func() {
			if err := listener.Close(); err != nil {
				p.logger.Warn("failed_to_close_task_listener", zap.Error(err))
			}
		}()

		emit := func() {
			tasks, err := p.QueryTasks(subCtx, part)
			if err != nil {
				if subCtx.Err() == nil {
					sendErr(errs, err)
				}
				return
			}
			sendLatestTasks(snapshots, tasks)
		}
		emit()

		ping := time.NewTicker(listenerPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case n := <-listener.Notify:
				// A nil notification signals a reconnect; the
				// snapshot may have changed while we were away.
				if n == nil || n.Extra == part.UserID {
					emit()
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					sendErr(errs, fmt.Errorf("task listener ping failed: %w", err))
				}
			}
		}
	}()

	return &TaskSubscription{Snapshots: snapshots, Errs: errs, cancel: cancel}, nil
}

// SubscribeSpaces opens a LISTEN-backed subscription for a user's spaces.
func (p *Postgres) SubscribeSpaces(ctx context.Context, userID string) (*SpaceSubscription, error) {
	snapshots := make(chan []models.Space, 1)
	errs := make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)

	listener, err := p.openListener(spaceChannel, errs)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer close(snapshots)
		defer func() {
			if err := listener.Close(); err != nil {
				p.logger.Warn("failed_to_close_space_listener", zap.Error(err))
			}
		}()

		emit := func() {
			spaces, err := p.QuerySpaces(subCtx, userID)
			if err != nil {
				if subCtx.Err() == nil {
					sendErr(errs, err)
				}
				return
			}
			sendLatestSpaces(snapshots, spaces)
		}
		emit()

		ping := time.NewTicker(listenerPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case n := <-listener.Notify:
				if n == nil || n.Extra == userID {
					emit()
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					sendErr(errs, fmt.Errorf("space listener ping failed: %w", err))
				}
			}
		}
	}()

	return &SpaceSubscription{Snapshots: snapshots, Errs: errs, cancel: cancel}, nil
}

func (p *Postgres) openListener(channel string, errs chan error) (*pq.Listener, error) {
	listener := pq.NewListener(p.url, listenerMinReconnect, listenerMaxReconnect,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				sendErr(errs, fmt.Errorf("listener event %d: %w", event, err))
			}
		})
	if err := listener.Listen(channel); err != nil {
		if closeErr := listener.Close(); closeErr != nil {
			p.logger.Warn("failed_to_close_listener", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return listener, nil
}

// sendLatestTasks delivers a snapshot without ever blocking: if the consumer
// has not taken the previous one, it is replaced. The channel has capacity 1
// and a single producer, so the drain cannot race another send.
func sendLatestTasks(ch chan []models.Task, snap []models.Task) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func sendLatestSpaces(ch chan []models.Space, snap []models.Space) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func sendErr(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

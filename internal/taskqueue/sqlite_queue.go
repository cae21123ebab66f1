package taskqueue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"time"
)

// SQLiteQueue is a persistent task queue backed by SQLite, giving queued
// side effects at-least-once delivery across process restarts. It uses
// simple FIFO semantics based on (not_before, rowid).
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			activity TEXT NOT NULL,
			args BLOB,
			idempotency_key TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			attempts INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	args, err := encodeArgs(t.Args)
	if err != nil {
		return err
	}

	now := time.Now()
	enqueuedAt := now.UnixNano()

	var notBefore int64
	if t.NotBefore.IsZero() {
		notBefore = enqueuedAt
	} else {
		notBefore = t.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO activity_tasks (task_id, instance_id, seq, activity, args, idempotency_key, enqueued_at, not_before, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.InstanceID,
		t.Sequence,
		t.Activity,
		args,
		t.IdempotencyKey,
		enqueuedAt,
		notBefore,
		t.Attempts,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		now := time.Now().UnixNano()

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var (
			id          int64
			taskID      string
			instanceID  string
			seq         int64
			activityStr string
			args        []byte
			idemKey     string
			enqueuedInt int64
			notBefore   int64
			attempts    int
		)

		row := tx.QueryRowContext(ctx, `
			SELECT id, task_id, instance_id, seq, activity, args, idempotency_key, enqueued_at, not_before, attempts
			FROM activity_tasks
			WHERE not_before <= ?
			ORDER BY not_before, id
			LIMIT 1`, now)
		err = row.Scan(&id, &taskID, &instanceID, &seq, &activityStr, &args, &idemKey, &enqueuedInt, &notBefore, &attempts)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				_ = tx.Rollback()
				// Nothing available: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			_ = tx.Rollback()
			return nil, err
		}

		// Delete the row we just claimed.
		if _, err := tx.ExecContext(ctx, `DELETE FROM activity_tasks WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}

		decoded, err := decodeArgs(args)
		if err != nil {
			return nil, err
		}

		return &Task{
			ID:             taskID,
			InstanceID:     instanceID,
			Sequence:       seq,
			Activity:       activityStr,
			Args:           decoded,
			IdempotencyKey: idemKey,
			EnqueuedAt:     time.Unix(0, enqueuedInt),
			NotBefore:      time.Unix(0, notBefore),
			Attempts:       attempts,
		}, nil
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM activity_tasks`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

// encodeArgs serializes activity arguments using encoding/gob.
func encodeArgs(args map[string]any) ([]byte, error) {
	if args == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeArgs deserializes gob-encoded activity arguments.
func decodeArgs(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var args map[string]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

package persistence

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// SQLiteHistoryStore is a HistoryStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteHistoryStore struct {
	db *sql.DB
}

// Ensure SQLiteHistoryStore implements HistoryStore.
var _ HistoryStore = (*SQLiteHistoryStore)(nil)

// NewSQLiteHistoryStore initializes the required schema in the given
// database and returns a new SQLiteHistoryStore.
func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	s := &SQLiteHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			signal TEXT NOT NULL DEFAULT '',
			activity TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			payload BLOB,
			resulting_version INTEGER NOT NULL,
			at INTEGER NOT NULL,
			PRIMARY KEY (instance_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_history_instance ON history(instance_id, seq);
	`)
	return err
}

func (s *SQLiteHistoryStore) AppendEntry(ctx context.Context, entry api.HistoryEntry) error {
	payload, err := EncodePayload(entry.Payload)
	if err != nil {
		return err
	}

	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (instance_id, seq, kind, signal, activity, actor, payload, resulting_version, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.InstanceID,
		entry.Sequence,
		string(entry.Kind),
		entry.Signal,
		entry.Activity,
		entry.Actor,
		payload,
		entry.ResultingVersion,
		at.UnixNano(),
	)
	if err != nil && isUniqueViolation(err) {
		return ErrSequenceConflict
	}
	return err
}

func (s *SQLiteHistoryStore) ListEntries(ctx context.Context, instanceID string) ([]api.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, seq, kind, signal, activity, actor, payload, resulting_version, at
		FROM history
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEntry
	for rows.Next() {
		var (
			entry   api.HistoryEntry
			kind    string
			payload []byte
			atN     int64
		)
		if err := rows.Scan(
			&entry.InstanceID,
			&entry.Sequence,
			&kind,
			&entry.Signal,
			&entry.Activity,
			&entry.Actor,
			&payload,
			&entry.ResultingVersion,
			&atN,
		); err != nil {
			return nil, err
		}
		entry.Kind = api.HistoryKind(kind)
		entry.At = time.Unix(0, atN)

		decoded, err := DecodePayload(payload)
		if err != nil {
			return nil, err
		}
		entry.Payload = decoded

		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrInstanceNotFound
	}
	return out, nil
}

func (s *SQLiteHistoryStore) ListInstanceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT instance_id FROM history ORDER BY instance_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint failures as generic errors;
	// match on the SQLite message text.
	return strings.Contains(err.Error(), "constraint failed")
}

// Package archive keeps a copy of workflow events beyond stream retention.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/model"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteArchive stores workflow events in SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// Open opens, and if necessary creates, an archive database.
// Use ":memory:" for a private in-memory archive.
func Open(path string) (*SQLiteArchive, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	a, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// New initializes the schema in db and returns an archive over it.
func New(db *sql.DB) (*SQLiteArchive, error) {
	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_events (
			workflow_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			resource_id TEXT NOT NULL,
			resource_version INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			at INTEGER NOT NULL,
			body BLOB NOT NULL,
			PRIMARY KEY (workflow_id, sequence)
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_events_resource ON workflow_events(workflow_id, resource_id, resource_version);
	`)
	return err
}

// Append stores an event.  Storing the same stream sequence twice is a no-op.
func (a *SQLiteArchive) Append(ctx context.Context, ev *model.Event) error {
	body, err := codec.JSON.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode archived event: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO workflow_events (workflow_id, sequence, resource_id, resource_version, event_type, subject, at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.WorkflowID,
		int64(ev.NatsSequence), //nolint:gosec
		ev.TokenID,
		int64(ev.ResourceVersion), //nolint:gosec
		string(ev.EventType),
		ev.NatsSubject,
		ev.NatsTimestamp.UnixNano(),
		body,
	)
	if err != nil {
		return fmt.Errorf("archive event: %w", err)
	}
	return nil
}

// Events returns the archived events of a resource with a version below beforeVersion, oldest first.
// A zero beforeVersion returns every archived event.
func (a *SQLiteArchive) Events(ctx context.Context, workflowID string, resourceID string, beforeVersion uint64) ([]*model.Event, error) {
	q := `
		SELECT sequence, subject, at, body
		FROM workflow_events
		WHERE workflow_id = ? AND resource_id = ?`
	args := []any{workflowID, resourceID}
	if beforeVersion > 0 {
		q += " AND resource_version < ?"
		args = append(args, int64(beforeVersion)) //nolint:gosec
	}
	q += " ORDER BY sequence ASC"
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Event, 0)
	for rows.Next() {
		var (
			seq     int64
			subject string
			atN     int64
			body    []byte
		)
		if err := rows.Scan(&seq, &subject, &atN, &body); err != nil {
			return nil, fmt.Errorf("scan archived event: %w", err)
		}
		ev := &model.Event{}
		if err := codec.JSON.Unmarshal(body, ev); err != nil {
			return nil, fmt.Errorf("decode archived event: %w", err)
		}
		ev.NatsSequence = uint64(seq) //nolint:gosec
		ev.NatsSubject = subject
		ev.NatsTimestamp = time.Unix(0, atN)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// Package sqlite provides a Store and CursorStore backed by a single
// SQLite database, using the pure-Go driver. Appends run in a transaction
// with synchronous=FULL, so an acknowledged append survives a crash and a
// failed one leaves nothing behind. Cursors stored here make at-least-once
// subscribers resume correctly across process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streamhaus/eventlog"

	_ "modernc.org/sqlite"
)

var _ eventlog.Store = (*Store)(nil)
var _ eventlog.CursorStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq          INTEGER PRIMARY KEY,
	event_id     TEXT    NOT NULL,
	aggregate_id TEXT    NOT NULL,
	event_type   TEXT    NOT NULL,
	payload      BLOB,
	metadata     TEXT,
	occurred_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events(aggregate_id, seq);

CREATE TABLE IF NOT EXISTS cursors (
	subscriber_id TEXT    PRIMARY KEY,
	seq           INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a SQLite-backed event log plus cursor store.
type Store struct {
	db *sql.DB

	// appendMu serializes sequence assignment; SQLite would also reject
	// concurrent writers, but a single in-process writer avoids busy
	// retries on the hot path.
	appendMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Append assigns sequence numbers and inserts all envelopes in one
// transaction. Commit is the durability point: either every envelope is
// visible with its final sequence, or none is.
func (s *Store) Append(ctx context.Context, envelopes ...*eventlog.Envelope) (uint64, error) {
	if s.isClosed() {
		return 0, eventlog.ErrClosed
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: begin append: %w", err))
	}
	defer tx.Rollback()

	var latest uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&latest); err != nil {
		return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: read high-water mark: %w", err))
	}

	seq := latest
	for _, env := range envelopes {
		seq++

		var metadata any
		if len(env.Metadata) > 0 {
			encoded, err := json.Marshal(env.Metadata)
			if err != nil {
				return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: encode metadata for seq %d: %w", seq, err))
			}
			metadata = string(encoded)
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (seq, event_id, aggregate_id, event_type, payload, metadata, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seq, env.EventID.String(), env.AggregateID, env.Type, env.Payload, metadata, toMillis(env.OccurredAt))
		if err != nil {
			return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: insert seq %d: %w", seq, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: commit append: %w", err))
	}

	for i, env := range envelopes {
		env.Sequence = latest + uint64(i) + 1
	}
	return seq, nil
}

func (s *Store) ReadFrom(ctx context.Context, from uint64, limit int) ([]*eventlog.Envelope, error) {
	if s.isClosed() {
		return nil, eventlog.ErrClosed
	}
	if from < 1 {
		from = 1
	}

	query := `SELECT seq, event_id, aggregate_id, event_type, payload, metadata, occurred_at
	          FROM events WHERE seq >= ? ORDER BY seq ASC`
	args := []any{from}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: read from %d: %w", from, err))
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

func (s *Store) ReadForAggregate(ctx context.Context, aggregateID string) (*eventlog.Iterator[*eventlog.Envelope], error) {
	if s.isClosed() {
		return nil, eventlog.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_id, aggregate_id, event_type, payload, metadata, occurred_at
		 FROM events WHERE aggregate_id = ? ORDER BY seq ASC`, aggregateID)
	if err != nil {
		return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: read aggregate %q: %w", aggregateID, err))
	}

	events, err := scanEnvelopes(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	return eventlog.NewSliceIterator(events), nil
}

func (s *Store) LatestSequence(ctx context.Context) (uint64, error) {
	if s.isClosed() {
		return 0, eventlog.ErrClosed
	}

	var latest uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&latest)
	if err != nil {
		return 0, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: read high-water mark: %w", err))
	}
	return latest, nil
}

// LoadCursor implements eventlog.CursorStore.
func (s *Store) LoadCursor(ctx context.Context, subscriberID string) (uint64, bool, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM cursors WHERE subscriber_id = ?`, subscriberID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: load cursor %q: %w", subscriberID, err)
	}
	return seq, true, nil
}

// SaveCursor implements eventlog.CursorStore.
func (s *Store) SaveCursor(ctx context.Context, subscriberID string, sequence uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (subscriber_id, seq, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(subscriber_id) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at`,
		subscriberID, sequence, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("sqlite: save cursor %q: %w", subscriberID, err)
	}
	return nil
}

// DeleteCursor implements eventlog.CursorStore.
func (s *Store) DeleteCursor(ctx context.Context, subscriberID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cursors WHERE subscriber_id = ?`, subscriberID)
	if err != nil {
		return fmt.Errorf("sqlite: delete cursor %q: %w", subscriberID, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEnvelopes(rows *sql.Rows) ([]*eventlog.Envelope, error) {
	var out []*eventlog.Envelope
	for rows.Next() {
		var (
			env        eventlog.Envelope
			eventID    string
			metadata   sql.NullString
			occurredAt int64
		)
		if err := rows.Scan(&env.Sequence, &eventID, &env.AggregateID, &env.Type, &env.Payload, &metadata, &occurredAt); err != nil {
			return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: scan event: %w", err))
		}

		parsed, err := uuid.Parse(eventID)
		if err != nil {
			return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: parse event id %q: %w", eventID, err))
		}
		env.EventID = parsed
		env.OccurredAt = fromMillis(occurredAt)

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &env.Metadata); err != nil {
				return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: decode metadata for seq %d: %w", env.Sequence, err))
			}
		}
		out = append(out, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, eventlog.WrapStoreUnavailable(fmt.Errorf("sqlite: iterate events: %w", err))
	}
	return out, nil
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the event journal, the resume cursor and the intent
// audit trail across gateway restarts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            height INTEGER NOT NULL,
            tx_hash TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS event_cursors (
            name TEXT PRIMARY KEY,
            value INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS intents (
            ref TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            dispute_id INTEGER NOT NULL,
            actor TEXT NOT NULL,
            status TEXT NOT NULL,
            tx_hash TEXT,
            detail TEXT,
            submitted_at TIMESTAMP NOT NULL,
            settled_at TIMESTAMP
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoredEvent is an event row in the journal.
type StoredEvent struct {
	Sequence  int64
	Type      string
	Height    uint64
	TxHash    string
	Payload   map[string]string
	CreatedAt time.Time
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, evt StoredEvent) error {
	const stmt = `INSERT OR REPLACE INTO events(sequence, type, height, tx_hash, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	payloadJSON, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, stmt, evt.Sequence, evt.Type, evt.Height, evt.TxHash, string(payloadJSON), evt.CreatedAt)
	return err
}

// LastEventSequence returns the resume cursor, zero when never set.
func (s *SQLiteStore) LastEventSequence(ctx context.Context) (int64, error) {
	const query = `SELECT value FROM event_cursors WHERE name = 'events'`
	row := s.db.QueryRowContext(ctx, query)
	var value int64
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

func (s *SQLiteStore) UpdateEventSequence(ctx context.Context, sequence int64) error {
	const stmt = `INSERT INTO event_cursors(name, value) VALUES('events', ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	_, err := s.db.ExecContext(ctx, stmt, sequence)
	return err
}

// Intent settlement states recorded in the audit trail.
const (
	intentStatusSubmitted = "submitted"
	intentStatusConfirmed = "confirmed"
	intentStatusFailed    = "failed"
)

// StoredIntent is an intent audit row.
type StoredIntent struct {
	Reference   string
	Kind        string
	DisputeID   uint64
	Actor       string
	Status      string
	TxHash      string
	Detail      string
	SubmittedAt time.Time
	SettledAt   time.Time
}

func (s *SQLiteStore) RecordIntentSubmitted(ctx context.Context, ref, kind string, disputeID uint64, actor, txHash string, at time.Time) error {
	const stmt = `INSERT OR REPLACE INTO intents(ref, kind, dispute_id, actor, status, tx_hash, submitted_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, ref, kind, disputeID, actor, intentStatusSubmitted, txHash, at)
	return err
}

func (s *SQLiteStore) MarkIntentConfirmed(ctx context.Context, ref string, at time.Time) error {
	const stmt = `UPDATE intents SET status = ?, settled_at = ? WHERE ref = ?`
	_, err := s.db.ExecContext(ctx, stmt, intentStatusConfirmed, at, ref)
	return err
}

func (s *SQLiteStore) MarkIntentFailed(ctx context.Context, ref, detail string, at time.Time) error {
	const stmt = `UPDATE intents SET status = ?, detail = ?, settled_at = ? WHERE ref = ?`
	_, err := s.db.ExecContext(ctx, stmt, intentStatusFailed, detail, at, ref)
	return err
}

func (s *SQLiteStore) IntentByReference(ctx context.Context, ref string) (StoredIntent, error) {
	// settled_at must be scanned as the bare column: wrapping it in an
	// expression drops the TIMESTAMP decltype and the driver hands back a
	// string instead of a time.Time.
	const query = `SELECT ref, kind, dispute_id, actor, status, COALESCE(tx_hash, ''), COALESCE(detail, ''), submitted_at, settled_at FROM intents WHERE ref = ?`
	row := s.db.QueryRowContext(ctx, query, ref)
	var intent StoredIntent
	var settled sql.NullTime
	if err := row.Scan(&intent.Reference, &intent.Kind, &intent.DisputeID, &intent.Actor, &intent.Status, &intent.TxHash, &intent.Detail, &intent.SubmittedAt, &settled); err != nil {
		return StoredIntent{}, err
	}
	if settled.Valid {
		intent.SettledAt = settled.Time
	}
	return intent, nil
}

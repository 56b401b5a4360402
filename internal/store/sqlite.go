// ABOUTME: SQLite Persister using modernc.org/sqlite
// ABOUTME: Replaces the stack index inside one transaction per save

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePersister keeps the stack index in SQLite. Each save is a single
// transaction, so a crash leaves either the old or the new snapshot.
type SQLitePersister struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLitePersister opens (or creates) the database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	p := &SQLitePersister{db: db, logger: logger}
	if err := p.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite persister initialized", "path", path)
	return p, nil
}

func (p *SQLitePersister) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS signatures (
			id        TEXT PRIMARY KEY,
			position  INTEGER NOT NULL,
			status    TEXT NOT NULL,
			doc_type  TEXT NOT NULL,
			body      TEXT NOT NULL,

			CHECK (status IN ('pending', 'processing', 'approved', 'rejected', 'sent'))
		);

		CREATE INDEX IF NOT EXISTS idx_signatures_position ON signatures(position);

		CREATE TABLE IF NOT EXISTS index_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := p.db.Exec(schema)
	return err
}

// Load reads all entries ordered newest first.
func (p *SQLitePersister) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT body FROM signatures ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying signatures: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning signature: %w", err)
		}
		var e SignatureEntry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decoding signature: %w", err)
		}
		snap.Signatures = append(snap.Signatures, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signatures: %w", err)
	}

	var updated string
	err = p.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'last_updated'`).Scan(&updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading index metadata: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
			snap.LastUpdated = t
		}
	}
	return snap, nil
}

// Save replaces the stored snapshot.
func (p *SQLitePersister) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM signatures`); err != nil {
		return fmt.Errorf("clearing signatures: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO signatures (id, position, status, doc_type, body) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snap.Signatures {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding signature %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, i, string(e.Status), e.DocType, string(body)); err != nil {
			return fmt.Errorf("inserting signature %s: %w", e.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('last_updated', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		snap.LastUpdated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// ABOUTME: Contract tests for the SQLite stack index schema to detect breaking changes.
// ABOUTME: Validates that expected tables, columns and indexes exist in a fresh database.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/store"
)

// expectedSchema defines the contract for the persisted stack index.
// Databases written by older builds must stay readable.
var expectedSchema = map[string][]string{
	"signatures": {
		"id", "position", "status", "doc_type", "body",
	},
	"index_meta": {
		"key", "value",
	},
}

// setupTestDB creates a temporary SQLite database with the production schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	persister, err := store.NewSQLitePersister(dbPath)
	require.NoError(t, err, "failed to create SQLite persister")

	// A second connection; the persister owns its own.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		persister.Close()
	})
	return db
}

func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return columns, nil
}

func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for table, expectedCols := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actualCols, err := getTableColumns(ctx, db, table)
			if !assert.NoError(t, err, "failed to get columns for table %s", table) {
				return
			}
			if !assert.NotEmpty(t, actualCols, "table %s should exist and have columns", table) {
				return
			}
			for _, col := range expectedCols {
				assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
			}
			for col := range actualCols {
				if !slices.Contains(expectedCols, col) {
					t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
				}
			}
		})
	}
}

func TestSchemaHasIndexes(t *testing.T) {
	db := setupTestDB(t)

	rows, err := db.QueryContext(context.Background(), "SELECT name FROM sqlite_master WHERE type='index'")
	require.NoError(t, err)
	defer rows.Close()

	actual := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		actual[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, actual["idx_signatures_position"], "index idx_signatures_position should exist")
}

func TestStatusCheckConstraint(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Exec(`INSERT INTO signatures (id, position, status, doc_type, body) VALUES ('x', 0, 'archived', 'Form 4', '{}')`)
	assert.Error(t, err, "unknown statuses are rejected by the schema")

	_, err = db.Exec(`INSERT INTO signatures (id, position, status, doc_type, body) VALUES ('y', 0, 'pending', 'Form 4', '{}')`)
	assert.NoError(t, err)
}

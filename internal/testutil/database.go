package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/ndewijer/portfolio-snapshot/internal/database"
)

// SetupTestDB creates a migrated SQLite database in a temporary directory.
// A file database is used instead of :memory: so that every pooled
// connection sees the same schema and concurrent writers exercise the real
// busy-timeout and locking behaviour.
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    db := testutil.SetupTestDB(t)
//	    // db is ready to use with schema created
//	}
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "snapshot.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if _, err := database.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// CountRows returns the number of rows in table. It fails the test on error.
func CountRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	//nolint:gosec // G202: table names come from test code only
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s rows: %v", table, err)
	}
	return n
}

// AssertRowCount fails the test if table does not hold exactly want rows.
func AssertRowCount(t *testing.T, db *sql.DB, table string, want int) {
	t.Helper()

	if got := CountRows(t, db, table); got != want {
		t.Errorf("Expected %d rows in %s, got %d", want, table, got)
	}
}

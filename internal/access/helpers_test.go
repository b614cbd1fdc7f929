package access

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/solar-controller-core/internal/infrastructure/database"
	_ "github.com/nerrad567/solar-controller-core/migrations" // registers schema
)

// testClock advances one millisecond per call so insertion order is
// visible in timestamps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// testStore opens a migrated temporary database.
func testStore(t *testing.T) (*SQLiteStore, *database.DB) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "access.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewSQLiteStore(db.DB, WithClock(clock.Now)), db
}

// mustUser creates a user whose subject and name derive from email.
func mustUser(t *testing.T, s *SQLiteStore, email string) User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), "sub-"+email, email, email, "")
	if err != nil {
		t.Fatalf("UpsertUser(%s): %v", email, err)
	}
	return u
}

func countRows(t *testing.T, db *database.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

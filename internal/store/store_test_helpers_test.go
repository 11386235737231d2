package store

import (
	"context"
	"os"
	"testing"

	"polymarket-collector/internal/config"
)

// openTestStore opens a Store against DATABASE_URL, running migrations, or
// skips the test when no database is reachable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping store integration test")
	}

	ctx := context.Background()
	st, err := Open(ctx, config.DatabaseConfig{
		URL:         url,
		MinPoolSize: 1,
		MaxPoolSize: 4,
	})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if _, err := Migrate(ctx, st.Pool()); err != nil {
		t.Fatalf("Migrate() = %v", err)
	}
	return st
}

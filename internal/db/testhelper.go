package db

import (
	"path/filepath"
	"testing"
)

// OpenTestSink opens a migrated budget sink in t.TempDir() and registers
// cleanup. Tests that don't care about the read/write split can use Write
// for everything.
func OpenTestSink(t *testing.T) *Pools {
	t.Helper()

	path := filepath.Join(t.TempDir(), "budget_test.sqlite")

	pools, err := OpenSink(path, 4)
	if err != nil {
		t.Fatalf("open test sink: %v", err)
	}
	t.Cleanup(func() { _ = pools.Close() })

	if err := RunMigrations(pools.Write); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return pools
}

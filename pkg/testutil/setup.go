package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sharegate/sharegate/pkg/database"
)

// TestConfig holds test configuration
type TestConfig struct {
	DBPath      string
	StoragePath string
}

// SetupTest creates a migrated temporary database and a blob storage directory.
func SetupTest(t *testing.T) (*sql.DB, *TestConfig, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sharegate-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}

	cfg := &TestConfig{
		DBPath:      filepath.Join(tmpDir, "test.db"),
		StoragePath: filepath.Join(tmpDir, "blobs"),
	}
	cleanupTmpDir := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Logf("Failed to remove temp directory %q: %v", tmpDir, err)
		}
	}

	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		cleanupTmpDir()
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Same migrations as runtime startup.
	if err := database.Migrate(context.Background(), db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Failed to close test database after migration error: %v", closeErr)
		}
		cleanupTmpDir()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	if err := os.MkdirAll(cfg.StoragePath, 0750); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Failed to close test database after storage init error: %v", closeErr)
		}
		cleanupTmpDir()
		t.Fatalf("Failed to create storage directory: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
		cleanupTmpDir()
	}

	return db, cfg, cleanup
}

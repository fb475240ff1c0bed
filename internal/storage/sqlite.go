// Package storage keeps a local SQLite ledger of pipeline runs and their
// per-group outcomes. The ledger is an operational mirror only; the dataset
// files remain the source of truth.
package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	envLedgerDBPath   = "BEZEL_LEDGER_DB_PATH"
	defaultDBDirName  = ".bezelagent"
	defaultDBFileName = "runs.sqlite"
)

// ResolveDatabasePath returns the ledger database path, creating the parent
// directory if needed. BEZEL_LEDGER_DB_PATH overrides the default under the
// user's home directory.
func ResolveDatabasePath() (string, error) {
	if custom := strings.TrimSpace(os.Getenv(envLedgerDBPath)); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "storage: execute sqlite pragma %s failed", stmt)
		}
	}
	// A single connection avoids stale handles holding the WAL lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

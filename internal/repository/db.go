package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zikki-Qing/tabmend/internal/common"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS transform_job (
	id             TEXT PRIMARY KEY,
	state          TEXT NOT NULL,
	file_name      TEXT NOT NULL,
	format         TEXT NOT NULL,
	instruction    TEXT NOT NULL,
	replacement    TEXT NOT NULL,
	target_columns TEXT,
	plan           TEXT,
	metadata       TEXT,
	progress       INTEGER NOT NULL DEFAULT 0,
	step           TEXT,
	step_message   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	worker_id      TEXT,
	heartbeat_at   TIMESTAMP,
	result_name    TEXT,
	error_summary  TEXT,
	summary        TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	started_at     TIMESTAMP,
	finished_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transform_job_state_created ON transform_job(state, created_at);

CREATE TABLE IF NOT EXISTS job_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	column_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	original  TEXT,
	new_value TEXT,
	outcome   TEXT NOT NULL,
	detail    TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_log_job ON job_log(job_id, id);
`

// Open opens (or creates) the sqlite store and applies the schema.
// modernc.org/sqlite is pure Go, so the same path works in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	logger.Info("opening job store", "path", path)
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		return nil, common.WrapError(err, "open sqlite")
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// under the worker pool without changing observable behavior.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "ping sqlite")
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "apply schema")
	}
	logger.Info("job store ready")
	return db, nil
}

// Close closes the store gracefully.
func Close(db *sql.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error("failed to close job store", "error", err)
		return
	}
	logger.Info("job store closed")
}

// HealthCheck pings the store to catch path/lock issues early.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration, logger *slog.Logger) error {
	logger.Debug("pinging job store")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		logger.Error("job store ping failed", "error", err)
		return common.WrapError(err, "ping job store")
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/transform"
)

// LogRepository persists processing logs as an ordered append-only sequence
// keyed by job id. Logs are flushed once at the end of a run.
type LogRepository interface {
	Append(ctx context.Context, jobID uuid.UUID, entries []transform.LogEntry) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]transform.LogEntry, error)
}

type logRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewLogRepository(db *sql.DB, log *slog.Logger) LogRepository {
	return &logRepo{db: db, log: log}
}

func (r *logRepo) Append(ctx context.Context, jobID uuid.UUID, entries []transform.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin log append")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_log (job_id, row_index, column_name, operation, original, new_value, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return common.WrapError(err, "prepare log append")
	}
	defer stmt.Close()

	id := jobID.String()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, id, e.RowIndex, e.Column, e.Operation,
			e.Original, e.NewValue, string(e.Outcome), e.Detail); err != nil {
			return common.WrapError(err, "append log entry")
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit log append")
	}
	r.log.Debug("job logs flushed", "job_id", jobID, "entries", len(entries))
	return nil
}

func (r *logRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]transform.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT row_index, column_name, operation, original, new_value, outcome, detail
		FROM job_log WHERE job_id = ? ORDER BY id ASC`, jobID.String())
	if err != nil {
		return nil, common.WrapError(err, "list job logs")
	}
	defer rows.Close()

	var out []transform.LogEntry
	for rows.Next() {
		var (
			e       transform.LogEntry
			outcome string
		)
		if err := rows.Scan(&e.RowIndex, &e.Column, &e.Operation, &e.Original,
			&e.NewValue, &outcome, &e.Detail); err != nil {
			return nil, common.WrapError(err, "scan log entry")
		}
		e.Outcome = transform.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

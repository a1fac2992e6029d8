package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/entity"
)

// ListFilter narrows history queries.
type ListFilter struct {
	State  constants.JobStatus // empty = all states
	Limit  int
	Offset int
}

// JobRepository owns the transform_job table. Every state transition is a
// single guarded UPDATE so duplicate deliveries and dead workers cannot
// produce lost updates or double transitions.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)

	// ClaimRunning moves a job to RUNNING for workerID. The claim succeeds
	// when the job is PENDING, or RUNNING with a lease older than leaseTTL
	// (the previous worker is presumed dead). Returns false without error
	// when the job is already terminal or validly owned elsewhere.
	ClaimRunning(ctx context.Context, id uuid.UUID, workerID string, leaseTTL time.Duration) (bool, error)

	// Heartbeat refreshes the lease while workerID still owns the job.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error

	// UpdateProgress is a best-effort write; it never gates transitions.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step constants.JobStep, message string) error

	// MarkCompleted finishes the job iff it is still RUNNING and owned by
	// workerID; late output after a timeout transition is discarded by the
	// false return.
	MarkCompleted(ctx context.Context, id uuid.UUID, workerID, resultName string, summary json.RawMessage) (bool, error)

	// MarkFailed finishes the job with a cause unless it is already terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) (bool, error)

	// Requeue returns a transiently-failed job to PENDING and increments the
	// retry count, releasing the worker claim. The cause is recorded in the
	// step message, never in the error summary: a non-failed job carries no
	// error summary.
	Requeue(ctx context.Context, id uuid.UUID, cause string) (int, error)

	// ListPending returns jobs awaiting a worker, oldest first. Used at
	// startup to re-enqueue work that survived a restart.
	ListPending(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ListStaleRunning returns RUNNING jobs whose lease expired, i.e. their
	// worker died without finishing. ClaimRunning accepts these.
	ListStaleRunning(ctx context.Context, leaseTTL time.Duration, limit int) ([]uuid.UUID, error)

	List(ctx context.Context, filter ListFilter) ([]entity.JobSummary, error)
	Stats(ctx context.Context) (*entity.Stats, error)
	CountByState(ctx context.Context) (map[constants.JobStatus]int, error)

	// PurgeFailedBefore deletes failed jobs older than cutoff and returns
	// how many were removed.
	PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewJobRepository(db *sql.DB, log *slog.Logger) JobRepository {
	return &jobRepo{db: db, log: log}
}

const jobColumns = `id, state, file_name, format, instruction, replacement, target_columns,
	plan, metadata, progress, step, step_message, retry_count, worker_id, heartbeat_at,
	result_name, error_summary, summary, created_at, updated_at, started_at, finished_at`

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) error {
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.State == "" {
		job.State = constants.JobStatusPending
	}

	targets, err := marshalOrNil(job.TargetColumns)
	if err != nil {
		return err
	}
	metadata, err := marshalOrNil(job.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transform_job
			(id, state, file_name, format, instruction, replacement,
			 target_columns, plan, metadata, progress, retry_count,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		job.ID.String(), string(job.State), job.FileName, job.Format,
		job.Instruction, job.Replacement, targets, nullableBytes(job.Plan),
		metadata, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		r.log.Error("transform_job create failed", "job_id", job.ID, "err", err)
		return common.WrapError(err, "create job")
	}
	r.log.Info("transform_job created", "job_id", job.ID, "file", job.FileName, "format", job.Format)
	return nil
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transform_job WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, common.WrapError(err, "get job")
	}
	return job, nil
}

func (r *jobRepo) ClaimRunning(ctx context.Context, id uuid.UUID, workerID string, leaseTTL time.Duration) (bool, error) {
	now := time.Now().UTC()
	stale := now.Add(-leaseTTL)
	res, err := r.db.ExecContext(ctx, `
		UPDATE transform_job
		SET state = ?, worker_id = ?, heartbeat_at = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ?
		  AND (state = ? OR (state = ? AND heartbeat_at < ?))`,
		string(constants.JobStatusRunning), workerID, now, now, now,
		id.String(),
		string(constants.JobStatusPending), string(constants.JobStatusRunning), stale,
	)
	if err != nil {
		return false, common.WrapError(err, "claim job")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		r.log.Debug("claim skipped", "job_id", id, "worker_id", workerID)
		return false, nil
	}
	r.log.Info("job claimed", "job_id", id, "worker_id", workerID)
	return true, nil
}

func (r *jobRepo) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE transform_job SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND state = ? AND worker_id = ?`,
		now, now, id.String(), string(constants.JobStatusRunning), workerID,
	)
	return common.WrapError(err, "heartbeat")
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step constants.JobStep, message string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE transform_job SET progress = ?, step = ?, step_message = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		progress, string(step), message, now,
		id.String(), string(constants.JobStatusRunning),
	)
	return common.WrapError(err, "update progress")
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, workerID, resultName string, summary json.RawMessage) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE transform_job
		SET state = ?, result_name = ?, summary = ?, progress = 100,
		    step = ?, step_message = 'processing completed',
		    error_summary = NULL, finished_at = ?, updated_at = ?
		WHERE id = ? AND state = ? AND worker_id = ?`,
		string(constants.JobStatusCompleted), resultName, nullableBytes(summary),
		string(constants.StepExport), now, now,
		id.String(), string(constants.JobStatusRunning), workerID,
	)
	if err != nil {
		r.log.Error("transform_job finish(COMPLETED) failed", "job_id", id, "err", err)
		return false, common.WrapError(err, "mark completed")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		r.log.Warn("completion discarded, job no longer owned", "job_id", id, "worker_id", workerID)
		return false, nil
	}
	r.log.Info("transform_job finished (COMPLETED)", "job_id", id, "result", resultName)
	return true, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE transform_job
		SET state = ?, error_summary = ?, step_message = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?)`,
		string(constants.JobStatusFailed), cause, "processing failed: "+cause, now, now,
		id.String(), string(constants.JobStatusCompleted), string(constants.JobStatusFailed),
	)
	if err != nil {
		r.log.Error("transform_job finish(FAILED) failed", "job_id", id, "err", err)
		return false, common.WrapError(err, "mark failed")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	r.log.Warn("transform_job finished (FAILED)", "job_id", id, "error", cause)
	return true, nil
}

func (r *jobRepo) Requeue(ctx context.Context, id uuid.UUID, cause string) (int, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE transform_job
		SET state = ?, worker_id = NULL, heartbeat_at = NULL,
		    retry_count = retry_count + 1, error_summary = NULL,
		    step_message = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(constants.JobStatusPending), "retrying: "+cause, now,
		id.String(), string(constants.JobStatusRunning),
	)
	if err != nil {
		return 0, common.WrapError(err, "requeue job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: job %s not requeueable", common.ErrNotFound, id)
	}

	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT retry_count FROM transform_job WHERE id = ?`, id.String(),
	).Scan(&count); err != nil {
		return 0, common.WrapError(err, "read retry count")
	}
	r.log.Warn("transform_job requeued", "job_id", id, "retry_count", count, "cause", cause)
	return count, nil
}

func (r *jobRepo) ListPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM transform_job WHERE state = ? ORDER BY created_at ASC LIMIT ?`,
		string(constants.JobStatusPending), limit)
	if err != nil {
		return nil, common.WrapError(err, "list pending")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, common.WrapError(err, "scan pending id")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, common.WrapError(err, "parse pending id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *jobRepo) ListStaleRunning(ctx context.Context, leaseTTL time.Duration, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	stale := time.Now().UTC().Add(-leaseTTL)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM transform_job
		WHERE state = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)
		ORDER BY created_at ASC LIMIT ?`,
		string(constants.JobStatusRunning), stale, limit)
	if err != nil {
		return nil, common.WrapError(err, "list stale running")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, common.WrapError(err, "scan stale id")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, common.WrapError(err, "parse stale id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *jobRepo) List(ctx context.Context, filter ListFilter) ([]entity.JobSummary, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, state, file_name, format, instruction, retry_count, error_summary, created_at, finished_at
		FROM transform_job`
	args := []any{}
	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()

	var out []entity.JobSummary
	for rows.Next() {
		var (
			s          entity.JobSummary
			idStr      string
			state      string
			errSummary sql.NullString
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&idStr, &state, &s.FileName, &s.Format, &s.Instruction,
			&s.RetryCount, &errSummary, &s.CreatedAt, &finishedAt); err != nil {
			return nil, common.WrapError(err, "scan job summary")
		}
		if s.ID, err = uuid.Parse(idStr); err != nil {
			return nil, common.WrapError(err, "parse job id")
		}
		s.State = constants.JobStatus(state)
		if errSummary.Valid {
			s.ErrorSummary = &errSummary.String
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			s.FinishedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *jobRepo) Stats(ctx context.Context) (*entity.Stats, error) {
	counts, err := r.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	stats := &entity.Stats{
		PendingCount:   counts[constants.JobStatusPending],
		RunningCount:   counts[constants.JobStatusRunning],
		CompletedCount: counts[constants.JobStatusCompleted],
		FailedCount:    counts[constants.JobStatusFailed],
	}
	stats.TotalJobs = stats.PendingCount + stats.RunningCount + stats.CompletedCount + stats.FailedCount

	var avgMs sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(finished_at) - julianday(started_at)) * 86400000.0)
		FROM transform_job
		WHERE state = ? AND started_at IS NOT NULL AND finished_at IS NOT NULL`,
		string(constants.JobStatusCompleted),
	).Scan(&avgMs)
	if err != nil {
		return nil, common.WrapError(err, "average duration")
	}
	if avgMs.Valid {
		stats.AverageDurationMs = avgMs.Float64
	}
	return stats, nil
}

func (r *jobRepo) CountByState(ctx context.Context) (map[constants.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM transform_job GROUP BY state`)
	if err != nil {
		return nil, common.WrapError(err, "count by state")
	}
	defer rows.Close()

	out := map[constants.JobStatus]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, common.WrapError(err, "scan state count")
		}
		out[constants.JobStatus(state)] = n
	}
	return out, rows.Err()
}

func (r *jobRepo) PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM transform_job WHERE state = ? AND created_at < ?`,
		string(constants.JobStatusFailed), cutoff.UTC())
	if err != nil {
		return 0, common.WrapError(err, "purge failed jobs")
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info("purged failed jobs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// scanJob reads the full column set in jobColumns order.
func scanJob(row *sql.Row) (*entity.Job, error) {
	var (
		job          entity.Job
		idStr        string
		state        string
		targets      sql.NullString
		plan         sql.NullString
		metadata     sql.NullString
		step         sql.NullString
		stepMessage  sql.NullString
		workerID     sql.NullString
		heartbeatAt  sql.NullTime
		resultName   sql.NullString
		errorSummary sql.NullString
		summary      sql.NullString
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
	)
	err := row.Scan(&idStr, &state, &job.FileName, &job.Format, &job.Instruction,
		&job.Replacement, &targets, &plan, &metadata, &job.Progress, &step,
		&stepMessage, &job.RetryCount, &workerID, &heartbeatAt, &resultName,
		&errorSummary, &summary, &job.CreatedAt, &job.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	job.State = constants.JobStatus(state)
	if targets.Valid && targets.String != "" {
		if err := json.Unmarshal([]byte(targets.String), &job.TargetColumns); err != nil {
			return nil, err
		}
	}
	if plan.Valid {
		job.Plan = json.RawMessage(plan.String)
	}
	if metadata.Valid && metadata.String != "" {
		job.Metadata = &entity.FileMetadata{}
		if err := json.Unmarshal([]byte(metadata.String), job.Metadata); err != nil {
			return nil, err
		}
	}
	if step.Valid {
		job.Step = step.String
	}
	if stepMessage.Valid {
		job.StepMessage = stepMessage.String
	}
	if workerID.Valid {
		job.WorkerID = &workerID.String
	}
	if heartbeatAt.Valid {
		t := heartbeatAt.Time
		job.HeartbeatAt = &t
	}
	if resultName.Valid {
		job.ResultName = &resultName.String
	}
	if errorSummary.Valid {
		job.ErrorSummary = &errorSummary.String
	}
	if summary.Valid {
		job.Summary = json.RawMessage(summary.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case *entity.FileMetadata:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, common.WrapError(err, "marshal field")
	}
	return string(b), nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

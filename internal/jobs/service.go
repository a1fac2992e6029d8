// Package jobs owns the job lifecycle: submission, the worker handler, and
// the read-side status, history, and health queries.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/async"
	"github.com/Zikki-Qing/tabmend/internal/blob"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/entity"
	"github.com/Zikki-Qing/tabmend/internal/interpret"
	"github.com/Zikki-Qing/tabmend/internal/repository"
	"github.com/Zikki-Qing/tabmend/internal/result"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
	"github.com/Zikki-Qing/tabmend/internal/telemetry"
	"github.com/Zikki-Qing/tabmend/internal/transform"
)

const previewRows = 5

// SubmitRequest carries one upload: the file, the instruction, and the
// processing options.
type SubmitRequest struct {
	FileName      string
	FormatHint    string
	Data          []byte
	Instruction   string
	Replacement   string
	TargetColumns []string
}

// Download is a fetched result blob plus what the client needs to serve it.
type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// Health reports reachability of the job store, blob store, and work queue.
type Health struct {
	QueueReachable   bool                        `json:"queue_reachable"`
	StorageReachable bool                        `json:"storage_reachable"`
	QueueDepth       int                         `json:"queue_depth"`
	JobCounts        map[constants.JobStatus]int `json:"job_counts,omitempty"`
}

// Service exposes the transport-agnostic job operations. All rejection
// errors surface here, before any job record exists.
type Service struct {
	repo    repository.JobRepository
	logs    repository.LogRepository
	blobs   blob.Store
	loader  *tabular.Loader
	results *result.Service
	queue   async.Queue
	logger  *slog.Logger
}

func NewService(
	repo repository.JobRepository,
	logs repository.LogRepository,
	blobs blob.Store,
	loader *tabular.Loader,
	results *result.Service,
	queue async.Queue,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		logs:    logs,
		blobs:   blobs,
		loader:  loader,
		results: results,
		queue:   queue,
		logger:  logger,
	}
}

// Submit validates the upload, compiles the instruction, persists the job in
// PENDING state, stores the source blob, and enqueues the work. Any
// validation failure is returned directly and leaves no job behind.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	format := constants.DetectFormat(req.FormatHint, req.FileName, req.Data)
	if format == "" {
		return nil, fmt.Errorf("%w: cannot determine format of %q", common.ErrUnsupportedFormat, req.FileName)
	}

	table, err := s.loader.Load(req.Data, format)
	if err != nil {
		return nil, err
	}
	for _, col := range req.TargetColumns {
		if !table.HasColumn(col) {
			return nil, fmt.Errorf("%w: column %q not in uploaded file", common.ErrInvalidColumnSelection, col)
		}
	}

	ops, err := interpret.Compile(req.Instruction, req.Replacement, req.TargetColumns)
	if err != nil {
		return nil, err
	}
	planJSON, err := interpret.EncodePlan(&interpret.Plan{
		TargetColumns: req.TargetColumns,
		Operations:    ops,
	})
	if err != nil {
		return nil, common.WrapError(err, "encode plan")
	}

	job := &entity.Job{
		ID:            uuid.New(),
		State:         constants.JobStatusPending,
		FileName:      req.FileName,
		Format:        string(format),
		Instruction:   req.Instruction,
		Replacement:   req.Replacement,
		TargetColumns: req.TargetColumns,
		Plan:          planJSON,
		Metadata: &entity.FileMetadata{
			Headers:      table.Columns,
			TotalRows:    len(table.Rows),
			TotalColumns: len(table.Columns),
			Preview:      table.Preview(previewRows),
		},
	}

	if err := s.blobs.Put(ctx, result.SourceKey(job.ID, format), req.Data); err != nil {
		return nil, common.WrapError(err, "store source blob")
	}
	if err := s.repo.Create(ctx, job); err != nil {
		// keep storage consistent with "no job created"
		_ = s.blobs.Delete(ctx, result.SourceKey(job.ID, format))
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, async.Message{JobID: job.ID, Attempt: 1, SubmittedAt: time.Now()}); err != nil {
		return nil, common.WrapError(err, "enqueue job")
	}

	telemetry.JobsSubmitted.Inc()
	s.logger.Info("job submitted", "job_id", job.ID, "file", req.FileName,
		"format", format, "operations", len(ops))
	return job, nil
}

// GetJob returns the current job record. Safe to call arbitrarily often and
// concurrently with a running job: it is a single read of the store.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.Get(ctx, id)
}

// GetLogs returns the full processing log once the run has flushed it.
func (s *Service) GetLogs(ctx context.Context, id uuid.UUID) ([]transform.LogEntry, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.State.IsTerminal() {
		return nil, fmt.Errorf("%w: job is %s", common.ErrNotReady, job.State)
	}
	return s.logs.ListByJob(ctx, id)
}

// DownloadResult fetches the result blob of a completed job.
func (s *Service) DownloadResult(ctx context.Context, id uuid.UUID) (*Download, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != constants.JobStatusCompleted || job.ResultName == nil {
		return nil, fmt.Errorf("%w: job is %s", common.ErrNotReady, job.State)
	}
	data, err := s.results.Load(ctx, id, *job.ResultName)
	if err != nil {
		return nil, err
	}
	return &Download{
		Name:        *job.ResultName,
		ContentType: constants.FileFormat(job.Format).ContentType(),
		Data:        data,
	}, nil
}

// ListHistory is a read-only projection over persisted jobs.
func (s *Service) ListHistory(ctx context.Context, filter repository.ListFilter) ([]entity.JobSummary, error) {
	return s.repo.List(ctx, filter)
}

// Stats aggregates counts and average duration over persisted jobs.
func (s *Service) Stats(ctx context.Context) (*entity.Stats, error) {
	return s.repo.Stats(ctx)
}

// HealthCheck probes the queue and both stores.
func (s *Service) HealthCheck(ctx context.Context) *Health {
	h := &Health{QueueDepth: s.queue.Depth()}
	h.QueueReachable = true // in-process queue; unreachable only when down

	if err := s.blobs.Ping(ctx); err != nil {
		s.logger.Warn("blob store unreachable", "error", err)
	} else if counts, err := s.repo.CountByState(ctx); err != nil {
		s.logger.Warn("job store unreachable", "error", err)
	} else {
		h.StorageReachable = true
		h.JobCounts = counts
	}
	return h
}

// Recover re-enqueues jobs left PENDING or with an expired RUNNING lease by
// a previous process. Called once at startup.
func (s *Service) Recover(ctx context.Context, leaseTTL time.Duration) error {
	pending, err := s.repo.ListPending(ctx, 0)
	if err != nil {
		return err
	}
	stale, err := s.repo.ListStaleRunning(ctx, leaseTTL, 0)
	if err != nil {
		return err
	}
	for _, id := range append(pending, stale...) {
		if err := s.queue.Enqueue(ctx, async.Message{JobID: id, Attempt: 1, SubmittedAt: time.Now()}); err != nil {
			return err
		}
	}
	if n := len(pending) + len(stale); n > 0 {
		s.logger.Info("recovered unfinished jobs", "pending", len(pending), "stale_running", len(stale))
	}
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
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

// ProcessorConfig holds the retry and lease policy for workers.
type ProcessorConfig struct {
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
}

// Processor is the worker-side handler. It must be safe to run twice for the
// same job: the RUNNING transition is a compare-and-set, completion requires
// ownership, and a delivery that finds the job terminal is a no-op.
type Processor struct {
	repo     repository.JobRepository
	logs     repository.LogRepository
	blobs    blob.Store
	loader   *tabular.Loader
	executor *transform.Executor
	results  *result.Service
	queue    async.Queue
	cfg      ProcessorConfig
	logger   *slog.Logger
}

func NewProcessor(
	repo repository.JobRepository,
	logs repository.LogRepository,
	blobs blob.Store,
	loader *tabular.Loader,
	executor *transform.Executor,
	results *result.Service,
	queue async.Queue,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Minute
	}
	return &Processor{
		repo:     repo,
		logs:     logs,
		blobs:    blobs,
		loader:   loader,
		executor: executor,
		results:  results,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process handles one queue delivery end to end.
func (p *Processor) Process(ctx context.Context, msg async.Message) error {
	job, err := p.repo.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			p.logger.Warn("delivery for unknown job dropped", "job_id", msg.JobID)
			return nil
		}
		return err
	}
	if job.State.IsTerminal() {
		// Duplicate delivery after completion: no-op.
		p.logger.Debug("delivery for terminal job ignored", "job_id", job.ID, "state", job.State)
		return nil
	}

	workerID := "worker-" + uuid.NewString()[:8]
	claimed, err := p.repo.ClaimRunning(ctx, job.ID, workerID, p.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.Debug("job owned elsewhere, delivery dropped", "job_id", job.ID)
		return nil
	}

	hbCtx, stopHB := context.WithCancel(context.Background())
	defer stopHB()
	go p.heartbeat(hbCtx, job.ID, workerID)

	start := time.Now()
	if err := p.run(ctx, job, workerID, msg); err != nil {
		return err
	}
	telemetry.JobDuration.Observe(time.Since(start).Seconds())
	return nil
}

// run executes the pipeline for an owned job. Terminal transitions use a
// background context so an expired worker context cannot strand the record.
// The worker deadline is checked at every step boundary: an attempt that
// overruns its cap fails with cause Timeout and never commits output, even
// when the individual steps all succeeded.
func (p *Processor) run(ctx context.Context, job *entity.Job, workerID string, msg async.Message) error {
	format := constants.FileFormat(job.Format)

	p.progress(job.ID, constants.StepParse, 0, "reading uploaded file")
	data, err := p.blobs.Get(ctx, result.SourceKey(job.ID, format))
	if err != nil {
		return p.transient(ctx, job, msg, fmt.Errorf("read source blob: %w", err))
	}
	if ctx.Err() != nil {
		return p.timeout(job.ID, "")
	}

	table, err := p.loader.Load(data, format)
	if err != nil {
		return p.fail(job.ID, err)
	}
	p.progress(job.ID, constants.StepParse, 1,
		fmt.Sprintf("parsed %d rows x %d columns", len(table.Rows), len(table.Columns)))

	p.progress(job.ID, constants.StepCompile, 0, "loading transformation plan")
	plan, err := p.loadPlan(job)
	if err != nil {
		return p.fail(job.ID, err)
	}
	p.progress(job.ID, constants.StepCompile, 1,
		fmt.Sprintf("plan has %d operations", len(plan.Operations)))

	p.progress(job.ID, constants.StepTransform, 0, "applying operations")
	entries, summary, err := p.executor.Run(table, plan.Operations, plan.TargetColumns)
	if err != nil {
		return p.fail(job.ID, err)
	}
	if ctx.Err() != nil {
		return p.timeout(job.ID, "")
	}
	countOutcomes(summary)
	if err := p.logs.Append(context.Background(), job.ID, entries); err != nil {
		return p.transient(ctx, job, msg, fmt.Errorf("flush logs: %w", err))
	}
	p.progress(job.ID, constants.StepTransform, 1,
		fmt.Sprintf("%d cells changed", summary.Applied))

	p.progress(job.ID, constants.StepExport, 0, "exporting result")
	name, err := p.results.SaveTable(ctx, job.ID, table, format, job.FileName)
	if err != nil {
		if errors.Is(err, common.ErrSerialization) {
			return p.fail(job.ID, err)
		}
		return p.transient(ctx, job, msg, fmt.Errorf("save result: %w", err))
	}
	if ctx.Err() != nil {
		return p.timeout(job.ID, name)
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return p.fail(job.ID, common.WrapError(err, "encode summary"))
	}
	ok, err := p.repo.MarkCompleted(context.Background(), job.ID, workerID, name, summaryJSON)
	if err != nil {
		return p.transient(ctx, job, msg, err)
	}
	if !ok {
		// Lost the ownership race (timeout transition or a reclaimed lease).
		// The output must not survive.
		_ = p.results.Discard(context.Background(), job.ID, name)
		p.logger.Warn("late output discarded", "job_id", job.ID, "worker_id", workerID)
		return nil
	}
	telemetry.JobsFinished.WithLabelValues(string(constants.JobStatusCompleted)).Inc()
	return nil
}

// loadPlan decodes the stored plan artifact; a job persisted without one is
// recompiled from its instruction (compilation is deterministic).
func (p *Processor) loadPlan(job *entity.Job) (*interpret.Plan, error) {
	if len(job.Plan) > 0 {
		return interpret.DecodePlan(job.Plan)
	}
	ops, err := interpret.Compile(job.Instruction, job.Replacement, job.TargetColumns)
	if err != nil {
		return nil, err
	}
	return &interpret.Plan{TargetColumns: job.TargetColumns, Operations: ops}, nil
}

// transient handles a retryable failure: requeue with a linear delay while
// attempts remain, otherwise fail the job with the last cause.
func (p *Processor) transient(ctx context.Context, job *entity.Job, msg async.Message, cause error) error {
	if ctx.Err() != nil {
		// The worker deadline expired mid-step; timeout policy, not I/O retry.
		return p.timeout(job.ID, "")
	}
	if msg.Attempt >= p.cfg.MaxAttempts {
		return p.fail(job.ID, fmt.Errorf("retries exhausted (%d attempts): %w", msg.Attempt, cause))
	}

	if _, err := p.repo.Requeue(context.Background(), job.ID, cause.Error()); err != nil {
		return err
	}
	delay := p.cfg.RetryDelay * time.Duration(msg.Attempt)
	next := async.Message{JobID: job.ID, Attempt: msg.Attempt + 1, SubmittedAt: msg.SubmittedAt}
	if err := p.queue.EnqueueAfter(context.Background(), next, delay); err != nil {
		return err
	}
	telemetry.JobRetries.Inc()
	p.logger.Warn("job requeued after transient failure",
		"job_id", job.ID, "attempt", msg.Attempt, "delay", delay, "cause", cause)
	return nil
}

// timeout fails the job with cause Timeout. resultName, when non-empty, is
// output the overrunning attempt already wrote; it must not survive.
func (p *Processor) timeout(jobID uuid.UUID, resultName string) error {
	if resultName != "" {
		_ = p.results.Discard(context.Background(), jobID, resultName)
		p.logger.Warn("output from timed-out attempt discarded", "job_id", jobID)
	}
	return p.fail(jobID, fmt.Errorf("%w: processing deadline exceeded", common.ErrTimeout))
}

// fail records the terminal failure. The orchestrator is the only place a
// job transitions to FAILED, so every failed job has one authoritative cause.
func (p *Processor) fail(jobID uuid.UUID, cause error) error {
	ok, err := p.repo.MarkFailed(context.Background(), jobID, cause.Error())
	if err != nil {
		return err
	}
	if ok {
		telemetry.JobsFinished.WithLabelValues(string(constants.JobStatusFailed)).Inc()
	}
	return nil
}

func (p *Processor) heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) {
	t := time.NewTicker(p.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.repo.Heartbeat(context.Background(), jobID, workerID); err != nil {
				p.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (p *Processor) progress(jobID uuid.UUID, step constants.JobStep, fraction float64, message string) {
	err := p.repo.UpdateProgress(context.Background(), jobID,
		constants.StepProgress(step, fraction), step, message)
	if err != nil {
		p.logger.Debug("progress update skipped", "job_id", jobID, "error", err)
	}
}

func countOutcomes(s *transform.Summary) {
	telemetry.CellsProcessed.WithLabelValues(string(transform.OutcomeApplied)).Add(float64(s.Applied))
	telemetry.CellsProcessed.WithLabelValues(string(transform.OutcomeNoMatch)).Add(float64(s.NoMatch))
	telemetry.CellsProcessed.WithLabelValues(string(transform.OutcomeTypeMismatch)).Add(float64(s.TypeMismatch))
	telemetry.CellsProcessed.WithLabelValues(string(transform.OutcomeError)).Add(float64(s.Errors))
}

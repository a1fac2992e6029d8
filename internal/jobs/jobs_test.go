package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/async"
	"github.com/Zikki-Qing/tabmend/internal/blob"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/repository"
	"github.com/Zikki-Qing/tabmend/internal/result"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
	"github.com/Zikki-Qing/tabmend/internal/transform"
)

// captureQueue records enqueued messages instead of delivering them, so tests
// drive the processor synchronously.
type captureQueue struct {
	mu        sync.Mutex
	immediate []async.Message
	delayed   []async.Message
}

func (q *captureQueue) Enqueue(_ context.Context, msg async.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.immediate = append(q.immediate, msg)
	return nil
}

func (q *captureQueue) EnqueueAfter(_ context.Context, msg async.Message, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, msg)
	return nil
}

func (q *captureQueue) Depth() int                 { return 0 }
func (q *captureQueue) Shutdown(_ context.Context) {}

type harness struct {
	svc     *Service
	proc    *Processor
	queue   *captureQueue
	repo    repository.JobRepository
	logs    repository.LogRepository
	blobs   blob.Store
	loader  *tabular.Loader
	results *result.Service
	cfg     ProcessorConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repository.Close(db, logger) })

	blobs, err := blob.NewFSStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	jobRepo := repository.NewJobRepository(db, logger)
	logRepo := repository.NewLogRepository(db, logger)
	loader := tabular.NewLoader(logger)
	results := result.NewService(blobs, tabular.NewWriter(logger), logger)
	queue := &captureQueue{}

	cfg := ProcessorConfig{
		LeaseTTL:          30 * time.Second,
		HeartbeatInterval: time.Hour,
		MaxAttempts:       3,
		RetryDelay:        time.Minute,
	}
	return &harness{
		svc:     NewService(jobRepo, logRepo, blobs, loader, results, queue, logger),
		proc:    NewProcessor(jobRepo, logRepo, blobs, loader, transform.NewExecutor(logger), results, queue, cfg, logger),
		queue:   queue,
		repo:    jobRepo,
		logs:    logRepo,
		blobs:   blobs,
		loader:  loader,
		results: results,
		cfg:     cfg,
	}
}

const sampleCSV = "name,city,phone\nalice,N/A,13812345678\nbob,lagos,\n"

func submitSample(t *testing.T, h *harness) async.Message {
	t.Helper()
	_, err := h.svc.Submit(context.Background(), SubmitRequest{
		FileName:    "people.csv",
		Data:        []byte(sampleCSV),
		Instruction: "replace 'N/A' everywhere",
		Replacement: "unknown",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(h.queue.immediate) != 1 {
		t.Fatalf("enqueued %d messages, want 1", len(h.queue.immediate))
	}
	return h.queue.immediate[0]
}

func TestSubmitAndProcess_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := submitSample(t, h)

	job, err := h.svc.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != constants.JobStatusPending {
		t.Fatalf("state = %s, want PENDING", job.State)
	}
	if job.Metadata == nil || job.Metadata.TotalRows != 2 || len(job.Metadata.Preview) != 2 {
		t.Errorf("metadata = %+v", job.Metadata)
	}
	if len(job.Plan) == 0 {
		t.Error("submit stored no plan artifact")
	}

	// Logs and download are gated until the job finishes.
	if _, err := h.svc.GetLogs(ctx, msg.JobID); !errors.Is(err, common.ErrNotReady) {
		t.Errorf("GetLogs before completion: %v, want ErrNotReady", err)
	}
	if _, err := h.svc.DownloadResult(ctx, msg.JobID); !errors.Is(err, common.ErrNotReady) {
		t.Errorf("DownloadResult before completion: %v, want ErrNotReady", err)
	}

	if err := h.proc.Process(ctx, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	job, err = h.svc.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != constants.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("state=%s progress=%d", job.State, job.Progress)
	}
	if job.ResultName == nil || *job.ResultName != "processed_people.csv" {
		t.Errorf("result name = %v", job.ResultName)
	}
	if len(job.Summary) == 0 {
		t.Error("no summary recorded")
	}

	dl, err := h.svc.DownloadResult(ctx, msg.JobID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if dl.ContentType != "text/csv" {
		t.Errorf("content type = %q", dl.ContentType)
	}
	body := string(dl.Data)
	if strings.Contains(body, "N/A") {
		t.Errorf("result still contains N/A:\n%s", body)
	}
	if !strings.Contains(body, "unknown") {
		t.Errorf("replacement missing from result:\n%s", body)
	}

	entries, err := h.svc.GetLogs(ctx, msg.JobID)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	// One operation over 3 columns x 2 rows.
	if len(entries) != 6 {
		t.Errorf("log entries = %d, want 6", len(entries))
	}
	applied := 0
	for _, e := range entries {
		if e.Outcome == transform.OutcomeApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("applied entries = %d, want 1", applied)
	}
}

func TestSubmit_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{
			name: "undetectable format",
			req:  SubmitRequest{FileName: "blob.bin", Data: []byte{0x00, 0x01}, Instruction: "trim"},
			want: common.ErrUnsupportedFormat,
		},
		{
			name: "invalid utf8 csv",
			req:  SubmitRequest{FileName: "x.csv", Data: []byte{'a', ',', 'b', '\n', 0xFF, 0xFE}, Instruction: "trim"},
			want: common.ErrMalformedInput,
		},
		{
			name: "unknown column",
			req:  SubmitRequest{FileName: "x.csv", Data: []byte(sampleCSV), Instruction: "trim", TargetColumns: []string{"salary"}},
			want: common.ErrInvalidColumnSelection,
		},
		{
			name: "unrecognized instruction",
			req:  SubmitRequest{FileName: "x.csv", Data: []byte(sampleCSV), Instruction: "make it nicer"},
			want: common.ErrUnrecognizedInstruction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Submit(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	// Rejection leaves nothing behind.
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalJobs != 0 {
		t.Errorf("total jobs = %d after rejections, want 0", stats.TotalJobs)
	}
	if len(h.queue.immediate) != 0 {
		t.Errorf("queue received %d messages, want 0", len(h.queue.immediate))
	}
}

func TestProcess_DuplicateDeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := submitSample(t, h)

	if err := h.proc.Process(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := h.proc.Process(ctx, msg); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	entries, err := h.svc.GetLogs(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 6 {
		t.Errorf("log entries = %d after redelivery, want 6", len(entries))
	}
	job, _ := h.svc.GetJob(ctx, msg.JobID)
	if job.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", job.RetryCount)
	}
}

func TestProcess_TransientFailureRequeues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := submitSample(t, h)

	// Lose the source blob: a worker hitting this treats it as transient.
	format := constants.FormatCSV
	if err := h.blobs.Delete(ctx, result.SourceKey(msg.JobID, format)); err != nil {
		t.Fatal(err)
	}

	if err := h.proc.Process(ctx, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	job, err := h.svc.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != constants.JobStatusPending {
		t.Fatalf("state = %s, want PENDING after requeue", job.State)
	}
	if job.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", job.RetryCount)
	}
	if len(h.queue.delayed) != 1 {
		t.Fatalf("delayed messages = %d, want 1", len(h.queue.delayed))
	}
	if got := h.queue.delayed[0]; got.JobID != msg.JobID || got.Attempt != 2 {
		t.Errorf("redelivery = %+v", got)
	}
	if job.ErrorSummary != nil {
		t.Errorf("error summary = %q on requeued job", *job.ErrorSummary)
	}

	// Restore the blob and deliver the retry: the job completes with no
	// trace of the transient cause.
	if err := h.blobs.Put(ctx, result.SourceKey(msg.JobID, format), []byte(sampleCSV)); err != nil {
		t.Fatal(err)
	}
	if err := h.proc.Process(ctx, h.queue.delayed[0]); err != nil {
		t.Fatalf("retry delivery: %v", err)
	}
	job, err = h.svc.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != constants.JobStatusCompleted {
		t.Fatalf("state = %s after retry, want COMPLETED", job.State)
	}
	if job.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", job.RetryCount)
	}
	if job.ErrorSummary != nil {
		t.Errorf("error summary = %q on completed job", *job.ErrorSummary)
	}
}

func TestProcess_RetriesExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := submitSample(t, h)

	if err := h.blobs.Delete(ctx, result.SourceKey(msg.JobID, constants.FormatCSV)); err != nil {
		t.Fatal(err)
	}

	// Last permitted attempt fails terminally instead of requeueing.
	msg.Attempt = 3
	if err := h.proc.Process(ctx, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	job, err := h.svc.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != constants.JobStatusFailed {
		t.Fatalf("state = %s, want FAILED", job.State)
	}
	if job.ErrorSummary == nil || !strings.Contains(*job.ErrorSummary, "retries exhausted") {
		t.Errorf("error summary = %v", job.ErrorSummary)
	}
	if len(h.queue.delayed) != 0 {
		t.Errorf("delayed messages = %d, want 0", len(h.queue.delayed))
	}
}

// stallBlob hands out the source only once the caller's deadline has passed,
// modeling a read that outlives the processing cap but still succeeds.
type stallBlob struct {
	blob.Store
}

func (s stallBlob) Get(ctx context.Context, key string) ([]byte, error) {
	<-ctx.Done()
	return s.Store.Get(ctx, key)
}

func TestProcess_DeadlineExpiryFailsWithTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := submitSample(t, h)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slow := NewProcessor(h.repo, h.logs, stallBlob{h.blobs}, h.loader,
		transform.NewExecutor(logger), h.results, h.queue, h.cfg, logger)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := slow.Process(runCtx, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	job, err := h.svc.GetJob(ctx, msg.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != constants.JobStatusFailed {
		t.Fatalf("state = %s, want FAILED", job.State)
	}
	if job.ErrorSummary == nil || !strings.Contains(*job.ErrorSummary, "deadline exceeded") {
		t.Errorf("error summary = %v", job.ErrorSummary)
	}
	// An overrun is not a transient condition: no redelivery, no output.
	if len(h.queue.delayed) != 0 {
		t.Errorf("delayed messages = %d, want 0", len(h.queue.delayed))
	}
	if _, err := h.svc.DownloadResult(ctx, msg.JobID); !errors.Is(err, common.ErrNotReady) {
		t.Errorf("download after timeout: %v, want ErrNotReady", err)
	}
}

func TestProcess_UnknownJobIsDropped(t *testing.T) {
	h := newHarness(t)
	err := h.proc.Process(context.Background(), async.Message{JobID: uuid.New(), Attempt: 1})
	if err != nil {
		t.Fatalf("unknown job: %v", err)
	}
}

func TestRecover_ReenqueuesUnfinishedWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := submitSample(t, h)
	_, err := h.svc.Submit(ctx, SubmitRequest{
		FileName:    "second.csv",
		Data:        []byte(sampleCSV),
		Instruction: "trim whitespace",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a worker that died mid-run: claimed with an expired lease.
	if ok, _ := h.repo.ClaimRunning(ctx, first.JobID, "dead", time.Millisecond); !ok {
		t.Fatal("claim failed")
	}
	time.Sleep(20 * time.Millisecond)

	h.queue.immediate = nil
	if err := h.svc.Recover(ctx, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(h.queue.immediate) != 2 {
		t.Fatalf("recovered %d messages, want 2", len(h.queue.immediate))
	}
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t)
	health := h.svc.HealthCheck(context.Background())
	if !health.QueueReachable || !health.StorageReachable {
		t.Errorf("health = %+v", health)
	}
}

package async

import (
	"context"
	"sync"
	"time"

	"log/slog"
)

// WorkerQueue runs a fixed pool of workers over a buffered channel.
type WorkerQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Message
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*WorkerQueue)

func WithWorkers(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.ch = make(chan Message, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *WorkerQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewWorkerQueue(handler Handler, logger *slog.Logger, opts ...Option) *WorkerQueue {
	q := &WorkerQueue{
		handler: handler,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Message, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *WorkerQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for msg := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					err := q.handler(ctx, msg)
					cancel()

					if err != nil {
						q.logger.Error("processing failed", "worker_id", workerID, "job_id", msg.JobID, "attempt", msg.Attempt, "error", err)
					} else {
						q.logger.Info("processed job", "worker_id", workerID, "job_id", msg.JobID, "attempt", msg.Attempt)
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *WorkerQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", msg.JobID)
		return nil
	}
	select {
	case q.ch <- msg:
		q.logger.Info("queued job", "job_id", msg.JobID, "attempt", msg.Attempt)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", msg.JobID)
		q.ch <- msg
	}
	return nil
}

// EnqueueAfter delivers msg once delay elapses. A queue that shuts down
// before the timer fires drops the redelivery; the job stays PENDING in the
// store and is recovered on the next startup.
func (q *WorkerQueue) EnqueueAfter(ctx context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, msg)
	}
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			_ = q.Enqueue(context.Background(), msg)
		case <-ctx.Done():
		}
	}()
	return nil
}

func (q *WorkerQueue) Depth() int {
	return len(q.ch)
}

func (q *WorkerQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}

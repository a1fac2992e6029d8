package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is the smallest useful unit of queued work: which job to run and
// which delivery attempt this is. Delivery is at-least-once; the handler
// must tolerate duplicates.
type Message struct {
	JobID       uuid.UUID
	Attempt     int
	SubmittedAt time.Time
}

// Handler processes one delivery. A non-nil return is logged by the queue;
// retry decisions belong to the handler, not the queue.
type Handler func(ctx context.Context, msg Message) error

type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// EnqueueAfter delivers msg after the given delay. Used for retry
	// redelivery with backoff.
	EnqueueAfter(ctx context.Context, msg Message, delay time.Duration) error
	// Depth reports how many messages are waiting, for health reporting.
	Depth() int
	Shutdown(ctx context.Context)
}

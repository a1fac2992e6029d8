package async

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerQueue_DeliversAllMessages(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	q := NewWorkerQueue(func(_ context.Context, msg Message) error {
		mu.Lock()
		seen[msg.JobID]++
		mu.Unlock()
		wg.Done()
		return nil
	}, discardLogger(), WithWorkers(3), WithQueueSize(16))

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		wg.Add(1)
		if err := q.Enqueue(context.Background(), Message{JobID: ids[i], Attempt: 1}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	q.Shutdown(context.Background())

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		if seen[id] != 1 {
			t.Errorf("job %s delivered %d times, want 1", id, seen[id])
		}
	}
}

func TestWorkerQueue_EnqueueAfter(t *testing.T) {
	done := make(chan Message, 1)
	q := NewWorkerQueue(func(_ context.Context, msg Message) error {
		done <- msg
		return nil
	}, discardLogger(), WithWorkers(1))
	defer q.Shutdown(context.Background())

	msg := Message{JobID: uuid.New(), Attempt: 2}
	start := time.Now()
	if err := q.EnqueueAfter(context.Background(), msg, 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-done:
		if got.JobID != msg.JobID || got.Attempt != 2 {
			t.Errorf("got %+v", got)
		}
		if time.Since(start) < 30*time.Millisecond {
			t.Error("delivered before the delay elapsed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed message never delivered")
	}
}

func TestWorkerQueue_EnqueueAfterShutdownIsDropped(t *testing.T) {
	q := NewWorkerQueue(func(_ context.Context, _ Message) error {
		t.Error("handler invoked after shutdown")
		return nil
	}, discardLogger(), WithWorkers(1))
	q.Shutdown(context.Background())

	if err := q.Enqueue(context.Background(), Message{JobID: uuid.New()}); err != nil {
		t.Fatalf("enqueue after shutdown: %v", err)
	}
	// Give a stray delivery time to surface.
	time.Sleep(20 * time.Millisecond)
}

func TestWorkerQueue_HandlerTimeout(t *testing.T) {
	expired := make(chan bool, 1)
	q := NewWorkerQueue(func(ctx context.Context, _ Message) error {
		select {
		case <-ctx.Done():
			expired <- true
		case <-time.After(2 * time.Second):
			expired <- false
		}
		return ctx.Err()
	}, discardLogger(), WithWorkers(1), WithProcessTimeout(20*time.Millisecond))
	defer q.Shutdown(context.Background())

	if err := q.Enqueue(context.Background(), Message{JobID: uuid.New()}); err != nil {
		t.Fatal(err)
	}
	select {
	case ok := <-expired:
		if !ok {
			t.Fatal("handler context never expired")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestWorkerQueue_Depth(t *testing.T) {
	block := make(chan struct{})
	q := NewWorkerQueue(func(_ context.Context, _ Message) error {
		<-block
		return nil
	}, discardLogger(), WithWorkers(1), WithQueueSize(8))

	for i := 0; i < 4; i++ {
		if err := q.Enqueue(context.Background(), Message{JobID: uuid.New()}); err != nil {
			t.Fatal(err)
		}
	}
	// One message is with the worker; the rest wait in the channel.
	time.Sleep(20 * time.Millisecond)
	if d := q.Depth(); d < 2 {
		t.Errorf("depth = %d, want backlog visible", d)
	}
	close(block)
	q.Shutdown(context.Background())
}

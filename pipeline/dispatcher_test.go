package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tdaniel1925/easemail-rules/rules"
)

// fakeProcessor counts processed messages and can block on a gate so tests can
// control worker progress.
type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	gate      chan struct{}
	fail      bool
}

func (p *fakeProcessor) ProcessEmail(ctx context.Context, msg *rules.Message, userID string) (*rules.ProcessingSummary, error) {
	if p.gate != nil {
		<-p.gate
	}
	if p.fail {
		return nil, errors.New("rules unavailable")
	}

	p.mu.Lock()
	p.processed = append(p.processed, msg.ID)
	p.mu.Unlock()

	return &rules.ProcessingSummary{MessageID: msg.ID, UserID: userID}, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

type fakeSource struct {
	missing bool
}

func (s *fakeSource) Get(ctx context.Context, userID, messageID string) (*rules.Message, error) {
	if s.missing {
		return nil, errors.New("message not found")
	}
	return &rules.Message{ID: messageID, UserID: userID}, nil
}

func TestDispatcherProcessesQueuedTasks(t *testing.T) {
	processor := &fakeProcessor{}
	d := NewDispatcher(processor, &fakeSource{}, Config{Workers: 2, QueueSize: 16})

	for i := 0; i < 10; i++ {
		if !d.Enqueue(Task{MessageID: fmt.Sprintf("msg-%d", i), UserID: "user-1"}) {
			t.Fatalf("Enqueue(%d) rejected with a roomy queue", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if got := processor.count(); got != 10 {
		t.Errorf("processed %d tasks, want 10", got)
	}
}

// TestDispatcherDropsWhenSaturated: a full queue sheds load instead of
// blocking the caller.
func TestDispatcherDropsWhenSaturated(t *testing.T) {
	gate := make(chan struct{})
	processor := &fakeProcessor{gate: gate}
	d := NewDispatcher(processor, &fakeSource{}, Config{Workers: 1, QueueSize: 1})

	// First task parks in the worker, second fills the queue. The worker may
	// need a moment to pick the first one up.
	if !d.Enqueue(Task{MessageID: "msg-0", UserID: "user-1"}) {
		t.Fatal("first task should be accepted")
	}
	deadline := time.Now().Add(time.Second)
	for !d.Enqueue(Task{MessageID: "msg-1", UserID: "user-1"}) {
		if time.Now().After(deadline) {
			t.Fatal("second task never fit the queue")
		}
		time.Sleep(time.Millisecond)
	}

	// Queue is now full while the worker is parked.
	if d.Enqueue(Task{MessageID: "msg-2", UserID: "user-1"}) {
		t.Error("saturated queue should reject the task")
	}

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(&fakeProcessor{}, &fakeSource{}, Config{Workers: 1, QueueSize: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if d.Enqueue(Task{MessageID: "msg-1", UserID: "user-1"}) {
		t.Error("closed dispatcher should reject tasks")
	}
	if err := d.Close(ctx); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
}

// TestDispatcherSurvivesFailures: a missing message or failing processor
// affects that task only.
func TestDispatcherSurvivesFailures(t *testing.T) {
	processor := &fakeProcessor{}
	d := NewDispatcher(processor, &fakeSource{missing: true}, Config{Workers: 1, QueueSize: 4})

	d.Enqueue(Task{MessageID: "msg-1", UserID: "user-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("worker should survive a load failure: %v", err)
	}
	if processor.count() != 0 {
		t.Error("unloadable message should never reach the processor")
	}

	failing := &fakeProcessor{fail: true}
	d2 := NewDispatcher(failing, &fakeSource{}, Config{Workers: 1, QueueSize: 4})
	d2.Enqueue(Task{MessageID: "msg-1", UserID: "user-1"})
	d2.Enqueue(Task{MessageID: "msg-2", UserID: "user-1"})

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := d2.Close(ctx2); err != nil {
		t.Fatalf("worker should survive processing failures: %v", err)
	}
}

// Package pipeline decouples rule processing from the mail-sync critical
// path. Sync inserts a message, enqueues its ID here, and moves on; workers
// load the record and run the rule engine behind it.
package pipeline

import (
	"context"
	"sync"

	"github.com/tdaniel1925/easemail-rules/internal/logger"
	"github.com/tdaniel1925/easemail-rules/rules"
)

// Task identifies one newly-synced message to run rules against.
type Task struct {
	MessageID string
	UserID    string
}

// Processor runs a user's rules against one message. Satisfied by
// *rules.Engine.
type Processor interface {
	ProcessEmail(ctx context.Context, msg *rules.Message, userID string) (*rules.ProcessingSummary, error)
}

// MessageSource loads the message record for a task.
type MessageSource interface {
	Get(ctx context.Context, userID, messageID string) (*rules.Message, error)
}

// Dispatcher owns a bounded task queue and a fixed pool of workers. Enqueue
// never blocks: when the queue is saturated the task is dropped and counted,
// because stalling the sync pipeline is the one failure mode this component
// exists to prevent.
type Dispatcher struct {
	processor Processor
	source    MessageSource

	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Config sizes the dispatcher. Zero values fall back to the defaults.
type Config struct {
	Workers   int
	QueueSize int
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 1024
)

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(processor Processor, source MessageSource, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	d := &Dispatcher{
		processor: processor,
		source:    source,
		tasks:     make(chan Task, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue hands a task to the workers without blocking. It reports false when
// the task was not accepted (queue full or dispatcher closed).
func (d *Dispatcher) Enqueue(task Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	select {
	case d.tasks <- task:
		return true
	default:
		logger.Warn("rule queue full, dropping task",
			"messageId", task.MessageID, "userId", task.UserID)
		return false
	}
}

// Close stops accepting tasks and waits for the workers to drain the queue,
// giving up when ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for task := range d.tasks {
		d.process(task)
	}
}

// process runs one task end to end. Failures are logged and swallowed: a bad
// message or rule set affects that message only, never the worker.
func (d *Dispatcher) process(task Task) {
	ctx := context.Background()

	msg, err := d.source.Get(ctx, task.UserID, task.MessageID)
	if err != nil {
		logger.Error("failed to load message for rule run",
			"messageId", task.MessageID, "userId", task.UserID, "error", err)
		return
	}

	summary, err := d.processor.ProcessEmail(ctx, msg, task.UserID)
	if err != nil {
		logger.Error("rule processing failed",
			"messageId", task.MessageID, "userId", task.UserID, "error", err)
		return
	}

	if matched := summary.Matched(); len(matched) > 0 {
		logger.Info("rules matched message",
			"messageId", task.MessageID, "userId", task.UserID,
			"matched", matched, "stopped", summary.Stopped)
	}
}

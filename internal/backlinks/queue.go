package backlinks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/wikilink"
)

// Action says whether a task adds or removes a source from a target's
// backlink set.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Task is one pending backlink update: apply Action for Source on the
// note identified by Target.
type Task struct {
	Target     string
	Source     string
	Action     Action
	Retries    int
	EnqueuedAt time.Time
}

// Status is a point-in-time view of queue health.
type Status struct {
	Pending           int `json:"pending"`
	PermanentlyFailed int `json:"permanently_failed"`
}

// QueueConfig tunes the propagation queue.
type QueueConfig struct {
	Capacity    int           // bounded buffer size; oldest evicted when full
	Concurrency int           // max tasks applied at once per drained batch
	MaxRetries  int           // retry ceiling before a task is dropped
	RetryDelay  time.Duration // pause before draining again after a requeue
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = 256
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 250 * time.Millisecond
	}
	return c
}

// Queue is the bounded, retry-limited backlink propagation queue.
//
// Each drained batch is sorted by target id ascending before locks are
// taken. That total order over lock targets is what makes two notes
// that link to each other safe to propagate concurrently.
type Queue struct {
	writer *Writer
	cfg    QueueConfig
	logger *slog.Logger

	// onApplied, when set, is called after each successful apply.
	onApplied func(target string)

	mu     sync.Mutex // guards tasks and failed
	tasks  []Task
	failed int

	wake chan struct{}
}

// NewQueue creates a propagation queue draining through writer.
func NewQueue(writer *Writer, cfg QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		writer: writer,
		cfg:    cfg.withDefaults(),
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// OnApplied registers a hook invoked after each successfully applied
// task, with the target note id. Must be set before Run.
func (q *Queue) OnApplied(fn func(target string)) {
	q.onApplied = fn
}

// Enqueue admits a task, evicting the oldest queued entry when the
// buffer is full: a fresh update beats a stale one.
func (q *Queue) Enqueue(t Task) {
	t.Target = wikilink.Normalize(t.Target)
	t.Source = wikilink.Normalize(t.Source)
	if t.Target == "" || t.Source == "" {
		return
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	if len(q.tasks) >= q.cfg.Capacity {
		evicted := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.logger.Warn("queue full, evicting oldest task",
			slog.String("target", evicted.Target),
			slog.String("source", evicted.Source))
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	q.signal()
}

// Propagate enqueues the fan-out for a source note whose outgoing link
// set changed: an add task per new target, a remove task per dropped
// target. This is the fire-and-forget entry point used by live writers.
func (q *Queue) Propagate(source string, added, removed []string) {
	for _, t := range added {
		q.Enqueue(Task{Target: t, Source: source, Action: ActionAdd})
	}
	for _, t := range removed {
		q.Enqueue(Task{Target: t, Source: source, Action: ActionRemove})
	}
}

// Status reports queued and permanently failed task counts.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Pending: len(q.tasks), PermanentlyFailed: q.failed}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. It returns nil on
// cancellation; per-task failures never stop the loop.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}

		for {
			processed, requeued := q.drainBatch(ctx)
			if processed == 0 {
				break
			}
			if requeued > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(q.cfg.RetryDelay):
				}
			}
		}
	}
}

// drainBatch takes up to Concurrency tasks, sorts them by target id
// ascending, and applies them with cap-bounded concurrency. Failed
// tasks are re-queued until the retry ceiling, then dropped and counted
// as permanent failures. Failures are isolated per task and never abort
// siblings in the same batch.
func (q *Queue) drainBatch(ctx context.Context) (processed, requeued int) {
	q.mu.Lock()
	n := len(q.tasks)
	if n == 0 {
		q.mu.Unlock()
		return 0, 0
	}
	if n > q.cfg.Concurrency {
		n = q.cfg.Concurrency
	}
	batch := make([]Task, n)
	copy(batch, q.tasks[:n])
	q.tasks = q.tasks[n:]
	q.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Target != batch[j].Target {
			return batch[i].Target < batch[j].Target
		}
		return batch[i].Source < batch[j].Source
	})

	results := make([]error, len(batch))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Concurrency)
	for i, t := range batch {
		g.Go(func() error {
			results[i] = q.apply(gCtx, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		if err == nil {
			continue
		}
		t := batch[i]
		t.Retries++
		if t.Retries > q.cfg.MaxRetries {
			q.mu.Lock()
			q.failed++
			q.mu.Unlock()
			q.logger.Error("backlink update permanently failed",
				slog.String("target", t.Target),
				slog.String("source", t.Source),
				slog.String("action", string(t.Action)),
				slog.Int("retries", t.Retries-1),
				slog.String("error", err.Error()))
			continue
		}
		q.logger.Warn("backlink update failed, requeueing",
			slog.String("target", t.Target),
			slog.String("source", t.Source),
			slog.Int("retry", t.Retries),
			slog.String("error", err.Error()))
		q.Enqueue(t)
		requeued++
	}

	return len(batch), requeued
}

func (q *Queue) apply(ctx context.Context, t Task) error {
	var add, remove []string
	switch t.Action {
	case ActionRemove:
		remove = []string{t.Source}
	default:
		add = []string{t.Source}
	}

	err := q.writer.UpdateBacklinks(ctx, t.Target, add, remove)
	if err == nil && q.onApplied != nil {
		q.onApplied(t.Target)
	}
	return err
}

package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goose-run/agentcore/pkg/observability"
)

const (
	// DefaultInitialWorkers and DefaultMaxWorkers are the pool scaling
	// bounds from §4.6; GOOSE_MAX_BACKGROUND_TASKS overrides the max.
	DefaultInitialWorkers = 2
	DefaultMaxWorkers     = 10

	// DefaultTaskTimeout is used when a Task doesn't set its own
	// Timeout (§4.6, §5).
	DefaultTaskTimeout = 300 * time.Second

	// DefaultSubagentMaxTurns is the hard cap on sub-agent iterations
	// (§4.6); GOOSE_SUBAGENT_MAX_TURNS overrides it.
	DefaultSubagentMaxTurns = 25

	scaleEvalInterval = 100 * time.Millisecond
)

// NotificationKind discriminates one task-transition notification (§4.6).
type NotificationKind string

const (
	NotifyTaskStarted   NotificationKind = "TaskStarted"
	NotifyTaskProgress  NotificationKind = "TaskProgress"
	NotifyTaskCompleted NotificationKind = "TaskCompleted"
	NotifyTaskFailed    NotificationKind = "TaskFailed"
	NotifyTaskTimedOut  NotificationKind = "TaskTimedOut"
)

// Notification is one task-transition event, forwarded through C8 to
// the top-level SSE stream (§4.6).
type Notification struct {
	Kind   NotificationKind
	TaskID string
	Text   string
}

// Runner executes one Task to completion, reporting incremental
// progress through notify. The enclosing Pool derives per-task
// cancellation and timeout from ctx; Runner implementations (the
// reply-loop-backed sub-agent runner in production, a scripted stub in
// tests) must honor ctx cancellation promptly (§4.6 cancellation rule).
type Runner func(ctx context.Context, t Task, notify func(Notification)) Result

// Pool is the bounded, elastic worker pool behind C6 (§4.6). Workers
// scale between InitialWorkers and MaxWorkers based on queue pressure,
// evaluated every scaleEvalInterval.
type Pool struct {
	Run            Runner
	InitialWorkers int
	MaxWorkers     int

	mu      sync.Mutex
	active  atomic.Int64
	pending atomic.Int64
}

// NewPool builds a Pool with the given Runner and the §4.6 defaults,
// overridable via fields after construction.
func NewPool(run Runner) *Pool {
	return &Pool{Run: run, InitialWorkers: DefaultInitialWorkers, MaxWorkers: DefaultMaxWorkers}
}

// item is one task queued for execution, paired with its result slot.
type item struct {
	idx  int
	task Task
}

// Execute runs batch's tasks per mode, streaming notifications onto notify
// as they transition, and returns their results in request order once
// every task has reached a terminal state (§4.6 contract).
//
// Sequential mode runs one task at a time directly on the calling
// goroutine, without pool workers or the active/pending gauges; Parallel
// mode scales workers per the §4.6 rule.
func (p *Pool) Execute(ctx context.Context, batch []Task, mode Mode, notify func(Notification)) []Result {
	if len(batch) == 0 {
		return nil
	}
	if mode == ModeSequential {
		return p.executeSequential(ctx, batch, notify)
	}
	return p.executeParallel(ctx, batch, notify)
}

func (p *Pool) executeSequential(ctx context.Context, batch []Task, notify func(Notification)) []Result {
	out := make([]Result, len(batch))
	for i, t := range batch {
		if ctx.Err() != nil {
			out[i] = Result{TaskID: t.ID, Status: StatusCancelled}
			continue
		}
		out[i] = p.runOne(ctx, t, notify)
	}
	return out
}

func (p *Pool) executeParallel(ctx context.Context, batch []Task, notify func(Notification)) []Result {
	results := make([]Result, len(batch))

	initial := p.InitialWorkers
	if initial <= 0 {
		initial = DefaultInitialWorkers
	}
	max := p.MaxWorkers
	if max <= 0 {
		max = DefaultMaxWorkers
	}
	if initial > max {
		initial = max
	}

	queue := make(chan item, len(batch))
	for i, t := range batch {
		queue <- item{idx: i, task: t}
	}
	close(queue)
	p.pending.Store(int64(len(batch)))

	var wg sync.WaitGroup
	var workerCount atomic.Int64

	spawnWorker := func() {
		workerCount.Add(1)
		p.active.Add(1)
		p.reportGauges()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.active.Add(-1)
			defer p.reportGauges()
			for it := range queue {
				p.pending.Add(-1)
				p.reportGauges()
				if ctx.Err() != nil {
					results[it.idx] = Result{TaskID: it.task.ID, Status: StatusCancelled}
					continue
				}
				results[it.idx] = p.runOne(ctx, it.task, notify)
			}
		}()
	}

	for i := 0; i < initial; i++ {
		spawnWorker()
	}

	scaleDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(scaleEvalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-scaleDone:
				return
			case <-ticker.C:
				active := p.active.Load()
				pending := p.pending.Load()
				if pending > active*2 && active < int64(max) {
					spawnWorker()
				}
			}
		}
	}()

	wg.Wait()
	close(scaleDone)
	return results
}

// reportGauges pushes the pool's active worker and pending task counts
// to the process-wide Metrics instance, if one was installed.
func (p *Pool) reportGauges() {
	observability.GlobalMetrics().SetTaskPoolGauges(int(p.active.Load()), int(p.pending.Load()))
}

// runOne applies the task's effective timeout and converts a context
// deadline/cancellation into the matching terminal Result (§4.6, §5).
func (p *Pool) runOne(ctx context.Context, t Task, notify func(Notification)) Result {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if notify != nil {
		notify(Notification{Kind: NotifyTaskStarted, TaskID: t.ID})
	}

	res := p.Run(tctx, t, notify)
	res.TaskID = t.ID

	switch {
	case tctx.Err() == context.DeadlineExceeded && res.Status != StatusCompleted:
		res.Status = StatusTimedOut
		if notify != nil {
			notify(Notification{Kind: NotifyTaskTimedOut, TaskID: t.ID})
		}
	case ctx.Err() != nil && res.Status != StatusCompleted:
		res.Status = StatusCancelled
	default:
		if notify != nil {
			switch res.Status {
			case StatusCompleted:
				notify(Notification{Kind: NotifyTaskCompleted, TaskID: t.ID, Text: res.Data})
			case StatusFailed:
				notify(Notification{Kind: NotifyTaskFailed, TaskID: t.ID, Text: res.Err})
			}
		}
	}
	return res
}

// Package worker runs page scan tasks on a fixed pool of workers, with a
// priority queue, request rate limiting and a cap on in-flight work.
package worker

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/parse"
)

// ErrPoolClosed is returned by Submit after Shutdown has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one unit of work: a page to scan. Higher Priority values run
// first; the default priority is 1.
type Task struct {
	ID       string
	Priority int
	Page     *parse.Page
}

// Outcome is what an Executor produced for one page.
type Outcome struct {
	Findings        []db.Finding
	FormsFound      int
	EndpointsTested int
}

// Result reports how a task ended. Exactly one of Outcome and Err is
// meaningful; Crashed marks tasks that died with a worker panic.
type Result struct {
	Task    *Task
	Outcome *Outcome
	Err     error
	Crashed bool
}

// Executor performs the actual scan of a page. Implementations must be safe
// for concurrent use.
type Executor interface {
	Execute(ctx context.Context, page *parse.Page) (*Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, page *parse.Page) (*Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, page *parse.Page) (*Outcome, error) {
	return f(ctx, page)
}

type job struct {
	task    *Task
	results chan *Result
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	WorkerCount int `json:"workerCount"`
	Active      int `json:"active"`
	Queued      int `json:"queued"`
	InFlight    int `json:"inFlight"`
	Crashes     int `json:"crashes"`
}

// Pool dispatches queued tasks to a fixed set of workers. Dispatches are
// spaced by the configured rate limit delay and never exceed the in-flight
// request cap. A worker that panics is replaced at the same index and the
// task it held fails with Crashed set.
type Pool struct {
	executor    Executor
	workerCount int
	limiter     *rate.Limiter
	inflight    chan struct{}
	dispatch    chan job
	wake        chan struct{}
	drain       time.Duration

	mu     sync.Mutex
	queue  taskQueue
	seq    uint64
	closed bool

	active  atomic.Int64
	crashes atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	workerWG  sync.WaitGroup
	driverEnd chan struct{}
	log       zerolog.Logger
}

// NewPool builds and starts a pool sized from configuration.
func NewPool(executor Executor) *Pool {
	workerCount := viper.GetInt("scan.worker_count")
	if workerCount < 1 {
		workerCount = 1
	}
	maxInFlight := viper.GetInt("scan.max_concurrent_requests")
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	delay := time.Duration(viper.GetInt("scan.rate_limit_delay_ms")) * time.Millisecond

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		executor:    executor,
		workerCount: workerCount,
		limiter:     rate.NewLimiter(limit, 1),
		inflight:    make(chan struct{}, maxInFlight),
		dispatch:    make(chan job),
		wake:        make(chan struct{}, 1),
		drain:       time.Duration(viper.GetInt("scan.shutdown_drain_seconds")) * time.Second,
		queue:       taskQueue{},
		ctx:         ctx,
		cancel:      cancel,
		driverEnd:   make(chan struct{}),
		log:         log.With().Str("module", "worker").Logger(),
	}
	heap.Init(&p.queue)

	for i := 0; i < workerCount; i++ {
		p.workerWG.Add(1)
		go p.runWorker(i)
	}
	go p.runDriver()

	p.log.Debug().
		Int("workers", workerCount).
		Int("max_in_flight", maxInFlight).
		Dur("rate_limit_delay", delay).
		Msg("Worker pool started")
	return p
}

// Submit queues a task and returns a channel that will carry exactly one
// Result for it.
func (p *Pool) Submit(task *Task) (<-chan *Result, error) {
	results := make(chan *Result, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.seq++
	heap.Push(&p.queue, &queuedJob{
		job:      job{task: task, results: results},
		priority: task.Priority,
		seq:      p.seq,
	})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return results, nil
}

// PageTaskID builds the task id for the index-th page of a scan. Task ids
// must be unique across the pool, so the page index is always carried.
func PageTaskID(scanID string, index int) string {
	return fmt.Sprintf("%s::page-%d", scanID, index)
}

// ScanPages submits one task per page and waits for all of them to settle.
// Only results of tasks that succeeded are returned; failed tasks simply
// contribute nothing.
func (p *Pool) ScanPages(scanID string, pages []*parse.Page) []*Result {
	channels := make([]<-chan *Result, 0, len(pages))
	for i, page := range pages {
		ch, err := p.Submit(&Task{
			ID:       PageTaskID(scanID, i),
			Priority: 1,
			Page:     page,
		})
		if err != nil {
			continue
		}
		channels = append(channels, ch)
	}
	var results []*Result
	for _, ch := range channels {
		if result := <-ch; result.Err == nil {
			results = append(results, result)
		}
	}
	return results
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()
	return Stats{
		WorkerCount: p.workerCount,
		Active:      int(p.active.Load()),
		Queued:      queued,
		InFlight:    len(p.inflight),
		Crashes:     int(p.crashes.Load()),
	}
}

// Shutdown stops intake, lets queued and in-flight work drain for the
// configured grace period, then cancels whatever is left.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	done := make(chan struct{})
	go func() {
		<-p.driverEnd
		p.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.drain):
		p.log.Warn().Msg("Shutdown drain timed out, cancelling remaining work")
		p.cancel()
		<-done
	}
	p.cancel()
}

// runDriver pops the highest-priority job, waits out the rate limiter and
// the in-flight cap, and hands the job to a free worker.
func (p *Pool) runDriver() {
	defer close(p.driverEnd)
	defer close(p.dispatch)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			if p.closed {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			select {
			case <-p.wake:
			case <-p.ctx.Done():
				p.failPending()
				return
			}
			p.mu.Lock()
		}
		p.mu.Unlock()

		// Capacity is acquired before popping, so a high-priority task
		// submitted while the pool is saturated still jumps the queue.
		if err := p.limiter.Wait(p.ctx); err != nil {
			p.failPending()
			return
		}
		select {
		case p.inflight <- struct{}{}:
		case <-p.ctx.Done():
			p.failPending()
			return
		}

		p.mu.Lock()
		next := heap.Pop(&p.queue).(*queuedJob)
		p.mu.Unlock()

		select {
		case p.dispatch <- next.job:
		case <-p.ctx.Done():
			<-p.inflight
			next.job.results <- &Result{Task: next.job.task, Err: p.ctx.Err()}
			p.failPending()
			return
		}
	}
}

// failPending settles every still-queued job with the cancellation error.
func (p *Pool) failPending() {
	p.mu.Lock()
	pending := make([]*queuedJob, len(p.queue))
	copy(pending, p.queue)
	p.queue = p.queue[:0]
	p.mu.Unlock()
	for _, q := range pending {
		q.job.results <- &Result{Task: q.job.task, Err: p.ctx.Err()}
	}
}

func (p *Pool) runWorker(index int) {
	logger := p.log.With().Int("worker", index).Logger()
	var current *job
	defer func() {
		if r := recover(); r != nil {
			p.crashes.Add(1)
			logger.Error().Interface("panic", r).Msg("Worker crashed, spawning replacement")
			if current != nil {
				current.results <- &Result{
					Task:    current.task,
					Err:     fmt.Errorf("worker %d crashed: %v", index, r),
					Crashed: true,
				}
				p.active.Add(-1)
				<-p.inflight
			}
			p.workerWG.Add(1)
			go p.runWorker(index)
		}
		p.workerWG.Done()
	}()

	for j := range p.dispatch {
		j := j
		current = &j
		p.active.Add(1)

		outcome, err := p.executor.Execute(p.ctx, j.task.Page)
		result := &Result{Task: j.task, Outcome: outcome, Err: err}
		j.results <- result

		p.active.Add(-1)
		<-p.inflight
		current = nil
	}
}

package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/paper-ledger/internal/id"
	"github.com/atmx/paper-ledger/internal/model"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("trade: dispatcher closed")

// Executor is the part of Engine the dispatcher needs.
type Executor interface {
	Execute(ctx context.Context, side model.Side, ticker string, quantity int64) model.Result
}

// Intent is a trade request waiting to be executed.
type Intent struct {
	Ticker   string     `json:"ticker"`
	Side     model.Side `json:"side"`
	Quantity int64      `json:"quantity"`
}

// Job is a submitted Intent. Its Result becomes available once Done is
// closed.
type Job struct {
	ID        string
	Intent    Intent
	Submitted time.Time

	ctx    context.Context
	done   chan struct{}
	result model.Result
}

// Done is closed when the job has a result.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the job's result and whether it is available yet.
func (j *Job) Result() (model.Result, bool) {
	select {
	case <-j.done:
		return j.result, true
	default:
		return model.Result{}, false
	}
}

// Wait blocks until the job finishes or ctx is done. Giving up on the wait
// does not cancel the trade.
func (j *Job) Wait(ctx context.Context) (model.Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
}

// Dispatcher runs intents on a fixed pool of workers. Each call into the
// Executor is synchronous; the dispatcher only moves it off the caller's
// goroutine.
type Dispatcher struct {
	exec     Executor
	jobs     chan *Job
	g        errgroup.Group
	timeout  time.Duration
	onResult func(*Job)

	mu     sync.RWMutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJobTimeout bounds each job. Zero means no bound beyond the context
// given to Submit.
func WithJobTimeout(d time.Duration) DispatcherOption {
	return func(p *Dispatcher) { p.timeout = d }
}

// WithQueueSize sets how many submitted jobs may wait for a worker.
func WithQueueSize(n int) DispatcherOption {
	return func(p *Dispatcher) {
		if n >= 0 {
			p.jobs = make(chan *Job, n)
		}
	}
}

// OnResult registers fn to be called from the worker after each job.
func OnResult(fn func(*Job)) DispatcherOption {
	return func(p *Dispatcher) { p.onResult = fn }
}

// NewDispatcher starts workers goroutines executing jobs with exec.
func NewDispatcher(exec Executor, workers int, opts ...DispatcherOption) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		exec: exec,
		jobs: make(chan *Job, 64),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i := 0; i < workers; i++ {
		d.g.Go(d.work)
	}
	return d
}

// Submit queues in for execution. ctx bounds the job: cancelling it aborts
// a trade that has not started writing. Submit blocks while the queue is
// full.
func (d *Dispatcher) Submit(ctx context.Context, in Intent) (*Job, error) {
	if !in.Side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidQuantity, in.Side)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}

	job := &Job{
		ID:        id.New(),
		Intent:    in,
		Submitted: time.Now().UTC(),
		ctx:       ctx,
		done:      make(chan struct{}),
	}
	select {
	case d.jobs <- job:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued and running ones.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	return d.g.Wait()
}

func (d *Dispatcher) work() error {
	for job := range d.jobs {
		d.run(job)
	}
	return nil
}

func (d *Dispatcher) run(job *Job) {
	ctx := job.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	slog.DebugContext(ctx, "job started", "job_id", job.ID, "ticker", job.Intent.Ticker, "side", job.Intent.Side)
	job.result = d.exec.Execute(ctx, job.Intent.Side, job.Intent.Ticker, job.Intent.Quantity)
	close(job.done)

	if d.onResult != nil {
		d.onResult(job)
	}
}

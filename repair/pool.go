package repair

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned when Submit is called after shutdown.
var ErrPoolClosed = errors.New("repair: pool closed")

// Job tracks one queued extraction request to completion.
type Job struct {
	Request Request
	Outcome Outcome
	Err     error

	done chan struct{}
}

// Done is closed once the job reached a terminal outcome.
func (j *Job) Done() <-chan struct{} { return j.done }

// Pool drains a FIFO queue of extraction requests with a small worker
// set. Each worker owns its own Loop (and therefore its own identity
// generator) so blocking signals never cross-contaminate. The default
// deployment runs a single worker: parallel extraction across targets
// correlates blocking on a shared proxy pool.
type Pool struct {
	loops []*Loop
	queue chan *Job

	wg sync.WaitGroup

	// mu is held across the enqueue so Close never races a blocked send.
	mu     sync.Mutex
	closed bool
}

// NewPool builds a pool with one worker per loop.
func NewPool(loops []*Loop, queueSize int) *Pool {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		loops: loops,
		queue: make(chan *Job, queueSize),
	}
}

// Start launches the workers. Cancelling ctx aborts in-flight requests
// and drains the queue with cancelled outcomes.
func (p *Pool) Start(ctx context.Context) {
	for i, loop := range p.loops {
		p.wg.Add(1)
		go p.worker(ctx, i, loop)
	}
}

// Submit enqueues a request in FIFO order. It blocks while the queue
// is full.
func (p *Pool) Submit(req Request) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	job := &Job{Request: req, done: make(chan struct{})}
	p.queue <- job
	return job, nil
}

// Close stops intake and waits for queued work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int, loop *Loop) {
	defer p.wg.Done()

	for job := range p.queue {
		if ctx.Err() != nil {
			job.Outcome = Outcome{State: StateGivenUp, Reason: ReasonCancelled}
			job.Err = ErrCancelled
			close(job.done)
			continue
		}

		slog.Debug("worker picked request",
			slog.Int("worker", id),
			slog.String("request", job.Request.ID),
			slog.String("site", job.Request.Site.Name),
		)
		job.Outcome, job.Err = loop.Run(ctx, job.Request)
		close(job.done)
	}
}

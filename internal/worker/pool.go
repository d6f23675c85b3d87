package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// ErrPoolClosed is returned by Submit after Stop
var ErrPoolClosed = errors.New("worker pool closed")

// Job is a unit of work. The context is cancelled when the pool stops.
type Job func(ctx context.Context)

// Pool is a fixed-size worker pool with a FIFO backlog
type Pool struct {
	size   int
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue
	busy    int
	started bool
	closed  bool

	// OnBacklogChange is called with the backlog length after every change, outside the lock.
	// Set it before Start.
	OnBacklogChange func(depth int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Pending int `json:"pending"`
}

// NewPool creates a pool with size workers. size below 1 is treated as 1.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:    size,
		logger:  logger,
		backlog: queue.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started", slog.Int("workers", p.size))
}

// Submit queues a job. It never blocks on worker availability.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	p.backlog.Add(job)
	depth := p.backlog.Length()
	p.cond.Signal()
	p.mu.Unlock()

	p.notifyBacklog(depth)
	return nil
}

// Stop cancels running jobs, discards the backlog and waits for the workers.
// It returns the number of discarded jobs.
func (p *Pool) Stop() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	dropped := p.backlog.Length()
	p.backlog = queue.New()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.notifyBacklog(0)

	if dropped > 0 {
		p.logger.Warn("Discarded queued sessions on shutdown", slog.Int("dropped", dropped))
	}
	p.logger.Debug("Worker pool stopped")

	return dropped
}

// Stats returns the current worker and backlog counts
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Workers: p.size,
		Busy:    p.busy,
		Pending: p.backlog.Length(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.backlog.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}

		job := p.backlog.Remove().(Job)
		depth := p.backlog.Length()
		p.busy++
		p.mu.Unlock()

		p.notifyBacklog(depth)
		p.run(id, job)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

// run executes a job, keeping the worker alive if the job panics
func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Session job panicked",
				slog.Int("worker_id", id),
				slog.Any("panic", r),
			)
		}
	}()

	job(p.ctx)
}

func (p *Pool) notifyBacklog(depth int) {
	if p.OnBacklogChange != nil {
		p.OnBacklogChange(depth)
	}
}

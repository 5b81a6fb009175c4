package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDispatcherClosed is returned for jobs submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher bounds concurrent completions and serves users round-robin, so
// one user sending many prompts cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job
	fallback string
	logger   *slog.Logger

	mu        sync.Mutex
	queues    map[string]*userQueue // pending jobs per user
	ready     *list.List            // users with pending jobs, in service order
	positions map[string]*list.Element

	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(completer Completer, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, completer, cfg.Fallback),
		JobQueue:  make(chan Job, queueSize),
		fallback:  cfg.Fallback,
		logger:    logger,
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Complete queues prompt for the user tagged on ctx (see WithUser) and waits
// for a worker to answer. When ctx ends first, or the dispatcher is closed,
// the configured fallback text is returned.
func (d *Dispatcher) Complete(ctx context.Context, prompt string) string {
	reply, err := d.Submit(ctx, UserFromContext(ctx), prompt)
	if err != nil {
		d.logger.Warn("completion not dispatched", "error", err)
		return d.fallback
	}
	return reply
}

// Submit queues one completion for userID and waits for its result.
func (d *Dispatcher) Submit(ctx context.Context, userID, prompt string) (string, error) {
	job := Job{ctx: ctx, userID: userID, prompt: prompt, result: make(chan string, 1)}
	select {
	case d.JobQueue <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.done:
		return "", ErrDispatcherClosed
	}
	select {
	case reply := <-job.result:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.done:
		return "", ErrDispatcherClosed
	}
}

// Close stops dispatching. Running completions finish; queued ones are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.pool.close()
	})
}

// Running reports the number of live workers.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

func (d *Dispatcher) run() {
	for {
		d.drain()
		if !d.hasPending() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.done:
				return
			}
			continue
		}
		// Wait for a worker before choosing the job, so users who queue up
		// meanwhile still get their turn.
		workerChan := d.pool.acquire()
		if workerChan == nil {
			return
		}
		d.drain()
		if !d.dispatchOne(workerChan) {
			d.pool.Release(workerChan)
		}
	}
}

// drain moves everything waiting on JobQueue into the per-user queues.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) hasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.userID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.userID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.userID] = d.ready.PushBack(job.userID)
}

// dispatchOne hands the next job of the first ready user to workerChan and
// moves that user to the back of the list.
func (d *Dispatcher) dispatchOne(workerChan chan Job) bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	d.logger.Debug("dispatch completion", "user_id", userID, "running", d.pool.Running())
	workerChan <- job
	return true
}

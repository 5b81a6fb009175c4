package worker

// Worker runs jobs handed to it by the pool until it receives a stop job.
type Worker struct {
	pool       *jobChannelPool
	completer  Completer
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, completer Completer) *Worker {
	return &Worker{
		pool:       pool,
		completer:  completer,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	// The caller may have given up while the job waited in the queue.
	if job.ctx.Err() != nil {
		job.result <- w.pool.fallback
		return
	}
	job.result <- w.completer.Complete(job.ctx, job.prompt)
}

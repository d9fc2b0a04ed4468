package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Queue fans identifiers out to a bounded worker pool. Distinct identifiers
// run in parallel; the stage order within one identifier is the processor's
// job. Shutdown drains what was already enqueued unless the run context is
// cancelled first.
type Queue struct {
	proc    *Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan string
	out  chan Outcome
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool

	fatalMu sync.Mutex
	fatal   error
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func WithStageTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(ctx context.Context, proc *Processor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan string, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.out = make(chan Outcome, cap(q.ch))
	q.start(ctx)
	return q
}

func (q *Queue) start(ctx context.Context) {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for ada := range q.ch {
					if ctx.Err() != nil || q.Fatal() != nil {
						q.out <- Outcome{ADA: ada, Disposition: DispositionSkipped, Err: context.Canceled}
						continue
					}

					procCtx, cancel := context.WithTimeout(ctx, q.timeout)
					outcome, err := q.proc.Process(procCtx, ada)
					cancel()

					if err != nil && ctx.Err() == nil {
						// storage-fatal: stop accepting work, the run aborts
						q.setFatal(err)
						q.logger.Error("run.fatal", "worker_id", workerID, "ada", ada, "err", err)
					}
					q.out <- outcome
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue hands one identifier to the pool, blocking for backpressure when
// the buffer is full. Returns false once the queue is shutting down or the
// run has gone fatal. The lock is held across the send so Shutdown cannot
// close the channel between the closed check and the send.
func (q *Queue) Enqueue(ctx context.Context, ada string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.Fatal() != nil {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case q.ch <- ada:
		return true
	}
}

// Outcomes exposes per-identifier results as they finish.
func (q *Queue) Outcomes() <-chan Outcome { return q.out }

// Fatal reports the first run-aborting error, if any.
func (q *Queue) Fatal() error {
	q.fatalMu.Lock()
	defer q.fatalMu.Unlock()
	return q.fatal
}

func (q *Queue) setFatal(err error) {
	q.fatalMu.Lock()
	defer q.fatalMu.Unlock()
	if q.fatal == nil {
		q.fatal = err
	}
}

// Shutdown stops intake, waits for in-flight work, then closes the outcome
// channel.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.wg.Wait()
	close(q.out)
	q.logger.Debug("queue drained")
}

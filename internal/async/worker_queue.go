package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
)

var _ Queue = (*WorkerQueue)(nil)

// WorkerQueue runs jobs on a fixed pool of workers over a bounded channel.
type WorkerQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration
	keep    int

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// life guards ch and closed; senders hold it shared so Shutdown never closes under them
	life   sync.RWMutex
	closed bool

	mu       sync.Mutex
	statuses map[uuid.UUID]*JobStatus
	order    []uuid.UUID
}

type Option func(*WorkerQueue)

func WithWorkers(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *WorkerQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithStatusHistory bounds how many job statuses are remembered.
func WithStatusHistory(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.keep = n
		}
	}
}

func NewWorkerQueue(handler Handler, logger *slog.Logger, opts ...Option) *WorkerQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &WorkerQueue{
		handler:  handler,
		logger:   logger,
		workers:  2,
		timeout:  time.Minute,
		keep:     256,
		ch:       make(chan Job, 64),
		statuses: make(map[uuid.UUID]*JobStatus),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *WorkerQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("async.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Debug("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *WorkerQueue) run(workerID int, job Job) {
	q.setState(job.ID, JobRunning, nil)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	if job.RequestID != "" {
		ctx = common.WithRequestID(ctx, job.RequestID)
	}
	err := q.handler.Handle(ctx, job)
	cancel()

	if err != nil {
		q.setState(job.ID, JobFailed, err)
		q.logger.Error("async.job.failed",
			"worker_id", workerID, "job_id", job.ID,
			"company_id", job.CompanyID, "product_id", job.ProductID, "error", err,
		)
		return
	}
	q.setState(job.ID, JobDone, nil)
	q.logger.Info("async.job.ok",
		"worker_id", workerID, "job_id", job.ID,
		"company_id", job.CompanyID, "product_id", job.ProductID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// Enqueue accepts a job, blocking under ctx while the queue is full.
func (q *WorkerQueue) Enqueue(ctx context.Context, job Job) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}

	q.life.RLock()
	defer q.life.RUnlock()
	if q.closed {
		q.logger.Warn("async.enqueue.closed", "job_id", job.ID)
		return uuid.Nil, ErrQueueClosed
	}
	q.mu.Lock()
	q.remember(job)
	q.mu.Unlock()

	select {
	case q.ch <- job:
	default:
		q.logger.Warn("async.enqueue.backpressure", "job_id", job.ID)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			q.mu.Lock()
			q.forget(job.ID)
			q.mu.Unlock()
			return uuid.Nil, ctx.Err()
		}
	}
	q.logger.Info("async.enqueue.ok", "job_id", job.ID, "company_id", job.CompanyID, "product_id", job.ProductID)
	return job.ID, nil
}

func (q *WorkerQueue) Status(id uuid.UUID) (JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Shutdown stops intake and waits for queued jobs to finish or ctx to expire.
func (q *WorkerQueue) Shutdown(ctx context.Context) {
	q.life.Lock()
	if q.closed {
		q.life.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.life.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("async.shutdown.interrupted")
	case <-done:
		q.logger.Info("async.shutdown.ok")
	}
}

// remember and forget expect q.mu held.
func (q *WorkerQueue) remember(job Job) {
	q.statuses[job.ID] = &JobStatus{
		ID: job.ID, CompanyID: job.CompanyID, ProductID: job.ProductID,
		State: JobPending, EnqueuedAt: job.SubmittedAt,
	}
	q.order = append(q.order, job.ID)
	for len(q.order) > q.keep {
		delete(q.statuses, q.order[0])
		q.order = q.order[1:]
	}
}

func (q *WorkerQueue) forget(id uuid.UUID) {
	delete(q.statuses, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *WorkerQueue) setState(id uuid.UUID, s State, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[id]
	if !ok {
		return
	}
	st.State = s
	if err != nil {
		st.Error = err.Error()
	}
	if s == JobDone || s == JobFailed {
		now := time.Now().UTC()
		st.FinishedAt = &now
	}
}

package jobs

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/citizenweb/kraken/am"
	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/storage"
)

// Func is the unit of work a job executes. A nil return records the job's
// success code; errors.ErrInvalidRequest (wrapped or bare) records 400; any
// other error records 500. The passed context is cancelled on runner
// shutdown or, when configured, after the per-job timeout.
type Func func(ctx context.Context, job *Job) error

type task struct {
	job         *Job
	fn          Func
	successCode int
}

// SubmitOption adjusts how a single job is recorded.
type SubmitOption func(*task)

// WithSuccessCode overrides the status persisted on normal completion.
// Useful for operations whose REST semantics are 200 or 204 rather than 201.
func WithSuccessCode(code int) SubmitOption {
	return func(t *task) { t.successCode = code }
}

// Runner executes submitted jobs on a fixed pool of workers. Submission is
// non-blocking: when the queue is full the job is rejected with ErrQueueFull
// rather than stalling the HTTP request that asked for it.
type Runner struct {
	store   storage.Store
	cfg     am.JobsConfig
	logger  *zap.SugaredLogger
	tasks   chan *task
	timeout time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a stopped runner. Zero or negative pool settings fall
// back to the configuration defaults.
func NewRunner(store storage.Store, cfg am.JobsConfig, logger *zap.SugaredLogger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = am.DefaultJobWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = am.DefaultJobQueueSize
	}
	var timeout time.Duration
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Runner{
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("jobs"),
		tasks:   make(chan *task, cfg.QueueSize),
		timeout: timeout,
	}
}

// Start launches the worker pool. Calling Start on a running runner is a
// no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Infow("Job runner started",
		"workers", r.cfg.Workers,
		"queue_size", r.cfg.QueueSize,
	)
}

// Stop cancels in-flight job contexts and waits for the workers to exit.
// Queued jobs that have not started are abandoned; their records keep
// status 200 until the next restart flushes the store.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Job runner stopped")
}

// Submit persists a fresh job record with status 200 and queues the callable
// for execution. It returns the job id immediately; the callable runs on a
// pool worker. Returns ErrQueueFull when every worker is busy and the queue
// has no room, in which case no job record is left behind.
func (r *Runner) Submit(ctx context.Context, fn Func, opts ...SubmitOption) (string, error) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return "", errors.New("job runner is not running")
	}

	t := &task{
		job: &Job{
			ID:     NewID(),
			store:  r.store,
			logger: r.logger,
		},
		fn:          fn,
		successCode: DefaultSuccessCode,
	}
	for _, opt := range opts {
		opt(t)
	}

	// The record must be observable before the callable runs so a client
	// can poll the moment it receives the job id.
	if err := r.store.SetField(ctx, t.job.key(), "status", StatusRunning); err != nil {
		return "", errors.Wrap(err, "persisting job record")
	}

	select {
	case r.tasks <- t:
		jobsSubmitted.Inc()
		jobsQueued.Inc()
		return t.job.ID, nil
	default:
		if err := r.store.Delete(ctx, t.job.key()); err != nil {
			r.logger.Warnw("Failed to remove rejected job record",
				"job_id", t.job.ID,
				"error", err,
			)
		}
		jobsRejected.Inc()
		return "", errors.WithHint(errors.ErrQueueFull,
			"retry after running jobs complete")
	}
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-r.tasks:
			jobsQueued.Dec()
			r.execute(t)
		}
	}
}

func (r *Runner) execute(t *task) {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	err := r.run(ctx, t)
	status := t.successCode
	switch {
	case err == nil:
		r.logger.Debugw("Job completed",
			"job_id", t.job.ID,
			"status", status,
			"duration", time.Since(started),
		)
	case errors.IsInvalidRequest(err):
		status = StatusBadRequest
		r.logger.Infow("Job rejected request",
			"job_id", t.job.ID,
			"error", err,
		)
	default:
		status = StatusError
		r.logger.Errorf("Job %s failed: %+v", t.job.ID, err)
	}

	// Record the terminal status and start the retention clock. Uses a
	// background context: runner shutdown must not lose a finished job's
	// outcome mid-write.
	pipe := r.store.Pipeline()
	pipe.SetField(t.job.key(), "status", status)
	pipe.Expire(t.job.key(), TTL)
	if perr := pipe.Exec(context.Background()); perr != nil {
		r.logger.Errorw("Failed to persist job outcome",
			"job_id", t.job.ID,
			"status", status,
			"error", perr,
		)
	}
	jobsCompleted.WithLabelValues(strconv.Itoa(status)).Inc()
	jobDuration.Observe(time.Since(started).Seconds())
}

// run invokes the callable, converting a panic into an ordinary failure so
// one bad job cannot take the pool down.
func (r *Runner) run(ctx context.Context, t *task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("job panicked: %v", rec)
		}
	}()
	return t.fn(ctx, t.job)
}

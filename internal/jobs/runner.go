package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fastprodman/tcgpacks/internal/config"
	"github.com/fastprodman/tcgpacks/internal/notify"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
)

type entry struct {
	job  Job
	snap Snapshot
	// closed once task_submitted is out, so it always precedes the outcome
	ready chan struct{}
}

type Runner struct {
	cfg  config.JobsConfig
	sink notify.Sink
	log  *slog.Logger
	now  func() time.Time

	queue chan string

	mu       sync.Mutex
	active   map[string]*entry
	finished *lru.Cache
	closed   bool
}

type Option func(*Runner)

func WithSink(s notify.Sink) Option {
	return func(r *Runner) {
		if s != nil {
			r.sink = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRunner(cfg config.JobsConfig, opts ...Option) (*Runner, error) {
	if cfg.Workers <= 0 {
		return nil, errors.New("workers must be positive")
	}

	if cfg.QueueSize <= 0 {
		return nil, errors.New("queue size must be positive")
	}

	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)

	finished, err := lru.New(max(cfg.RetainFinished, 1))
	if err != nil {
		return nil, fmt.Errorf("finished jobs cache: %w", err)
	}

	r := &Runner{
		cfg:      cfg,
		sink:     notify.Nop{},
		log:      slog.Default(),
		now:      time.Now,
		queue:    make(chan string, cfg.QueueSize),
		active:   make(map[string]*entry),
		finished: finished,
	}

	for _, o := range opts {
		o(r)
	}

	return r, nil
}

// Submit enqueues j and returns its request id. It never waits for room in
// the queue.
func (r *Runner) Submit(ctx context.Context, j Job) (string, error) {
	if j.Run == nil {
		return "", ErrInvalidJob
	}

	now := r.now()
	id := uuid.NewString()

	snap := Snapshot{
		ID:        id,
		Type:      j.Type,
		UserID:    j.UserID,
		State:     Submitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := &entry{job: j, snap: snap, ready: make(chan struct{})}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return "", ErrRunnerClosed
	}

	select {
	case r.queue <- id:
		r.active[id] = e
	default:
		r.mu.Unlock()

		return "", ErrQueueFull
	}

	r.mu.Unlock()

	r.sink.Publish(ctx, notify.Event{
		Type:      notify.TaskSubmitted,
		UserID:    j.UserID,
		RequestID: id,
		TaskType:  j.Type,
	})
	close(e.ready)

	return id, nil
}

// Status returns the current snapshot of a job. Finished jobs are kept for
// a bounded number of later jobs and then forgotten.
func (r *Runner) Status(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[id]
	if ok {
		return e.snap, nil
	}

	v, ok := r.finished.Get(id)
	if ok {
		return v.(Snapshot), nil
	}

	return Snapshot{}, ErrJobNotFound
}

// Run starts the workers and blocks until ctx is done. Jobs still queued at
// that point are failed.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range r.cfg.Workers {
		g.Go(func() error {
			r.work(gctx, i)

			return nil
		})
	}

	err := g.Wait()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.drain()

	return err
}

// Close stops accepting new jobs.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Runner) work(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.process(ctx, worker, id)
		}
	}
}

func (r *Runner) process(ctx context.Context, worker int, id string) {
	r.mu.Lock()
	e, ok := r.active[id]
	r.mu.Unlock()

	if !ok {
		return
	}

	// task_submitted is always out before any terminal event
	<-e.ready

	if ctx.Err() != nil {
		r.shutdown(id)

		return
	}

	log := r.log.With("request_id", id, "task_type", e.job.Type, "user_id", e.job.UserID, "worker", worker)

	var (
		result any
		err    error
	)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.update(id, func(s *Snapshot) {
			s.State = Processing
			s.Attempts = attempt
		})

		result, err = r.attempt(ctx, e.job)
		if err == nil {
			break
		}

		if IsTerminal(err) || ctx.Err() != nil {
			break
		}

		log.Warn("job attempt failed", "attempt", attempt, "error", err)

		if attempt == r.cfg.MaxAttempts {
			break
		}

		serr := sleep(ctx, r.cfg.RetryBackoff*time.Duration(attempt))
		if serr != nil {
			err = errors.Join(err, serr)

			break
		}
	}

	if err != nil {
		msg := genericErrorText
		if IsTerminal(err) {
			msg = err.Error()
			log.Info("job failed", "error", err)
		} else {
			log.Error("job failed", "error", err)
		}

		r.finish(ctx, id, func(s *Snapshot) {
			s.State = Failed
			s.Error = msg
		})

		return
	}

	log.Info("job completed")

	r.finish(ctx, id, func(s *Snapshot) {
		s.State = Completed
		s.Result = result
	})
}

// attempt runs the job once under the per-attempt timeout; panics become
// retryable errors.
func (r *Runner) attempt(ctx context.Context, j Job) (result any, err error) {
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		p := recover()
		if p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()

	return j.Run(ctx)
}

func (r *Runner) update(id string, fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[id]
	if !ok {
		return
	}

	fn(&e.snap)
	e.snap.UpdatedAt = r.now()
}

func (r *Runner) finish(ctx context.Context, id string, fn func(*Snapshot)) {
	r.mu.Lock()

	e, ok := r.active[id]
	if !ok {
		r.mu.Unlock()

		return
	}

	fn(&e.snap)
	e.snap.UpdatedAt = r.now()
	snap := e.snap

	delete(r.active, id)
	r.finished.Add(id, snap)

	r.mu.Unlock()

	ev := notify.Event{
		UserID:    snap.UserID,
		RequestID: snap.ID,
		TaskType:  snap.Type,
	}

	if snap.State == Completed {
		ev.Type = notify.TaskComplete
		ev.Result = snap.Result
	} else {
		ev.Type = notify.TaskFailed
		ev.Error = snap.Error
	}

	// the run context may already be cancelled; delivery is best-effort
	r.sink.Publish(context.WithoutCancel(ctx), ev)
}

func (r *Runner) drain() {
	for {
		select {
		case id := <-r.queue:
			r.mu.Lock()
			e, ok := r.active[id]
			r.mu.Unlock()

			if ok {
				<-e.ready
				r.shutdown(id)
			}
		default:
			return
		}
	}
}

func (r *Runner) shutdown(id string) {
	r.finish(context.Background(), id, func(s *Snapshot) {
		s.State = Failed
		s.Error = "Service shutting down"
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/go-co-op/gocron/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler executes one delivery of a job. Delivery is at-least-once, so handlers must be idempotent.
type Handler func(ctx context.Context, job models.Job) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job is dead-lettered immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Config struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	Lease        time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

type periodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// Worker pulls due jobs from the queue and runs their handlers with bounded concurrency.
type Worker struct {
	repo     repositories.JobRepository
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	handlers map[models.JobType]Handler
	periodic []periodicTask

	mu    sync.Mutex
	sched gocron.Scheduler
}

func NewWorker(repo repositories.JobRepository, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Worker{
		repo:     repo,
		cfg:      cfg,
		logger:   logger.Named("worker"),
		now:      time.Now,
		handlers: make(map[models.JobType]Handler),
	}
}

func (w *Worker) Handle(jobType models.JobType, h Handler) {
	w.handlers[jobType] = h
}

// Every registers a periodic task run by the worker's scheduler alongside polling.
func (w *Worker) Every(name string, interval time.Duration, fn func(ctx context.Context) error) {
	w.periodic = append(w.periodic, periodicTask{name: name, interval: interval, fn: fn})
}

func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// BackoffDelay returns the wait before the retry that follows the given attempt (1-based).
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	b := retry.WithCappedDuration(max, retry.NewExponential(base))
	delay := base
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}

// RunOnce claims and executes due jobs until the queue has none left. It returns how many ran.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		claimed, err := w.repo.ClaimDue(ctx, w.now(), w.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to claim jobs: %w", err)
		}
		if len(claimed) == 0 {
			return total, nil
		}

		var g errgroup.Group
		g.SetLimit(w.cfg.Concurrency)
		for _, job := range claimed {
			g.Go(func() error {
				w.execute(ctx, job)
				return nil
			})
		}
		_ = g.Wait()
		total += len(claimed)

		if len(claimed) < w.cfg.BatchSize || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (w *Worker) execute(ctx context.Context, job models.Job) {
	log := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("tournament_id", job.TournamentID.String()),
		zap.Int("attempt", job.Attempts),
	)

	start := time.Now()
	err := w.invoke(ctx, job)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	// Bookkeeping must survive shutdown of the polling context.
	bctx := context.WithoutCancel(ctx)
	now := w.now()

	if err == nil {
		if cErr := w.repo.Complete(bctx, job.ID, now); cErr != nil {
			log.Error("failed to mark job done", zap.Error(cErr))
			return
		}
		metrics.JobOutcomes.WithLabelValues(string(job.Type), "done").Inc()
		log.Debug("job done")
		return
	}

	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		if dErr := w.repo.DeadLetter(bctx, job.ID, err.Error(), now); dErr != nil {
			log.Error("failed to dead-letter job", zap.Error(dErr), zap.NamedError("job_error", err))
			return
		}
		metrics.JobOutcomes.WithLabelValues(string(job.Type), "dead").Inc()
		metrics.DeadLetteredJobs.Inc()
		log.Error("job moved to dead letter", zap.Error(err), zap.Bool("permanent", IsPermanent(err)))
		return
	}

	delay := BackoffDelay(w.cfg.BackoffBase, w.cfg.BackoffMax, job.Attempts)
	if rErr := w.repo.Retry(bctx, job.ID, now.Add(delay), err.Error()); rErr != nil {
		log.Error("failed to reschedule job", zap.Error(rErr), zap.NamedError("job_error", err))
		return
	}
	metrics.JobOutcomes.WithLabelValues(string(job.Type), "retry").Inc()
	log.Warn("job failed, retry scheduled", zap.Error(err), zap.Duration("delay", delay))
}

func (w *Worker) invoke(ctx context.Context, job models.Job) (err error) {
	h, ok := w.handlers[job.Type]
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for job type %s", job.Type))
	}

	hctx, cancel := context.WithTimeout(ctx, w.cfg.Lease)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panicked: %v", p)
		}
	}()
	return h(hctx, job)
}

// Reclaim returns jobs whose lease expired (the worker that claimed them died) to the queue.
func (w *Worker) Reclaim(ctx context.Context) (int, error) {
	n, err := w.repo.ReclaimStale(ctx, w.now().Add(-w.cfg.Lease))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Warn("reclaimed jobs with expired lease", zap.Int("count", n))
	}
	return n, nil
}

// Start schedules polling, lease reclaim and the registered periodic tasks.
func (w *Worker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	tasks := append([]periodicTask{
		{name: "poll", interval: w.cfg.PollInterval, fn: func(ctx context.Context) error {
			_, err := w.RunOnce(ctx)
			return err
		}},
		{name: "reclaim", interval: w.cfg.Lease / 2, fn: func(ctx context.Context) error {
			_, err := w.Reclaim(ctx)
			return err
		}},
	}, w.periodic...)

	for _, task := range tasks {
		_, err := sched.NewJob(
			gocron.DurationJob(task.interval),
			gocron.NewTask(func() {
				if ctx.Err() != nil {
					return
				}
				if err := task.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
					w.logger.Error("periodic task failed", zap.String("task", task.name), zap.Error(err))
				}
			}),
			gocron.WithName(task.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("failed to schedule %s: %w", task.name, err)
		}
	}

	sched.Start()
	w.mu.Lock()
	w.sched = sched
	w.mu.Unlock()

	w.logger.Info("worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("lease", w.cfg.Lease),
	)
	return nil
}

// Stop waits for running tasks to return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	sched := w.sched
	w.sched = nil
	w.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Shutdown()
}

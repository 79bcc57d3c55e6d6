// Package scanrunner claims queued scans and hands them to the orchestrator on a fixed
// pool of workers.
package scanrunner

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"complylaw/internal/domain"
	"complylaw/internal/ports"
)

// ReapReason is recorded on scans found RUNNING past their deadline.
const ReapReason = "job deadline exceeded"

// Processor runs scans. Process claims a specific scan first; Run takes one already claimed.
type Processor interface {
	Process(ctx context.Context, scanID int64) error
	Run(ctx context.Context, job domain.ScanJob) error
}

// Queue is the claim side of the job store.
type Queue interface {
	ClaimNext(ctx context.Context) (domain.ScanJob, bool, error)
}

type Options struct {
	Workers      int
	PollInterval time.Duration
	// JobTimeout bounds one scan from claim to terminal state.
	JobTimeout time.Duration
	// StaleAfter is how long a scan may stay RUNNING before the reaper fails it.
	// It should exceed JobTimeout so that the owning worker fails the scan itself.
	StaleAfter   time.Duration
	ReapInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 15 * time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = o.JobTimeout + 5*time.Minute
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = time.Minute
	}
	return o
}

type Runner struct {
	queue  Queue
	reaper ports.StaleReaper
	proc   Processor
	opts   Options
	clock  clockwork.Clock
	log    *zap.Logger
}

// New builds a Runner. reaper may be nil.
func New(queue Queue, reaper ports.StaleReaper, proc Processor, opts Options, clock clockwork.Clock, log *zap.Logger) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{queue: queue, reaper: reaper, proc: proc, opts: opts.withDefaults(), clock: clock, log: log}
}

// Run starts the dispatcher, the workers and the reaper, and blocks until ctx is done
// and every worker has returned. The dispatcher only claims a scan when a worker is idle.
func (r *Runner) Run(ctx context.Context) {
	n := r.opts.Workers
	if n < 1 {
		return
	}
	jobsCh := make(chan domain.ScanJob, n)
	idle := make(chan struct{}, n)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobsCh)
		r.dispatch(ctx, jobsCh, idle)
	}()

	if r.reaper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.reap(ctx)
		}()
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			log := r.log.With(zap.Int("worker", idx))
			for job := range jobsCh {
				r.runJob(ctx, job, log)
				<-idle
			}
		}(i)
	}
	r.log.Info("scan workers started", zap.Int("workers", n))
	wg.Wait()
	r.log.Info("scan workers stopped")
}

func (r *Runner) dispatch(ctx context.Context, jobsCh chan<- domain.ScanJob, idle chan struct{}) {
	ticker := r.clock.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case idle <- struct{}{}:
		case <-ctx.Done():
			return
		}
		// select picks at random when both cases are ready; never claim during shutdown.
		if ctx.Err() != nil {
			<-idle
			return
		}
		job, found, err := r.queue.ClaimNext(ctx)
		if found {
			jobsCh <- job
			continue
		}
		<-idle
		if err != nil && ctx.Err() == nil {
			r.log.Error("job claim error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (r *Runner) runJob(ctx context.Context, job domain.ScanJob, log *zap.Logger) {
	jctx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()
	start := r.clock.Now()
	if err := r.proc.Run(jctx, job); err != nil {
		log.Error("scan failed", zap.Int64("scan_id", job.ID), zap.String("public_id", job.PublicID), zap.Error(err))
		return
	}
	log.Debug("scan finished", zap.Int64("scan_id", job.ID), zap.Duration("took", r.clock.Since(start)))
}

func (r *Runner) reap(ctx context.Context) {
	ticker := r.clock.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := r.reaper.ReapStale(ctx, r.opts.StaleAfter, ReapReason)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error("reap stale scans", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				r.log.Warn("reaped stale scans", zap.Int("count", n))
			}
		}
	}
}

// ProcessInline claims and runs one scan in the calling goroutine under the same job
// deadline as the workers.
func (r *Runner) ProcessInline(ctx context.Context, scanID int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()
	return r.proc.Process(ctx, scanID)
}

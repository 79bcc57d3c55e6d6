// Package orchestrator drives one claimed scan through its Check Units: it publishes
// progress, checkpoints the record after every unit, scores the findings and finalizes
// the scan exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"complylaw/internal/checks"
	"complylaw/internal/domain"
	"complylaw/internal/live"
	"complylaw/internal/ports"
	"complylaw/internal/tiers"
)

// Progress milestones.
const (
	progressConnecting = 5
	progressChecksSpan = 90
	progressCheckCap   = 95
	progressReporting  = 98

	stepConnecting = "Connecting..."
	stepReporting  = "Generating report..."

	// MaxParallelism bounds concurrent Check Units within one scan.
	MaxParallelism = 4
)

var errInterrupted = errors.New("scan interrupted")

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Jobs      ports.JobRepository
	Firms     ports.Firms
	Tiers     *tiers.Selector
	Publisher ports.Publisher
	// External may be nil.
	External ports.ExternalScanner
	// Catalog maps check identifiers to remediation hints.
	Catalog map[string]domain.Recommendation
	Clock   clockwork.Clock
	Log     *zap.Logger
}

// Options tune a run.
type Options struct {
	UnitTimeout     time.Duration
	Parallelism     int
	VerboseFindings bool
	// RiskJitter returns display jitter added to computed risk scores. Nil means none.
	RiskJitter     func() float64
	PublishTimeout time.Duration
	PersistRetries uint64
	PersistBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.UnitTimeout <= 0 {
		o.UnitTimeout = 15 * time.Second
	}
	if o.Parallelism < 1 {
		o.Parallelism = 1
	}
	if o.Parallelism > MaxParallelism {
		o.Parallelism = MaxParallelism
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	if o.PersistRetries == 0 {
		o.PersistRetries = 3
	}
	if o.PersistBackoff <= 0 {
		o.PersistBackoff = 100 * time.Millisecond
	}
	return o
}

// Observer is notified after a scan is finalized as COMPLETED.
type Observer interface {
	ScanCompleted(ctx context.Context, job domain.ScanJob) error
}

type ObserverFunc func(ctx context.Context, job domain.ScanJob) error

func (f ObserverFunc) ScanCompleted(ctx context.Context, job domain.ScanJob) error { return f(ctx, job) }

type Orchestrator struct {
	deps Deps
	opts Options

	mu        sync.Mutex
	running   map[int64]context.CancelCauseFunc
	observers []Observer
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = live.Discard{}
	}
	return &Orchestrator{deps: deps, opts: opts.withDefaults(), running: make(map[int64]context.CancelCauseFunc)}
}

// Register adds a post-completion observer. Observers run in registration order.
func (o *Orchestrator) Register(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Interrupt cancels the in-flight I/O of a scan running in this process. It reports
// whether such a run existed.
func (o *Orchestrator) Interrupt(scanID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.running[scanID]
	if ok {
		cancel(errInterrupted)
	}
	return ok
}

// Process claims a PENDING scan and runs it. A scan claimed elsewhere is left alone.
func (o *Orchestrator) Process(ctx context.Context, scanID int64) error {
	var job domain.ScanJob
	err := o.persist(ctx, func(ctx context.Context) error {
		var err error
		job, err = o.deps.Jobs.Claim(ctx, scanID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrClaimConflict):
		o.deps.Log.Debug("scan already claimed", zap.Int64("scan_id", scanID))
		return nil
	case err != nil:
		return fmt.Errorf("claim scan %d: %w", scanID, err)
	}
	return o.Run(ctx, job)
}

// Run drives an already claimed scan to a terminal state. The returned error is non-nil
// only when the scan record could not be written, in which case the scan was marked FAILED.
func (o *Orchestrator) Run(ctx context.Context, job domain.ScanJob) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	o.mu.Lock()
	o.running[job.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, job.ID)
		o.mu.Unlock()
	}()

	r := &run{
		o:   o,
		job: job,
		log: o.deps.Log.With(zap.Int64("scan_id", job.ID), zap.String("public_id", job.PublicID), zap.String("domain", job.Domain)),
	}
	return r.execute(ctx)
}

// persist retries transient store errors. Guard violations are returned at once.
func (o *Orchestrator) persist(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(o.opts.PersistRetries, retry.NewExponential(o.opts.PersistBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || permanent(err) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotRunning) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrClaimConflict)
}

// progressAt is the progress reported while the i-th of n units runs.
func progressAt(i, n int) int {
	if n <= 0 {
		return progressCheckCap
	}
	p := progressConnecting + (i+1)*progressChecksSpan/n
	if p > progressCheckCap {
		p = progressCheckCap
	}
	return p
}

func tierLabel(t domain.Tier) string {
	s := string(t)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatRisk(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// window runs units concurrently and returns their findings in input order.
func (o *Orchestrator) window(ctx context.Context, units []checks.Unit, target string) []domain.Finding {
	out := make([]domain.Finding, len(units))
	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for i, u := range units {
		g.Go(func() error {
			out[i] = checks.Execute(ctx, u, target, o.opts.UnitTimeout)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

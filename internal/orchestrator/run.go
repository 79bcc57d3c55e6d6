package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"complylaw/internal/domain"
	"complylaw/internal/live"
)

// errStopped means the scan left RUNNING under us: it was cancelled or reaped.
var errStopped = errors.New("scan no longer running")

// finalWriteTimeout bounds writes made after the run context is gone.
const finalWriteTimeout = 10 * time.Second

// run is the state of one scan execution. Only its goroutine touches it.
type run struct {
	o   *Orchestrator
	job domain.ScanJob
	log *zap.Logger

	progress  int
	step      string
	findings  []domain.Finding
	checklist domain.Checklist
}

func (r *run) stamp() string {
	return "[" + r.o.deps.Clock.Now().UTC().Format("15:04:05") + "]"
}

func (r *run) execute(ctx context.Context) error {
	deps, opts := r.o.deps, r.o.opts

	tier := deps.Tiers.Resolve(deps.Firms.Tier(ctx, r.job.TenantID))
	units := deps.Tiers.Select(tier)
	r.log = r.log.With(zap.String("tier", string(tier)))
	r.log.Info("scan started", zap.Int("checks", len(units)))

	var external *domain.ExternalResult
	if deps.External != nil {
		ext, err := deps.External.Lookup(ctx, r.job.Domain)
		switch {
		case err != nil:
			r.log.Warn("external scanner unavailable", zap.Error(err))
		case ext != nil && ext.Grade.Valid():
			external = ext
		case ext != nil:
			r.log.Warn("ignoring external result with invalid grade", zap.String("grade", string(ext.Grade)))
		}
	}

	start := fmt.Sprintf("%s Scan started → %s (%s Tier)", r.stamp(), r.job.Domain, tierLabel(tier))
	if err := r.advance(ctx, progressConnecting, stepConnecting, domain.Checkpoint{
		Tier:        tier,
		ChecksTotal: len(units),
		LogLines:    []string{start},
	}); err != nil {
		return r.stop(ctx, err)
	}

	for lo := 0; lo < len(units); lo += opts.Parallelism {
		hi := min(lo+opts.Parallelism, len(units))

		if err := r.stillRunning(ctx); err != nil {
			return r.stop(ctx, err)
		}
		for i := lo; i < hi; i++ {
			if err := r.advance(ctx, progressAt(i, len(units)), units[i].Label, domain.Checkpoint{}); err != nil {
				return r.stop(ctx, err)
			}
		}

		results := r.o.window(ctx, units[lo:hi], r.job.Domain)
		if ctx.Err() != nil {
			return r.stop(ctx, ctx.Err())
		}

		for k, f := range results {
			i := lo + k
			u := units[i]
			r.log.Debug("check finished", zap.String("check", string(u.ID)), zap.String("status", string(f.Status)))

			cp := domain.Checkpoint{
				ChecksCompleted: i + 1,
				LogLines: []string{fmt.Sprintf("%s [%d%%] %s: %s",
					r.stamp(), progressAt(i, len(units)), u.Label, strings.ToUpper(string(f.Status)))},
			}
			if f.Status != domain.FindingPass || opts.VerboseFindings {
				cp.Findings = []domain.Finding{f}
			}
			if u.Checklist != "" {
				r.checklist.Mark(u.Checklist, f.Status == domain.FindingPass)
			}
			if err := r.write(ctx, "record "+string(u.ID), func(ctx context.Context) error {
				return deps.Jobs.Checkpoint(ctx, r.job.ID, cp)
			}); err != nil {
				return r.stop(ctx, err)
			}
			r.findings = append(r.findings, cp.Findings...)
		}
	}

	if err := r.stillRunning(ctx); err != nil {
		return r.stop(ctx, err)
	}
	if err := r.advance(ctx, progressReporting, stepReporting, domain.Checkpoint{}); err != nil {
		return r.stop(ctx, err)
	}
	return r.finalize(ctx, external)
}

func (r *run) finalize(ctx context.Context, external *domain.ExternalResult) error {
	deps, opts := r.o.deps, r.o.opts

	var grade domain.Grade
	var risk float64
	var raw map[string]any
	if external != nil {
		grade, risk, raw = external.Grade, external.RiskScore, external.Raw
	} else {
		card := domain.Score(domain.Tally(r.findings))
		if opts.RiskJitter != nil {
			card = card.WithJitter(opts.RiskJitter())
		}
		grade, risk = card.Grade, card.RiskScore
	}

	out := domain.Outcome{
		Grade:     grade,
		RiskScore: risk,
		LogLines: []string{fmt.Sprintf("[COMPLETE] Grade: %s | Risk: %s%% | Issues: %d",
			grade, formatRisk(risk), len(r.findings))},
		BreachAlerts:    domain.BreachAlerts(r.findings),
		Checklist:       r.checklist,
		Recommendations: domain.Recommendations(r.findings, deps.Catalog),
		External:        raw,
		CompletedAt:     deps.Clock.Now().UTC(),
	}
	if err := r.write(ctx, "finalize", func(ctx context.Context) error {
		return deps.Jobs.Finalize(ctx, r.job.ID, out)
	}); err != nil {
		return r.stop(ctx, err)
	}
	r.log.Info("scan completed", zap.String("grade", string(grade)), zap.Float64("risk_score", risk),
		zap.Int("issues", len(r.findings)), zap.Bool("external", external != nil))

	if r.job.UserID != "" {
		r.publish(ctx, live.UserTopic(r.job.UserID), live.Notification(r.job.Domain, grade, risk, r.job.PublicID))
	}
	done := live.Progress(100, "Complete!", live.StatusComplete)
	done.Grade, done.RiskScore = &grade, &risk
	r.publish(ctx, live.ScanTopic(r.job.PublicID), done)
	r.publish(ctx, live.ScanTopic(r.job.PublicID), live.Complete(grade, risk))

	r.notifyObservers(ctx)
	return nil
}

// advance checkpoints a new step and announces it. Progress never goes backwards.
func (r *run) advance(ctx context.Context, progress int, step string, cp domain.Checkpoint) error {
	progress = max(progress, r.progress)
	cp.Progress, cp.Step = progress, step
	if err := r.write(ctx, step, func(ctx context.Context) error {
		return r.o.deps.Jobs.Checkpoint(ctx, r.job.ID, cp)
	}); err != nil {
		return err
	}
	r.progress, r.step = progress, step
	r.publish(ctx, live.ScanTopic(r.job.PublicID), live.Progress(progress, step, live.StatusRunning))
	return nil
}

func (r *run) stillRunning(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var st domain.Status
	if err := r.write(ctx, "status", func(ctx context.Context) error {
		var err error
		st, err = r.o.deps.Jobs.Status(ctx, r.job.ID)
		return err
	}); err != nil {
		return err
	}
	if st != domain.StatusRunning {
		return errStopped
	}
	return nil
}

// write runs a store operation with retries and classifies its failure.
func (r *run) write(ctx context.Context, what string, fn func(context.Context) error) error {
	err := r.o.persist(ctx, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotRunning):
		return errStopped
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", what, err)
}

// stop ends a run that cannot continue. Cancellation and reaping are silent; a deadline
// or a store failure marks the scan FAILED.
func (r *run) stop(ctx context.Context, cause error) error {
	if errors.Is(cause, errStopped) || errors.Is(context.Cause(ctx), errInterrupted) {
		r.log.Info("scan stopped", zap.Int("progress", r.progress), zap.String("last_step", r.step))
		return nil
	}

	reason := "persistence failure: " + cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "job deadline exceeded"
	} else if errors.Is(cause, context.Canceled) {
		reason = "worker shut down"
	}
	r.log.Error("scan failed", zap.String("reason", reason), zap.String("last_step", r.step),
		zap.Int("progress", r.progress), zap.Error(cause))

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	err := r.o.persist(fctx, func(ctx context.Context) error {
		return r.o.deps.Jobs.MarkFailed(ctx, r.job.ID, reason)
	})
	if err != nil && !errors.Is(err, domain.ErrNotRunning) {
		r.log.Error("could not mark scan failed", zap.String("last_step", r.step), zap.Error(err))
	}
	if err == nil {
		r.publish(fctx, live.ScanTopic(r.job.PublicID), live.Progress(r.progress, r.step, live.StatusFailed))
	}
	return fmt.Errorf("scan %s failed at %q: %w", r.job.PublicID, r.step, cause)
}

// publish delivers an event best effort. Transport failures are logged and dropped.
func (r *run) publish(ctx context.Context, topic string, event any) {
	pctx, cancel := context.WithTimeout(ctx, r.o.opts.PublishTimeout)
	defer cancel()
	if err := r.o.deps.Publisher.Publish(pctx, topic, event); err != nil {
		r.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (r *run) notifyObservers(ctx context.Context) {
	r.o.mu.Lock()
	observers := append([]Observer(nil), r.o.observers...)
	r.o.mu.Unlock()
	if len(observers) == 0 {
		return
	}

	job, err := r.o.deps.Jobs.Load(ctx, r.job.ID)
	if err != nil {
		r.log.Warn("observers skipped: reload failed", zap.Error(err))
		return
	}
	var errs error
	for _, obs := range observers {
		errs = multierr.Append(errs, r.observe(ctx, obs, job))
	}
	if errs != nil {
		r.log.Warn("post-completion observers failed", zap.Error(errs))
	}
}

func (r *run) observe(ctx context.Context, obs Observer, job domain.ScanJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("observer panicked: %v", p)
		}
	}()
	return obs.ScanCompleted(ctx, job)
}

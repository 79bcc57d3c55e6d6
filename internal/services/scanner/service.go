package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"complylaw/internal/domain"
	"complylaw/internal/live"
	"complylaw/internal/ports"
)

// CancelLogLine is appended to a scan cancelled on request.
const CancelLogLine = "[Cancelled by user]"

// Interrupter stops the in-flight work of a scan running in this process.
type Interrupter interface {
	Interrupt(scanID int64) bool
}

// Options configure intake.
type Options struct {
	// PerHour is the number of submissions a tenant may make per hour; 0 disables the limit.
	PerHour int
	Burst   int
}

// Service accepts, lists, cancels and retries scans on behalf of a tenant.
type Service struct {
	scans       ports.ScanRepository
	publisher   ports.Publisher
	interrupter Interrupter
	limits      *tenantLimits
	clock       clockwork.Clock
	log         *zap.Logger
}

func New(scans ports.ScanRepository, publisher ports.Publisher, interrupter Interrupter, opts Options, clock clockwork.Clock, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = live.Discard{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		scans:       scans,
		publisher:   publisher,
		interrupter: interrupter,
		limits:      newTenantLimits(opts.PerHour, opts.Burst),
		clock:       clock,
		log:         log,
	}
}

// Enqueue validates the domain and creates a PENDING scan. A tenant may have one scan
// per domain in flight.
func (s *Service) Enqueue(ctx context.Context, tenantID, userID, rawDomain string) (domain.ScanJob, error) {
	if tenantID == "" {
		return domain.ScanJob{}, domain.ErrMissingTenant
	}
	target, err := domain.NormalizeDomain(rawDomain)
	if err != nil {
		return domain.ScanJob{}, err
	}
	if !s.limits.allow(tenantID) {
		return domain.ScanJob{}, domain.ErrRateLimited
	}
	job, err := s.scans.Create(ctx, domain.NewScan{
		TenantID: tenantID,
		UserID:   userID,
		Domain:   target,
		Log:      []string{s.stamp() + " Queued scan for " + target},
	})
	if err != nil {
		return domain.ScanJob{}, err
	}
	s.log.Info("scan queued", zap.String("tenant_id", tenantID), zap.String("public_id", job.PublicID), zap.String("domain", target))
	return job, nil
}

func (s *Service) Get(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error) {
	if tenantID == "" {
		return domain.ScanJob{}, domain.ErrMissingTenant
	}
	return s.scans.Get(ctx, tenantID, publicID)
}

func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]domain.ScanJob, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.scans.List(ctx, tenantID, limit)
}

// Cancel stops a PENDING or RUNNING scan. A run in this process is interrupted at once;
// elsewhere the orchestrator notices before its next check.
func (s *Service) Cancel(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error) {
	if tenantID == "" {
		return domain.ScanJob{}, domain.ErrMissingTenant
	}
	job, err := s.scans.Cancel(ctx, tenantID, publicID, CancelLogLine)
	if err != nil {
		return domain.ScanJob{}, err
	}
	if s.interrupter != nil {
		s.interrupter.Interrupt(job.ID)
	}

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pctx, live.ScanTopic(job.PublicID), live.Progress(job.Progress, job.CurrentStep, live.StatusCancelled)); err != nil {
		s.log.Warn("publish cancel failed", zap.String("public_id", job.PublicID), zap.Error(err))
	}
	s.log.Info("scan cancelled", zap.String("tenant_id", tenantID), zap.String("public_id", publicID))
	return job, nil
}

// Retry creates a new scan for the domain of a FAILED one. The failed record is left as is.
func (s *Service) Retry(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error) {
	if tenantID == "" {
		return domain.ScanJob{}, domain.ErrMissingTenant
	}
	old, err := s.scans.Get(ctx, tenantID, publicID)
	if err != nil {
		return domain.ScanJob{}, err
	}
	if old.Status != domain.StatusFailed {
		return domain.ScanJob{}, domain.ErrNotRetryable
	}
	job, err := s.scans.Create(ctx, domain.NewScan{
		TenantID: tenantID,
		UserID:   old.UserID,
		Domain:   old.Domain,
		RetryOf:  old.PublicID,
		Log:      []string{s.stamp() + " Retry of " + old.PublicID},
	})
	if err != nil {
		return domain.ScanJob{}, err
	}
	s.log.Info("scan retried", zap.String("retry_of", old.PublicID), zap.String("public_id", job.PublicID))
	return job, nil
}

func (s *Service) stamp() string {
	return "[" + s.clock.Now().UTC().Format("15:04:05") + "]"
}

// tenantLimits keeps one token bucket per tenant.
type tenantLimits struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

func newTenantLimits(perHour, burst int) *tenantLimits {
	if perHour <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &tenantLimits{
		every: rate.Every(time.Hour / time.Duration(perHour)),
		burst: burst,
		m:     make(map[string]*rate.Limiter),
	}
}

func (t *tenantLimits) allow(tenantID string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	l, ok := t.m[tenantID]
	if !ok {
		l = rate.NewLimiter(t.every, t.burst)
		t.m[tenantID] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

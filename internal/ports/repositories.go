package ports

import (
	"context"
	"time"

	"complylaw/internal/domain"
)

// ScanRepository manages scan records on behalf of the owning tenant.
type ScanRepository interface {
	// Create inserts a PENDING scan and enqueues it. Fails with domain.ErrDuplicateInFlight
	// when the tenant already has a PENDING or RUNNING scan for the same domain.
	Create(ctx context.Context, req domain.NewScan) (domain.ScanJob, error)
	Get(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error)
	List(ctx context.Context, tenantID string, limit int) ([]domain.ScanJob, error)
	// Cancel flips a PENDING or RUNNING scan to CANCELLED and appends logLine.
	Cancel(ctx context.Context, tenantID, publicID, logLine string) (domain.ScanJob, error)
}

// FirmRepository resolves the subscription tier of a tenant.
type FirmRepository interface {
	GetFirm(ctx context.Context, tenantID string) (domain.Firm, error)
}

// ScoreRepository stores the latest posture per tenant and domain.
type ScoreRepository interface {
	UpsertScore(ctx context.Context, score domain.Posture) error
	LatestScore(ctx context.Context, tenantID, domain string) (score domain.Posture, found bool, err error)
}

// StaleReaper fails jobs stuck in RUNNING.
type StaleReaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration, reason string) (int, error)
}

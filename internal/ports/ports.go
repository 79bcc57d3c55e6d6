package ports

import (
	"context"

	"complylaw/internal/domain"
)

// Scanner accepts and tracks scans for a tenant.
type Scanner interface {
	Enqueue(ctx context.Context, tenantID, userID, rawDomain string) (domain.ScanJob, error)
	Get(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error)
	List(ctx context.Context, tenantID string, limit int) ([]domain.ScanJob, error)
	Cancel(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error)
	Retry(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error)
}

// Profiles provides the latest posture for a domain.
type Profiles interface {
	GetLatest(ctx context.Context, tenantID, domain string) (domain.Posture, error)
}

// Firms provides the subscription tier of a tenant.
type Firms interface {
	Tier(ctx context.Context, tenantID string) domain.Tier
}

// Publisher delivers an event to the subscribers of a topic. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// ExternalScanner is an authoritative source that may already know a domain's verdict.
// A nil result means no override.
type ExternalScanner interface {
	Lookup(ctx context.Context, domain string) (*domain.ExternalResult, error)
}

package firms

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"complylaw/internal/domain"
	"complylaw/internal/ports"
)

// Service resolves the subscription tier of a tenant. Tenants that cannot be resolved
// scan on the free tier.
type Service struct {
	repo ports.FirmRepository
	log  *zap.Logger
}

func New(repo ports.FirmRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log}
}

func (s *Service) Tier(ctx context.Context, tenantID string) domain.Tier {
	f, err := s.repo.GetFirm(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("tier lookup failed, using free", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return domain.TierFree
	}
	if f.Tier == "" {
		return domain.TierFree
	}
	return f.Tier
}

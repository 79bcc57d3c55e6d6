package posture

import (
	"context"

	"complylaw/internal/domain"
	"complylaw/internal/ports"
)

// Service keeps the latest posture of every scanned domain per tenant.
type Service struct {
	scores ports.ScoreRepository
}

func New(scores ports.ScoreRepository) *Service { return &Service{scores: scores} }

func (s *Service) GetLatest(ctx context.Context, tenantID, rawDomain string) (domain.Posture, error) {
	d, err := domain.NormalizeDomain(rawDomain)
	if err != nil {
		return domain.Posture{}, err
	}
	score, found, err := s.scores.LatestScore(ctx, tenantID, d)
	if err != nil {
		return domain.Posture{}, err
	}
	if !found {
		return domain.Posture{}, domain.ErrNotFound
	}
	return score, nil
}

// ScanCompleted records a completed scan as the latest posture of its domain.
func (s *Service) ScanCompleted(ctx context.Context, job domain.ScanJob) error {
	if job.Status != domain.StatusCompleted || job.Grade == nil || job.RiskScore == nil {
		return nil
	}
	score := domain.Posture{
		TenantID:  job.TenantID,
		Domain:    job.Domain,
		ScanID:    job.PublicID,
		Grade:     *job.Grade,
		RiskScore: *job.RiskScore,
		Findings:  len(job.Findings),
	}
	if job.CompletedAt != nil {
		score.ComputedAt = *job.CompletedAt
	}
	return s.scores.UpsertScore(ctx, score)
}

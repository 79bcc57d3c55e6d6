// Package memory is an in-process implementation of the store ports, used by the
// one-off scan command and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"complylaw/internal/domain"
)

// Store keeps scans, firms and scores in maps guarded by one mutex.
type Store struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	nextID int64
	scans  map[int64]*domain.ScanJob
	byPub  map[string]int64
	firms  map[string]domain.Firm
	scores map[scoreKey]domain.Posture
}

type scoreKey struct{ tenant, domain string }

func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:  clock,
		scans:  make(map[int64]*domain.ScanJob),
		byPub:  make(map[string]int64),
		firms:  make(map[string]domain.Firm),
		scores: make(map[scoreKey]domain.Posture),
	}
}

func (s *Store) Create(_ context.Context, req domain.NewScan) (domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.scans {
		if j.TenantID == req.TenantID && j.Domain == req.Domain && j.Status.InFlight() {
			return domain.ScanJob{}, domain.ErrDuplicateInFlight
		}
	}
	s.nextID++
	j := &domain.ScanJob{
		ID:          s.nextID,
		PublicID:    uuid.NewString(),
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Domain:      req.Domain,
		Status:      domain.StatusPending,
		CurrentStep: "Queued",
		Log:         append([]string{}, req.Log...),
		Findings:    []domain.Finding{},
		RetryOf:     req.RetryOf,
		CreatedAt:   s.clock.Now().UTC(),
	}
	s.scans[j.ID] = j
	s.byPub[j.PublicID] = j.ID
	return clone(j), nil
}

func (s *Store) Get(_ context.Context, tenantID, publicID string) (domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.owned(tenantID, publicID)
	if err != nil {
		return domain.ScanJob{}, err
	}
	return clone(j), nil
}

func (s *Store) List(_ context.Context, tenantID string, limit int) ([]domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScanJob
	for _, j := range s.scans {
		if j.TenantID == tenantID {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Cancel(_ context.Context, tenantID, publicID, logLine string) (domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.owned(tenantID, publicID)
	if err != nil {
		return domain.ScanJob{}, err
	}
	if !j.Status.InFlight() {
		return domain.ScanJob{}, domain.ErrNotCancelable
	}
	now := s.clock.Now().UTC()
	j.Status = domain.StatusCancelled
	j.Log = append(j.Log, logLine)
	j.CompletedAt = &now
	return clone(j), nil
}

func (s *Store) ClaimNext(ctx context.Context) (domain.ScanJob, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScanJob{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.ScanJob
	for _, j := range s.scans {
		if j.Status == domain.StatusPending && (oldest == nil || j.ID < oldest.ID) {
			oldest = j
		}
	}
	if oldest == nil {
		return domain.ScanJob{}, false, nil
	}
	s.start(oldest)
	return clone(oldest), true, nil
}

func (s *Store) Claim(ctx context.Context, scanID int64) (domain.ScanJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScanJob{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.scans[scanID]
	if !ok {
		return domain.ScanJob{}, domain.ErrNotFound
	}
	if j.Status != domain.StatusPending {
		return domain.ScanJob{}, domain.ErrClaimConflict
	}
	s.start(j)
	return clone(j), nil
}

func (s *Store) start(j *domain.ScanJob) {
	now := s.clock.Now().UTC()
	j.Status = domain.StatusRunning
	j.StartedAt = &now
	j.CurrentStep = "Starting scan..."
}

func (s *Store) Load(_ context.Context, scanID int64) (domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.scans[scanID]
	if !ok {
		return domain.ScanJob{}, domain.ErrNotFound
	}
	return clone(j), nil
}

func (s *Store) Status(_ context.Context, scanID int64) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.scans[scanID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return j.Status, nil
}

func (s *Store) Checkpoint(_ context.Context, scanID int64, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(scanID)
	if err != nil {
		return err
	}
	if cp.Progress > j.Progress {
		j.Progress = cp.Progress
	}
	if cp.Step != "" {
		j.CurrentStep = cp.Step
	}
	if cp.Tier != "" {
		j.Tier = cp.Tier
	}
	if cp.ChecksTotal > 0 {
		j.ChecksTotal = cp.ChecksTotal
	}
	if cp.ChecksCompleted > j.ChecksCompleted {
		j.ChecksCompleted = cp.ChecksCompleted
	}
	j.Log = append(j.Log, cp.LogLines...)
	j.Findings = append(j.Findings, cp.Findings...)
	return nil
}

func (s *Store) Finalize(_ context.Context, scanID int64, out domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(scanID)
	if err != nil {
		return err
	}
	grade, risk, done := out.Grade, out.RiskScore, out.CompletedAt.UTC()
	j.Status = domain.StatusCompleted
	j.Progress = 100
	j.CurrentStep = "Complete!"
	j.Grade = &grade
	j.RiskScore = &risk
	j.Log = append(j.Log, out.LogLines...)
	j.BreachAlerts = append([]string(nil), out.BreachAlerts...)
	j.Checklist = out.Checklist
	j.Recommendations = append([]domain.Recommendation(nil), out.Recommendations...)
	j.External = out.External
	j.CompletedAt = &done
	return nil
}

func (s *Store) MarkFailed(_ context.Context, scanID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.scans[scanID]
	if !ok {
		return domain.ErrNotFound
	}
	if !j.Status.CanTransition(domain.StatusFailed) {
		return domain.ErrNotRunning
	}
	s.fail(j, reason)
	return nil
}

func (s *Store) fail(j *domain.ScanJob, reason string) {
	now := s.clock.Now().UTC()
	j.Status = domain.StatusFailed
	j.FailureReason = reason
	j.Log = append(j.Log, "[FAILED] "+reason)
	j.CompletedAt = &now
}

func (s *Store) ReapStale(_ context.Context, olderThan time.Duration, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().Add(-olderThan)
	n := 0
	for _, j := range s.scans {
		if j.Status == domain.StatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			s.fail(j, reason)
			n++
		}
	}
	return n, nil
}

// SetFirm registers or replaces a tenant.
func (s *Store) SetFirm(f domain.Firm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firms[f.ID] = f
}

func (s *Store) GetFirm(_ context.Context, tenantID string) (domain.Firm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.firms[tenantID]
	if !ok {
		return domain.Firm{}, domain.ErrNotFound
	}
	return f, nil
}

func (s *Store) UpsertScore(_ context.Context, score domain.Posture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoreKey{score.TenantID, score.Domain}
	if cur, ok := s.scores[k]; ok && cur.ComputedAt.After(score.ComputedAt) {
		return nil
	}
	s.scores[k] = score
	return nil
}

func (s *Store) LatestScore(_ context.Context, tenantID, d string) (domain.Posture, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[scoreKey{tenantID, d}]
	return sc, ok, nil
}

func (s *Store) owned(tenantID, publicID string) (*domain.ScanJob, error) {
	id, ok := s.byPub[publicID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	j := s.scans[id]
	if j.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (s *Store) running(scanID int64) (*domain.ScanJob, error) {
	j, ok := s.scans[scanID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != domain.StatusRunning {
		return nil, domain.ErrNotRunning
	}
	return j, nil
}

func clone(j *domain.ScanJob) domain.ScanJob {
	c := *j
	c.Log = append([]string{}, j.Log...)
	c.Findings = append([]domain.Finding{}, j.Findings...)
	c.BreachAlerts = append([]string(nil), j.BreachAlerts...)
	c.Recommendations = append([]domain.Recommendation(nil), j.Recommendations...)
	if j.Grade != nil {
		g := *j.Grade
		c.Grade = &g
	}
	if j.RiskScore != nil {
		r := *j.RiskScore
		c.RiskScore = &r
	}
	return c
}

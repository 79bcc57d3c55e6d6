package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complylaw/internal/domain"
)

func TestCreateRejectsDuplicateInFlight(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	first, err := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)
	assert.NotEmpty(t, first.PublicID)

	_, err = s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})
	assert.ErrorIs(t, err, domain.ErrDuplicateInFlight)

	_, err = s.Create(ctx, domain.NewScan{TenantID: "t2", Domain: "example.com"})
	assert.NoError(t, err, "other tenants are independent")

	_, err = s.Cancel(ctx, "t1", first.PublicID, "[Cancelled by user]")
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})
	assert.NoError(t, err, "terminal scans do not block a new submission")
}

func TestTenantScoping(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	j, err := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})
	require.NoError(t, err)

	_, err = s.Get(ctx, "t2", j.PublicID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Cancel(ctx, "t2", j.PublicID, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.List(ctx, "t2", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	j, _ := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})

	claimed, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	_, err = s.Claim(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrClaimConflict)
	_, found, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Claim(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimHonorsCancelledContext(t *testing.T) {
	s := New(nil)
	j, _ := s.Create(context.Background(), domain.NewScan{TenantID: "t1", Domain: "example.com"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, found, err := s.ClaimNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, found)
	_, err = s.Claim(ctx, j.ID)
	assert.ErrorIs(t, err, context.Canceled)

	st, _ := s.Status(context.Background(), j.ID)
	assert.Equal(t, domain.StatusPending, st)
}

func TestClaimNextTakesOldest(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	a, _ := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "a.com"})
	_, _ = s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "b.com"})

	got, found, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.ID, got.ID)
}

func TestCheckpointIsGuardedAndMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	j, _ := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})

	assert.ErrorIs(t, s.Checkpoint(ctx, j.ID, domain.Checkpoint{Progress: 5}), domain.ErrNotRunning)
	_, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint(ctx, j.ID, domain.Checkpoint{Progress: 40, Step: "a", LogLines: []string{"l1"}}))
	require.NoError(t, s.Checkpoint(ctx, j.ID, domain.Checkpoint{Progress: 20, Findings: []domain.Finding{{Title: "f"}}}))
	got, _ := s.Load(ctx, j.ID)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "a", got.CurrentStep)
	assert.Equal(t, []string{"l1"}, got.Log)
	assert.Len(t, got.Findings, 1)

	_, err = s.Cancel(ctx, "t1", j.PublicID, "[Cancelled by user]")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Checkpoint(ctx, j.ID, domain.Checkpoint{Progress: 90}), domain.ErrNotRunning)
	assert.ErrorIs(t, s.Finalize(ctx, j.ID, domain.Outcome{Grade: domain.GradeA}), domain.ErrNotRunning)
	assert.ErrorIs(t, s.MarkFailed(ctx, j.ID, "x"), domain.ErrNotRunning)

	got, _ = s.Load(ctx, j.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "[Cancelled by user]", got.Log[len(got.Log)-1])
}

func TestFinalizeAndCancelRules(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s := New(clock)
	j, _ := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "example.com"})
	_, _ = s.Claim(ctx, j.ID)

	require.NoError(t, s.Finalize(ctx, j.ID, domain.Outcome{Grade: domain.GradeB, RiskScore: 21, CompletedAt: clock.Now()}))
	got, err := s.Get(ctx, "t1", j.PublicID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, domain.GradeB, *got.Grade)
	assert.Equal(t, 21.0, *got.RiskScore)
	assert.Equal(t, clock.Now(), *got.CompletedAt)

	_, err = s.Cancel(ctx, "t1", j.PublicID, "x")
	assert.ErrorIs(t, err, domain.ErrNotCancelable)
}

func TestReapStale(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := New(clock)
	old, _ := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "old.com"})
	_, _ = s.Claim(ctx, old.ID)
	clock.Advance(time.Hour)
	fresh, _ := s.Create(ctx, domain.NewScan{TenantID: "t1", Domain: "fresh.com"})
	_, _ = s.Claim(ctx, fresh.ID)

	n, err := s.ReapStale(ctx, 30*time.Minute, "job deadline exceeded")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := s.Status(ctx, old.ID)
	assert.Equal(t, domain.StatusFailed, st)
	st, _ = s.Status(ctx, fresh.ID)
	assert.Equal(t, domain.StatusRunning, st)
}

func TestScores(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, found, err := s.LatestScore(ctx, "t1", "example.com")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpsertScore(ctx, domain.Posture{TenantID: "t1", Domain: "example.com", Grade: domain.GradeC}))
	require.NoError(t, s.UpsertScore(ctx, domain.Posture{TenantID: "t1", Domain: "example.com", Grade: domain.GradeA}))
	sc, found, err := s.LatestScore(ctx, "t1", "example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.GradeA, sc.Grade)
}

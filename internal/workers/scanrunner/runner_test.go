package scanrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"complylaw/internal/adapters/memory"
	"complylaw/internal/domain"
)

// fakeProcessor finalizes every scan it is given and tracks concurrency.
type fakeProcessor struct {
	store *memory.Store
	delay time.Duration

	mu       sync.Mutex
	ran      []int64
	active   atomic.Int32
	peak     atomic.Int32
	deadline atomic.Bool
}

func (p *fakeProcessor) Run(ctx context.Context, job domain.ScanJob) error {
	cur := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.peak.Load()
		if cur <= old || p.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if _, ok := ctx.Deadline(); ok {
		p.deadline.Store(true)
	}
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.ran = append(p.ran, job.ID)
	p.mu.Unlock()
	return p.store.Finalize(context.Background(), job.ID, domain.Outcome{Grade: domain.GradeA})
}

func (p *fakeProcessor) Process(ctx context.Context, scanID int64) error {
	job, err := p.store.Claim(ctx, scanID)
	if err != nil {
		return err
	}
	return p.Run(ctx, job)
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ran)
}

func enqueue(t *testing.T, store *memory.Store, domains ...string) []domain.ScanJob {
	t.Helper()
	var out []domain.ScanJob
	for _, d := range domains {
		j, err := store.Create(context.Background(), domain.NewScan{TenantID: "t1", Domain: d})
		require.NoError(t, err)
		out = append(out, j)
	}
	return out
}

func TestRunDrainsQueueWithBoundedWorkers(t *testing.T) {
	store := memory.New(nil)
	enqueue(t, store, "a.com", "b.com", "c.com", "d.com", "e.com")
	proc := &fakeProcessor{store: store, delay: 20 * time.Millisecond}
	r := New(store, store, proc, Options{Workers: 2, PollInterval: 5 * time.Millisecond, JobTimeout: time.Second}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.count() == 5 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
	assert.True(t, proc.deadline.Load(), "jobs run under a deadline")

	list, err := store.List(context.Background(), "t1", 10)
	require.NoError(t, err)
	for _, j := range list {
		assert.Equal(t, domain.StatusCompleted, j.Status, j.Domain)
	}
}

func TestRunWithoutWorkersReturns(t *testing.T) {
	r := New(memory.New(nil), nil, &fakeProcessor{}, Options{}, nil, zaptest.NewLogger(t))
	r.Run(context.Background())
}

func TestRunAfterShutdownLeavesQueueAlone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		store := memory.New(nil)
		jobs := enqueue(t, store, "a.com")
		proc := &fakeProcessor{store: store}
		r := New(store, nil, proc, Options{Workers: 1, PollInterval: time.Millisecond}, nil, zaptest.NewLogger(t))

		r.Run(ctx)

		st, err := store.Status(context.Background(), jobs[0].ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusPending, st, "iteration %d", i)
		require.Zero(t, proc.peak.Load())
	}
}

type countingReaper struct{ calls atomic.Int32 }

func (c *countingReaper) ReapStale(_ context.Context, olderThan time.Duration, reason string) (int, error) {
	c.calls.Add(1)
	if reason != ReapReason || olderThan != 90*time.Millisecond {
		return 0, errors.New("unexpected arguments")
	}
	return 1, nil
}

func TestRunReapsStaleScans(t *testing.T) {
	reaper := &countingReaper{}
	r := New(memory.New(nil), reaper, &fakeProcessor{}, Options{
		Workers: 1, PollInterval: 5 * time.Millisecond, StaleAfter: 90 * time.Millisecond, ReapInterval: 5 * time.Millisecond,
	}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	require.Eventually(t, func() bool { return reaper.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestProcessInline(t *testing.T) {
	store := memory.New(nil)
	jobs := enqueue(t, store, "a.com")
	proc := &fakeProcessor{store: store}
	r := New(store, store, proc, Options{JobTimeout: time.Second}, nil, zaptest.NewLogger(t))

	require.NoError(t, r.ProcessInline(context.Background(), jobs[0].ID))
	st, err := store.Status(context.Background(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st)
	assert.True(t, proc.deadline.Load())

	assert.ErrorIs(t, r.ProcessInline(context.Background(), jobs[0].ID), domain.ErrClaimConflict)
}

func TestOptionDefaults(t *testing.T) {
	o := Options{JobTimeout: time.Minute}.withDefaults()
	assert.Equal(t, 6*time.Minute, o.StaleAfter)
	assert.Equal(t, 500*time.Millisecond, o.PollInterval)
	assert.Equal(t, time.Minute, o.ReapInterval)
}

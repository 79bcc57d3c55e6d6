package checks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complylaw/internal/domain"
)

func unit(id ID, run Func) Unit {
	return Unit{ID: id, Label: "Label " + string(id), Module: "Test", Run: run}
}

func TestExecuteNormalizesResult(t *testing.T) {
	u := unit("t.ok", func(context.Context, string) (domain.Finding, error) {
		return domain.Finding{Status: domain.FindingFail}, nil
	})
	f := Execute(context.Background(), u, "example.com", time.Second)
	assert.Equal(t, "t.ok", f.Check)
	assert.Equal(t, "Label t.ok", f.Title)
	assert.Equal(t, "Test", f.Module)
	assert.Equal(t, domain.RiskMedium, f.RiskLevel)
}

func TestExecuteConvertsFaults(t *testing.T) {
	cases := map[string]Func{
		"error": func(context.Context, string) (domain.Finding, error) {
			return domain.Finding{}, errors.New("connection refused")
		},
		"panic": func(context.Context, string) (domain.Finding, error) {
			panic("boom")
		},
		"no status": func(context.Context, string) (domain.Finding, error) {
			return domain.Finding{Title: "x"}, nil
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			f := Execute(context.Background(), unit("t.fault", run), "example.com", time.Second)
			assert.Equal(t, domain.FindingError, f.Status)
			assert.Equal(t, domain.RiskNone, f.RiskLevel)
			assert.NotEmpty(t, f.Details)
		})
	}
}

func TestExecuteEnforcesDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	u := unit("t.slow", func(ctx context.Context, _ string) (domain.Finding, error) {
		<-release
		return domain.Finding{Status: domain.FindingPass}, nil
	})

	start := time.Now()
	f := Execute(context.Background(), u, "example.com", 20*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.FindingError, f.Status)
	assert.True(t, strings.Contains(f.Details, ErrTimeout.Error()), f.Details)

	u.Timeout = 10 * time.Millisecond
	f = Execute(context.Background(), u, "example.com", time.Hour)
	assert.Equal(t, domain.FindingError, f.Status)
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := unit("t.cancel", func(ctx context.Context, _ string) (domain.Finding, error) {
		<-ctx.Done()
		return domain.Finding{}, ctx.Err()
	})
	f := Execute(ctx, u, "example.com", time.Second)
	assert.Equal(t, domain.FindingError, f.Status)
}

func TestRegistry(t *testing.T) {
	pass := func(context.Context, string) (domain.Finding, error) {
		return domain.Finding{Status: domain.FindingPass}, nil
	}
	rec := &domain.Recommendation{Title: "Fix", Priority: "high"}

	r, err := NewRegistry(unit("a", pass), Unit{ID: "b", Run: pass, Recommendation: rec})
	require.NoError(t, err)
	assert.Equal(t, []ID{"a", "b"}, r.IDs())
	_, ok := r.Lookup("b")
	assert.True(t, ok)
	_, ok = r.Lookup("c")
	assert.False(t, ok)
	assert.Equal(t, map[string]domain.Recommendation{"b": *rec}, r.Recommendations())

	_, err = NewRegistry(unit("a", pass), unit("a", pass))
	assert.Error(t, err)
	_, err = NewRegistry(Unit{ID: "nobody"})
	assert.Error(t, err)
}

func TestBuiltinRegistry(t *testing.T) {
	r, err := BuiltinRegistry(Deps{})
	require.NoError(t, err)
	ids := r.IDs()
	assert.Len(t, ids, 28)
	for _, id := range ids {
		u, _ := r.Lookup(id)
		assert.NotEmpty(t, u.Label, id)
		assert.NotEmpty(t, u.Module, id)
	}
	cookie, _ := r.Lookup(GDPRCookieConsent)
	assert.Equal(t, ChecklistCookieBanner, cookie.Checklist)
	tls, _ := r.Lookup(EncryptionTLS)
	assert.Equal(t, ChecklistHTTPS, tls.Checklist)
}

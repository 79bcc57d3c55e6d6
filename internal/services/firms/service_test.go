package firms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"complylaw/internal/adapters/memory"
	"complylaw/internal/domain"
)

type brokenRepo struct{}

func (brokenRepo) GetFirm(context.Context, string) (domain.Firm, error) {
	return domain.Firm{}, errors.New("db down")
}

func TestTier(t *testing.T) {
	store := memory.New(nil)
	store.SetFirm(domain.Firm{ID: "acme", Name: "Acme LLP", Tier: domain.TierEnterprise})
	store.SetFirm(domain.Firm{ID: "blank", Name: "Blank"})
	s := New(store, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, domain.TierEnterprise, s.Tier(ctx, "acme"))
	assert.Equal(t, domain.TierFree, s.Tier(ctx, "blank"))
	assert.Equal(t, domain.TierFree, s.Tier(ctx, "unknown"))
	assert.Equal(t, domain.TierFree, New(brokenRepo{}, zaptest.NewLogger(t)).Tier(ctx, "acme"))
}

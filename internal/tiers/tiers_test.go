package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complylaw/internal/checks"
	"complylaw/internal/domain"
)

func registry(t *testing.T) *checks.Registry {
	t.Helper()
	r, err := checks.BuiltinRegistry(checks.Deps{})
	require.NoError(t, err)
	return r
}

func TestDefaultTable(t *testing.T) {
	s, err := Default(registry(t))
	require.NoError(t, err)

	assert.Equal(t, []domain.Tier{domain.TierFree, domain.TierPro, domain.TierEnterprise}, s.Tiers())
	assert.Len(t, s.IDs(domain.TierFree), 16)
	assert.Len(t, s.IDs(domain.TierPro), 23)
	assert.Len(t, s.IDs(domain.TierEnterprise), 28)

	free := s.IDs(domain.TierFree)
	assert.Equal(t, checks.GDPRDSAR, free[0])
	assert.Equal(t, checks.ThirdPartyScripts, free[len(free)-1])
}

func TestTiersAreOrderedSupersets(t *testing.T) {
	s, err := Default(registry(t))
	require.NoError(t, err)

	tiers := s.Tiers()
	for i := 1; i < len(tiers); i++ {
		lower, upper := s.IDs(tiers[i-1]), s.IDs(tiers[i])
		require.GreaterOrEqual(t, len(upper), len(lower))
		assert.Equal(t, lower, upper[:len(lower)], "%s must start with %s", tiers[i], tiers[i-1])
	}
	for _, tier := range tiers {
		seen := map[checks.ID]bool{}
		for _, id := range s.IDs(tier) {
			assert.False(t, seen[id], "%s lists %s twice", tier, id)
			seen[id] = true
		}
	}
}

func TestUnknownTierFallsBackToLowest(t *testing.T) {
	s, err := Default(registry(t))
	require.NoError(t, err)
	assert.Equal(t, s.IDs(domain.TierFree), s.IDs("platinum"))
	assert.Equal(t, domain.TierFree, s.Resolve("platinum"))
	assert.Equal(t, domain.TierPro, s.Resolve(domain.TierPro))
}

func TestSelectReturnsCopy(t *testing.T) {
	s, err := Default(registry(t))
	require.NoError(t, err)
	units := s.Select(domain.TierFree)
	units[0] = checks.Unit{ID: "mutated"}
	assert.Equal(t, checks.GDPRDSAR, s.Select(domain.TierFree)[0].ID)
}

func TestLoadValidation(t *testing.T) {
	reg := registry(t)
	cases := map[string]struct {
		yaml string
		err  error
	}{
		"unknown check": {
			yaml: "tiers:\n  - name: free\n    checks: [gdpr.dsar, nope.nope]\n",
			err:  domain.ErrUnknownCheck,
		},
		"broken chain": {
			yaml: "tiers:\n  - name: free\n    checks: [gdpr.dsar]\n  - name: pro\n    checks: [gdpr.dpo]\n",
			err:  domain.ErrTierOrder,
		},
		"lowest extends": {
			yaml: "tiers:\n  - name: free\n    extends: pro\n    checks: [gdpr.dsar]\n",
			err:  domain.ErrTierOrder,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(tc.yaml), reg)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := Load([]byte("tiers: []"), reg)
	assert.Error(t, err)
}

func TestLoadDeduplicates(t *testing.T) {
	data := "tiers:\n  - name: free\n    checks: [gdpr.dsar, gdpr.dsar, gdpr.dpo]\n" +
		"  - name: pro\n    extends: free\n    checks: [gdpr.dpo, owasp.a01]\n"
	s, err := Load([]byte(data), registry(t))
	require.NoError(t, err)
	assert.Equal(t, []checks.ID{checks.GDPRDSAR, checks.GDPRDPO}, s.IDs("free"))
	assert.Equal(t, []checks.ID{checks.GDPRDSAR, checks.GDPRDPO, checks.OWASPAccessControl}, s.IDs("pro"))

	u := s.Select("pro")[2]
	require.NotNil(t, u.Run)
}

package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPolicies struct {
	windows map[string]int
	err     error
	calls   int
}

func (s *stubPolicies) MerchantReturnWindow(_ context.Context, domain string) (int, bool, error) {
	s.calls++
	if s.err != nil {
		return 0, false, s.err
	}
	days, ok := s.windows[domain]
	return days, ok, nil
}

func TestResolverPrecedence(t *testing.T) {
	policies := &stubPolicies{windows: map[string]int{"amazon.com": 30}}
	resolver := NewResolver(policies)
	ctx := context.Background()

	t.Run("email window beats merchant table", func(t *testing.T) {
		res, err := resolver.Resolve(ctx, "amazon.com", ptr(7))
		require.NoError(t, err)
		assert.Equal(t, 7, res.ReturnWindowDays)
		assert.Equal(t, PolicyEmail, res.PolicySource)
		assert.InDelta(t, 0.1, res.ConfidenceDelta, 1e-9)
	})

	t.Run("merchant table", func(t *testing.T) {
		res, err := resolver.Resolve(ctx, "amazon.com", nil)
		require.NoError(t, err)
		assert.Equal(t, 30, res.ReturnWindowDays)
		assert.Equal(t, PolicyMerchantTable, res.PolicySource)
		assert.InDelta(t, 0.0, res.ConfidenceDelta, 1e-9)
	})

	t.Run("unknown merchant falls back", func(t *testing.T) {
		res, err := resolver.Resolve(ctx, "tiny-shop.example", nil)
		require.NoError(t, err)
		assert.Equal(t, FallbackReturnWindowDays, res.ReturnWindowDays)
		assert.Equal(t, PolicyFallback, res.PolicySource)
		assert.InDelta(t, -0.2, res.ConfidenceDelta, 1e-9)
	})

	t.Run("empty domain skips lookup", func(t *testing.T) {
		before := policies.calls
		res, err := resolver.Resolve(ctx, "", nil)
		require.NoError(t, err)
		assert.Equal(t, PolicyFallback, res.PolicySource)
		assert.Equal(t, before, policies.calls)
	})
}

func TestResolverLookupError(t *testing.T) {
	boom := errors.New("database is locked")
	_, err := NewResolver(&stubPolicies{err: boom}).Resolve(context.Background(), "amazon.com", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestResolutionApplyClampsConfidence(t *testing.T) {
	r := Result{Confidence: 0.95}
	Resolution{ReturnWindowDays: 14, PolicySource: PolicyEmail, ConfidenceDelta: 0.1}.Apply(&r)

	assert.InDelta(t, 1.0, r.Confidence, 1e-9)
	assert.Equal(t, 14, *r.ReturnWindowDays)
	assert.Equal(t, PolicyEmail, r.PolicySource)

	low := Result{Confidence: 0.1}
	Resolution{ReturnWindowDays: 30, PolicySource: PolicyFallback, ConfidenceDelta: -0.2}.Apply(&low)
	assert.InDelta(t, 0.0, low.Confidence, 1e-9)
}

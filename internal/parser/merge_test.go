package parser

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFillsGapsOnly(t *testing.T) {
	heuristic := Result{
		TotalAmount: ptr(42.00),
		Currency:    ptr("USD"),
		Confidence:  0.65,
	}
	fallback := &Result{
		TotalAmount: ptr(40.00),
		OrderID:     ptr("X1"),
		Confidence:  0.8,
	}

	merged := Merge(heuristic, fallback)

	require.NotNil(t, merged.TotalAmount)
	assert.InDelta(t, 42.00, *merged.TotalAmount, 0.001)
	require.NotNil(t, merged.OrderID)
	assert.Equal(t, "X1", *merged.OrderID)
	assert.InDelta(t, 0.8, merged.Confidence, 1e-9)
}

func TestMergeKeepsHigherHeuristicConfidence(t *testing.T) {
	merged := Merge(Result{Confidence: 0.75}, &Result{Confidence: 0.4, Items: ptr("Socks")})

	assert.InDelta(t, 0.75, merged.Confidence, 1e-9)
	assert.Equal(t, "Socks", *merged.Items)
}

func TestMergeIgnoresEmptyFallbackStrings(t *testing.T) {
	merged := Merge(Result{}, &Result{MerchantName: ptr(""), OrderDate: ptr("2026-03-01")})

	assert.Nil(t, merged.MerchantName)
	require.NotNil(t, merged.OrderDate)
	assert.Equal(t, "2026-03-01", *merged.OrderDate)
}

func TestMergeNilFallback(t *testing.T) {
	heuristic := Result{OrderID: ptr("A"), Confidence: 0.6}
	assert.Equal(t, heuristic, Merge(heuristic, nil))
}

func TestMergeNeverOverridesHeuristicTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("heuristic total survives any fallback total", prop.ForAll(
		func(have, other float64, conf float64) bool {
			merged := Merge(
				Result{TotalAmount: ptr(have), Confidence: 0.5},
				&Result{TotalAmount: ptr(other), Confidence: conf},
			)
			return *merged.TotalAmount == have && merged.Confidence >= 0.5 && merged.Confidence <= 1
		},
		gen.Float64Range(0, 10000),
		gen.Float64Range(0, 10000),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

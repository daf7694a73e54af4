package parser

import (
	"context"
	"fmt"
)

// FallbackReturnWindowDays applies when neither the email nor the merchant
// table states a window.
const FallbackReturnWindowDays = 30

const (
	emailConfidenceDelta    = 0.1
	merchantConfidenceDelta = 0.0
	fallbackConfidenceDelta = -0.2
)

// PolicyLookup finds a merchant's default return window. A missing merchant
// is reported with found=false, never as an error.
type PolicyLookup interface {
	MerchantReturnWindow(ctx context.Context, domain string) (days int, found bool, err error)
}

// Resolution is the authoritative return window and its provenance.
type Resolution struct {
	ReturnWindowDays int
	PolicySource     PolicySource
	ConfidenceDelta  float64
}

type Resolver struct {
	policies PolicyLookup
}

func NewResolver(policies PolicyLookup) *Resolver {
	return &Resolver{policies: policies}
}

// Resolve applies the precedence email-declared > merchant table > fallback.
func (r *Resolver) Resolve(ctx context.Context, merchantDomain string, emailWindow *int) (Resolution, error) {
	if emailWindow != nil {
		return Resolution{
			ReturnWindowDays: *emailWindow,
			PolicySource:     PolicyEmail,
			ConfidenceDelta:  emailConfidenceDelta,
		}, nil
	}

	if merchantDomain != "" && r.policies != nil {
		days, found, err := r.policies.MerchantReturnWindow(ctx, merchantDomain)
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to look up merchant policy for %s: %w", merchantDomain, err)
		}
		if found {
			return Resolution{
				ReturnWindowDays: days,
				PolicySource:     PolicyMerchantTable,
				ConfidenceDelta:  merchantConfidenceDelta,
			}, nil
		}
	}

	return Resolution{
		ReturnWindowDays: FallbackReturnWindowDays,
		PolicySource:     PolicyFallback,
		ConfidenceDelta:  fallbackConfidenceDelta,
	}, nil
}

// Apply writes the resolution into r and adjusts its confidence.
func (res Resolution) Apply(r *Result) {
	r.ReturnWindowDays = ptr(res.ReturnWindowDays)
	r.PolicySource = res.PolicySource
	r.addConfidence(res.ConfidenceDelta)
}

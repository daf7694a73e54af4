// Package parser turns the text of a receipt email into purchase data: a
// regex heuristic pass, an optional model fallback that only fills gaps, the
// return-window policy resolution and the deadline calculation.
package parser

// PolicySource records where a purchase's return window came from.
type PolicySource string

const (
	PolicyEmail         PolicySource = "email"
	PolicyMerchantTable PolicySource = "merchant_table"
	PolicyUserOverride  PolicySource = "user_override"
	PolicyFallback      PolicySource = "fallback"
)

// Result is the per-email extraction state. A nil field means "not found".
type Result struct {
	MerchantName     *string
	MerchantDomain   *string
	OrderDate        *string
	TotalAmount      *float64
	Currency         *string
	OrderID          *string
	ReturnWindowDays *int
	Items            *string

	Confidence   float64
	PolicySource PolicySource
}

// hasPurchaseData reports whether anything beyond the sender-derived merchant
// identity was found.
func (r *Result) hasPurchaseData() bool {
	return r.OrderDate != nil || r.TotalAmount != nil || r.OrderID != nil ||
		r.ReturnWindowDays != nil || r.Items != nil
}

// addConfidence adds delta and clamps the running score into [0, 1].
func (r *Result) addConfidence(delta float64) {
	r.Confidence = clampConfidence(r.Confidence + delta)
}

func clampConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	if c < 0 {
		return 0
	}
	return c
}

func ptr[T any](v T) *T {
	return &v
}

package parser

// Merge fills the heuristic result's gaps from the fallback result. A field
// the heuristics already found is never replaced, even when the fallback
// disagrees. Confidence becomes the larger of the two scores.
func Merge(heuristic Result, fallback *Result) Result {
	if fallback == nil {
		return heuristic
	}

	merged := heuristic
	merged.MerchantName = fillString(heuristic.MerchantName, fallback.MerchantName)
	merged.OrderDate = fillString(heuristic.OrderDate, fallback.OrderDate)
	merged.Currency = fillString(heuristic.Currency, fallback.Currency)
	merged.OrderID = fillString(heuristic.OrderID, fallback.OrderID)
	merged.Items = fillString(heuristic.Items, fallback.Items)

	if merged.TotalAmount == nil && fallback.TotalAmount != nil {
		merged.TotalAmount = ptr(*fallback.TotalAmount)
	}
	if merged.ReturnWindowDays == nil && fallback.ReturnWindowDays != nil {
		merged.ReturnWindowDays = ptr(*fallback.ReturnWindowDays)
	}

	if fallback.Confidence > merged.Confidence {
		merged.Confidence = clampConfidence(fallback.Confidence)
	}

	return merged
}

func fillString(have, candidate *string) *string {
	if have != nil {
		return have
	}
	if candidate == nil || *candidate == "" {
		return nil
	}
	return ptr(*candidate)
}

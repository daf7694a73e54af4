package classifier

import (
	"strings"

	"return-radar-service/internal/catalog"
)

// Label is the coarse kind of an inbound email.
type Label string

const (
	LabelReceipt  Label = "receipt"
	LabelShipping Label = "shipping"
	LabelOther    Label = "other"
)

const (
	// bodyScanLimit bounds how much of the lower-cased body is searched.
	bodyScanLimit = 3000
	// minBodyHits is how many distinct body keywords make a receipt.
	minBodyHits = 2
)

// Classifier labels emails from subject and body keyword signals.
type Classifier struct {
	shippingSubject []string
	receiptSubject  []string
	receiptBody     []string
}

func New(kw catalog.Keywords) *Classifier {
	return &Classifier{
		shippingSubject: kw.ShippingSubject,
		receiptSubject:  kw.ReceiptSubject,
		receiptBody:     kw.ReceiptBody,
	}
}

// Classify returns exactly one label. Shipping keywords in the subject win
// over receipt keywords in the subject. fromDomain is accepted for parity with
// the inbound contract but carries no signal today.
func (c *Classifier) Classify(subject, bodyText, fromDomain string) Label {
	lowerSubject := strings.ToLower(subject)

	for _, keyword := range c.shippingSubject {
		if strings.Contains(lowerSubject, keyword) {
			return LabelShipping
		}
	}

	for _, keyword := range c.receiptSubject {
		if strings.Contains(lowerSubject, keyword) {
			return LabelReceipt
		}
	}

	lowerBody := strings.ToLower(truncate(bodyText, bodyScanLimit))
	hits := 0
	for _, keyword := range c.receiptBody {
		if strings.Contains(lowerBody, keyword) {
			hits++
		}
	}
	if hits >= minBodyHits {
		return LabelReceipt
	}

	return LabelOther
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

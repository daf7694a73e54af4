package classifier

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"return-radar-service/internal/catalog"
)

func newDefault() *Classifier {
	return New(catalog.Default().Keywords())
}

func TestClassify(t *testing.T) {
	c := newDefault()

	tests := []struct {
		name    string
		subject string
		body    string
		want    Label
	}{
		{
			name:    "shipped subject is shipping",
			subject: "Your Amazon.com order has shipped",
			want:    LabelShipping,
		},
		{
			name:    "shipping wins over receipt keyword in subject",
			subject: "Receipt: your package is out for delivery",
			want:    LabelShipping,
		},
		{
			name:    "order confirmation subject",
			subject: "Order Confirmation #112-555",
			want:    LabelReceipt,
		},
		{
			name:    "invoice subject is case-insensitive",
			subject: "INVOICE for March",
			want:    LabelReceipt,
		},
		{
			name:    "two body keywords make a receipt",
			subject: "Thanks!",
			body:    "Order Number: 55512. Order Total: $19.99",
			want:    LabelReceipt,
		},
		{
			name:    "one body keyword is not enough",
			subject: "Hello",
			body:    "Check your billing address",
			want:    LabelOther,
		},
		{
			name:    "newsletter is other",
			subject: "Our spring newsletter",
			body:    "New arrivals this week",
			want:    LabelOther,
		},
		{
			name: "empty input is other",
			want: LabelOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.subject, tt.body, "example.com"))
		})
	}
}

func TestClassifyOnlyScansBodyPrefix(t *testing.T) {
	c := newDefault()
	body := strings.Repeat("x", 3000) + " order number subtotal"

	assert.Equal(t, LabelOther, c.Classify("hi", body, ""))
	assert.Equal(t, LabelReceipt, c.Classify("hi", body[3000:], ""))
}

func TestClassifyUsesInjectedKeywords(t *testing.T) {
	c := New(catalog.Keywords{ReceiptSubject: []string{"bon de commande"}})

	assert.Equal(t, LabelReceipt, c.Classify("Votre bon de commande", "", ""))
	assert.Equal(t, LabelOther, c.Classify("Your order has shipped", "", ""))
}

func TestClassifyProperties(t *testing.T) {
	c := newDefault()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("classify always returns a known label", prop.ForAll(
		func(subject, body string) bool {
			switch c.Classify(subject, body, "") {
			case LabelReceipt, LabelShipping, LabelOther:
				return true
			default:
				return false
			}
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("shipping keyword in subject beats receipt keyword", prop.ForAll(
		func(prefix, body string) bool {
			subject := prefix + " receipt invoice your order shipped"
			return c.Classify(subject, body, "") == LabelShipping
		},
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.Property("classify is deterministic", prop.ForAll(
		func(subject, body string) bool {
			return c.Classify(subject, body, "") == c.Classify(subject, body, "")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

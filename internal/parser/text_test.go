package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLToText(t *testing.T) {
	in := `<html><head><title>Receipt</title><style>.a{color:red}</style></head>
<body><p>Order   Total:</p><p>$5.00</p><script>var x = 1;</script>
<div>Fish &amp; Chips</div></body></html>`

	assert.Equal(t, "Order Total: $5.00 Fish & Chips", HTMLToText(in))
}

func TestNormalizeBody(t *testing.T) {
	assert.Equal(t, "Hello world", NormalizeBody("<b>Hello</b> <i>world</i>", "ignored"))
	assert.Equal(t, "plain body", NormalizeBody("   ", "plain body"))
	assert.Equal(t, "", NormalizeBody("", ""))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDecodeForm covers splitting, percent-decoding and the ignore rules.
func TestDecodeForm(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected Form
	}{
		{
			name:     "percent encoded value",
			body:     "text=hello%20world",
			expected: Form{"text": "hello world"},
		},
		{
			name:     "plus is a space",
			body:     "text=hi+there&name=Cool+Cat",
			expected: Form{"text": "hi there", "name": "Cool Cat"},
		},
		{
			name:     "value keeps later equals signs",
			body:     "text=a%3Db=c",
			expected: Form{"text": "a=b=c"},
		},
		{
			name:     "pair without equals ignored",
			body:     "flag&text=x",
			expected: Form{"text": "x"},
		},
		{
			name:     "empty key ignored",
			body:     "=oops&text=y",
			expected: Form{"text": "y"},
		},
		{
			name:     "first occurrence wins",
			body:     "text=one&text=two",
			expected: Form{"text": "one"},
		},
		{
			name:     "bad escape falls back to raw",
			body:     "text=100%zz",
			expected: Form{"text": "100%zz"},
		},
		{
			name:     "key is not decoded",
			body:     "my%20key=v",
			expected: Form{"my%20key": "v"},
		},
		{
			name:     "empty value",
			body:     "text=",
			expected: Form{"text": ""},
		},
		{
			name:     "unicode",
			body:     "text=%F0%9F%91%8B",
			expected: Form{"text": "👋"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeForm([]byte(tt.body)))
		})
	}
}

// TestDecodeFormEmpty verifies that an empty body yields an empty, usable form.
func TestDecodeFormEmpty(t *testing.T) {
	form := DecodeForm(nil)

	assert.Empty(t, form)
	_, ok := form.Get("text")
	assert.False(t, ok)
}

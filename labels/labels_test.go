package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"F", "Waiting For Food"},
		{"I", "Isolated in Unfamiliar Environment"},
		{"B", "Brushing"},
		{" B ", "Brushing"},
		{"X", "Unknown"},
		{"", "Unknown"},
		{"f", "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Lookup(tt.code), "code %q", tt.code)
	}
}

func TestParseCode(t *testing.T) {
	c, err := ParseCode("I")
	assert.NoError(t, err)
	assert.Equal(t, Isolated, c)

	c, err = ParseCode("Q")
	assert.Error(t, err)
	assert.Equal(t, Unknown, c)
}

func TestContextCodeRoundTrip(t *testing.T) {
	for _, c := range All() {
		assert.True(t, c.Known())
		assert.Equal(t, c, Parse(string(c.Code())))
	}

	assert.Equal(t, Code(""), Unknown.Code())
	assert.False(t, Unknown.Known())
	assert.False(t, Context(42).Known())
	assert.Equal(t, UnknownName, Context(42).String())
	assert.Len(t, Codes(), len(All()))
}

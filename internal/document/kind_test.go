package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/efact/internal/errors"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", Rendered},
		{"rendered", Rendered},
		{"PDF", Rendered},
		{" xml ", Structured},
		{"structured", Structured},
		{"cdr", Receipt},
		{"Receipt", Receipt},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseKind("zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestKind_HasText(t *testing.T) {
	assert.False(t, Rendered.HasText())
	assert.True(t, Structured.HasText())
	assert.True(t, Receipt.HasText())
}

func TestEndpoints_Resolve(t *testing.T) {
	e := Endpoints{
		Rendered:   "https://docs.example.com/pdf/",
		Structured: "https://docs.example.com/xml",
		Receipt:    " https://docs.example.com/cdr ",
	}

	tests := []struct {
		kind Kind
		want string
	}{
		{Rendered, "https://docs.example.com/pdf/T-1"},
		{Structured, "https://docs.example.com/xml/T-1"},
		{Receipt, "https://docs.example.com/cdr/T-1"},
		{"", "https://docs.example.com/pdf/T-1"},
		{"bogus", "https://docs.example.com/pdf/T-1"},
	}
	for _, tt := range tests {
		got, err := e.Resolve(tt.kind, " T-1 ")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, string(tt.kind))
	}

	got, err := e.Resolve(Structured, "F001/123 4")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/xml/F001%2F123%204", got)
}

func TestEndpoints_ResolveMissing(t *testing.T) {
	_, err := Endpoints{Rendered: "https://x"}.Resolve(Receipt, "T-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receipt")
}

package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlag(t *testing.T) {
	assert.True(t, flag("true"))
	assert.True(t, flag("TRUE"))
	assert.True(t, flag(" true "))
	assert.False(t, flag("1"))
	assert.False(t, flag("yes"))
	assert.False(t, flag(""))
}

func TestIntegrityScore(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  *float64
	}{
		{"absent", "", nil},
		{"not a number", "high", nil},
		{"nan", "NaN", nil},
		{"infinite", "+Inf", nil},
		{"fraction", "0.75", ptr(0.75)},
		{"padded", " 1 ", ptr(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := integrityScore(tt.value)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestETagSignal(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	assert.Equal(t, id, etagSignal(`"`+id+`"`))
	assert.Equal(t, id, etagSignal(`"nope", W/"`+id+`"`))
	assert.Equal(t, `"a", "b"`, etagSignal(`"a", "b"`))
	assert.Empty(t, etagSignal(""))
}

package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToStringSlice(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{"strings", []string{"a", "b"}, []string{"a", "b"}},
		{"driver list", []any{"Person", "Engineer"}, []string{"Person", "Engineer"}},
		{"mixed list skips non-strings", []any{"a", 1, nil, "b"}, []string{"a", "b"}},
		{"empty driver list", []any{}, []string{}},
		{"nil", nil, nil},
		{"not a list", "Person", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToStringSlice(tt.input))
		})
	}
}

func TestToMap(t *testing.T) {
	props := map[string]any{"name": "Go"}
	assert.Equal(t, props, ToMap(props))
	assert.Equal(t, map[string]any{"k": "v"}, ToMap(map[string]string{"k": "v"}))

	for _, v := range []any{nil, "x", 3, map[string]any(nil)} {
		m := ToMap(v)
		assert.NotNil(t, m)
		assert.Empty(t, m)
	}
}

func TestToID(t *testing.T) {
	assert.Equal(t, "42", ToID(int64(42)))
	assert.Equal(t, "7", ToID(7))
	assert.Equal(t, "3", ToID(int32(3)))
	assert.Equal(t, "12", ToID(float64(12)))
	assert.Equal(t, "4:abc:12", ToID("4:abc:12"))
	assert.Equal(t, "", ToID(nil))
	assert.Equal(t, "true", ToID(true))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "x", ToString("x"))
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "", ToString(5))
}

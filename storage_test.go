package crate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_ObjectArrayUnwrapped(t *testing.T) {
	docs, err := ParsePayload([]byte(`[{"a":1},{"a":2},{"a":3}]`))

	require.NoError(t, err)
	assert.Len(t, docs, 3)
	for _, doc := range docs {
		_, ok := doc.(map[string]any)
		assert.True(t, ok)
	}
}

func TestParsePayload_SingleObject(t *testing.T) {
	docs, err := ParsePayload([]byte(`{"a":1}`))

	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestParsePayload_PrimitiveArrayKeptWhole(t *testing.T) {
	docs, err := ParsePayload([]byte(`[1,2,"three"]`))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	arr, ok := docs[0].([]any)
	require.True(t, ok)
	assert.Len(t, arr, 3)
}

func TestParsePayload_EmptyArray(t *testing.T) {
	docs, err := ParsePayload([]byte(`[]`))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	arr, ok := docs[0].([]any)
	require.True(t, ok)
	assert.Empty(t, arr)
}

func TestParsePayload_MixedArrayKeptWhole(t *testing.T) {
	// Arrays mixing objects and primitives are a single document; the
	// classifier routes them to document storage.
	docs, err := ParsePayload([]byte(`[{"a":1},2]`))

	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestParsePayload_InvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated", `{"a":`},
		{"bare word", `hello`},
		{"trailing garbage", `{"a":1} {"b":2}`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.body))

			require.Error(t, err)
			var ce *CrateError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, ErrCodeInvalidJSON, ce.Code)
		})
	}
}

func TestParsePayload_UsesNumbers(t *testing.T) {
	docs, err := ParsePayload([]byte(`{"big":12345678901234567890}`))

	require.NoError(t, err)
	obj := docs[0].(map[string]any)
	assert.Equal(t, FieldTypeNumber, ClassifyValue(obj["big"]))
}

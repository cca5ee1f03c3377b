package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeys(t *testing.T) {
	t.Parallel()

	out, err := JCS(map[string]any{"b": 1, "a": 2, "c": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":["x"]}`, string(out))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	t.Parallel()

	out, err := JCS(map[string]any{"ref": "https://example.com/Users?a=1&b=2"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "a=1&b=2")
}

func TestHash_Deterministic(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"userName": "jdoe",
		"emails":   []any{map[string]any{"value": "j@x", "primary": true}},
	}
	h1, err := Hash(doc)
	require.NoError(t, err)

	// Same content, different insertion shape.
	h2, err := Hash(map[string]any{
		"emails":   []any{map[string]any{"primary": true, "value": "j@x"}},
		"userName": "jdoe",
	})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_DiffersOnContent(t *testing.T) {
	t.Parallel()

	h1, err := Hash(map[string]any{"userName": "jdoe"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"userName": "jdoe2"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHash_RejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := Hash(map[string]any{"bad": func() {}})
	assert.Error(t, err)
}

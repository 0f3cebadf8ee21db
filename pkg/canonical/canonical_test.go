package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformSortsKeysAtEveryLevel(t *testing.T) {
	a := []byte(`{"b":1,"a":{"z":true,"y":[3,1,2]},"c":"x"}`)
	b := []byte(`{"c":"x","a":{"y":[3,1,2],"z":true},"b":1}`)

	ca, err := Transform(a)
	require.NoError(t, err)
	cb, err := Transform(b)
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"y":[3,1,2],"z":true},"b":1,"c":"x"}`, string(ca))
	assert.Equal(t, string(ca), string(cb))
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	in := map[string]any{
		"content": "<hi> & bye",
		"nested":  map[string]any{"k2": 2.50, "k1": nil},
		"list":    []any{"b", "a"},
	}
	once, err := Canonicalize(in)
	require.NoError(t, err)
	twice, err := Transform(once)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
	assert.Equal(t, `{"content":"<hi> & bye","list":["b","a"],"nested":{"k1":null,"k2":2.5}}`, string(once))
}

func TestPrimitives(t *testing.T) {
	cases := map[string]any{
		`"plain"`: "plain",
		`42`:      42,
		`true`:    true,
		`null`:    nil,
	}
	for want, v := range cases {
		got, err := String(v)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestTransformRejectsGarbage(t *testing.T) {
	_, err := Transform(nil)
	assert.Error(t, err)
	_, err = Transform([]byte(`{"a":`))
	assert.Error(t, err)
}

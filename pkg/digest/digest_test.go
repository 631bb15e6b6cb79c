package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"z": true, "y": "s"}}

	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.True(t, IsHex(h1))
}

func TestHashKeyOrderIndependent(t *testing.T) {
	type pair struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	h1, err := Hash(map[string]string{"a": "x", "b": "y"})
	require.NoError(t, err)
	h2, err := Hash(pair{A: "x", B: "y"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestHashLinkedPositionSensitive(t *testing.T) {
	v := map[string]string{"action": "order.created"}

	unlinked, err := HashLinked(v, Genesis)
	require.NoError(t, err)
	linked, err := HashLinked(v, "aa"+Genesis[2:])
	require.NoError(t, err)

	require.NotEqual(t, unlinked, linked, "same payload at a different chain position must hash differently")
}

func TestCanonicalNoHTMLEscaping(t *testing.T) {
	b, err := Canonical(map[string]string{"k": "<&>"})
	require.NoError(t, err)
	require.Equal(t, `{"k":"<&>"}`, string(b))
}

func TestGenesisShape(t *testing.T) {
	require.Len(t, Genesis, 64)
	require.True(t, IsHex(Genesis))
}

func TestIsHex(t *testing.T) {
	require.False(t, IsHex("abc"))
	require.False(t, IsHex(Genesis[:63]+"G"))
	require.True(t, IsHex(HashBytes([]byte("x"))))
}

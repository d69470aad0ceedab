package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileClassification(t *testing.T) {
	left := []string{"a", "b", "c"}
	right := []string{"b", "c", "d"}

	matches := Reconcile(left, right, func(s string) string { return s })
	require.Len(t, matches, 4)

	assert.Equal(t, "a", matches[0].Key)
	assert.True(t, matches[0].LeftOnly())

	assert.Equal(t, "b", matches[1].Key)
	assert.True(t, matches[1].Both())

	assert.Equal(t, "c", matches[2].Key)
	assert.True(t, matches[2].Both())

	assert.Equal(t, "d", matches[3].Key)
	assert.True(t, matches[3].RightOnly())
}

func TestReconcileSortedOutput(t *testing.T) {
	// Input order must not leak into the result.
	matches := Reconcile([]string{"z", "m", "a"}, []string{"q", "b"}, func(s string) string { return s })

	var keys []string
	for _, m := range matches {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"a", "b", "m", "q", "z"}, keys)
}

func TestReconcileEmptySides(t *testing.T) {
	key := func(s string) string { return s }

	matches := Reconcile(nil, []string{"x"}, key)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].RightOnly())

	matches = Reconcile([]string{"x"}, nil, key)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].LeftOnly())

	assert.Empty(t, Reconcile[string](nil, nil, key))
}

func TestReconcileDuplicateKeysLastWins(t *testing.T) {
	type entry struct {
		key string
		val int
	}
	left := []entry{{"a", 1}, {"a", 2}}
	right := []entry{{"a", 3}}

	matches := Reconcile(left, right, func(e entry) string { return e.key })
	require.Len(t, matches, 1)
	require.True(t, matches[0].Both())
	assert.Equal(t, 2, matches[0].Left.MustGet().val)
	assert.Equal(t, 3, matches[0].Right.MustGet().val)
}

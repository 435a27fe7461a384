package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_AddGet(t *testing.T) {
	c := NewLRU[string](10)
	c.Add("a", "alpha")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_EvictsLeastUsed(t *testing.T) {
	c := NewLRU[int](3)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Touch a and c so b is the least used.
	c.Get("a")
	c.Get("c")

	c.Add("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "%s should survive", k)
	}
}

func TestLRU_ReplaceDoesNotEvict(t *testing.T) {
	c := NewLRU[int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("a", 10)

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestLRU_CapacityHeld(t *testing.T) {
	c := NewLRU[int](5)
	for i := 0; i < 50; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
	}
	assert.Equal(t, 5, c.Len())
}

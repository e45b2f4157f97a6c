// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMap_GetPutRoundtrip(t *testing.T) {
	c := NewCacheMap[string, int](DefaultCacheWindow, nil)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheMap_EvictsAfterWindowFrames(t *testing.T) {
	const window = 3
	var evicted []string
	c := NewCacheMap[string, int](window, func(k string, v int) { evicted = append(evicted, k) })
	c.Put("a", 1)

	// "a" lives in the slot Put wrote to; that slot is revisited (and
	// drained) once current has cycled all the way back to it, i.e. on
	// the window-th NewFrame call.
	for i := 0; i < window-1; i++ {
		c.NewFrame()
		assert.Contains(t, c.nodes, "a", "must still be live before the window elapses")
	}
	c.NewFrame()
	assert.NotContains(t, c.nodes, "a")
	assert.Equal(t, []string{"a"}, evicted)
}

func TestCacheMap_TouchResetsEvictionClock(t *testing.T) {
	c := NewCacheMap[string, int](2, nil)
	c.Put("a", 1)

	c.NewFrame()
	c.Get("a") // touch: must push "a" back to the current window's front.
	c.NewFrame()

	_, ok := c.Get("a")
	assert.True(t, ok, "a touch should have kept the entry alive past the original window")
}

func TestCacheMap_GetOrCreate(t *testing.T) {
	c := NewCacheMap[string, int](DefaultCacheWindow, nil)
	calls := 0
	create := func() (int, error) { calls++; return 42, nil }

	v, err := c.GetOrCreate("k", create)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrCreate("k", create)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "create must only run on the first miss")
}

func TestCacheMap_Len(t *testing.T) {
	c := NewCacheMap[string, int](DefaultCacheWindow, nil)
	assert.Equal(t, 0, c.Len())
	c.Put("a", 1)
	c.Put("b", 2)
	assert.Equal(t, 2, c.Len())
}

package handle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeReuse(t *testing.T) {
	tb := New[string]()
	h1 := tb.Alloc("a")
	h2 := tb.Alloc("b")
	require.Equal(t, 2, tb.Len())

	tb.Free(h1)
	require.Equal(t, 1, tb.Len())
	_, ok := tb.Get(h1)
	require.False(t, ok)

	h3 := tb.Alloc("c")
	require.Equal(t, uint32(0), h3.idx)
	require.NotEqual(t, h1.gen, h3.gen)

	v, ok := tb.Get(h2)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestStaleHandleRejected(t *testing.T) {
	tb := New[int]()
	h := tb.Alloc(1)
	tb.Free(h)
	_, ok := tb.Get(h)
	require.False(t, ok)
	require.False(t, tb.Set(h, 2))
}

package rbtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func intCmp(a, b int) int { return a - b }

func TestInsertPermutationSorted(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	const n = 200
	perm := rnd.Perm(n)

	tr := New[int, int](intCmp, false)
	for _, k := range perm {
		tr.Insert(k, k*10)
	}
	require.Equal(t, n, tr.Len())

	var got []int
	tr.Walk(func(nd *Node[int, int]) bool {
		got = append(got, nd.Key())
		return true
	})
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
	require.Len(t, got, n)
}

func TestDeletePermutationEmpties(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	const n = 150
	perm := rnd.Perm(n)

	tr := New[int, int](intCmp, false)
	for _, k := range perm {
		tr.Insert(k, k)
	}

	delOrder := rnd.Perm(n)
	for _, k := range delOrder {
		nd := tr.Find(k)
		require.NotNil(t, nd)
		tr.Detach(nd)
	}
	require.Equal(t, 0, tr.Len())
	require.Nil(t, tr.First())
}

func TestMultiKeyDuplicatesAllReachable(t *testing.T) {
	tr := New[int, int](intCmp, true)
	const k, m = 7, 30
	for i := 0; i < m; i++ {
		tr.Insert(k, i)
	}
	count := 0
	tr.Walk(func(nd *Node[int, int]) bool {
		if nd.Key() == k {
			count++
		}
		return true
	})
	require.Equal(t, m, count)
}

func TestDetachSpecificDuplicate(t *testing.T) {
	tr := New[int, string](intCmp, true)
	var nodes []*Node[int, string]
	for i := 0; i < 10; i++ {
		tr.Insert(5, string(rune('a'+i)))
	}
	tr.Walk(func(nd *Node[int, string]) bool {
		nodes = append(nodes, nd)
		return true
	})
	require.Len(t, nodes, 10)

	victim := nodes[4]
	victimVal := victim.Value()
	tr.Detach(victim)

	remaining := map[string]bool{}
	tr.Walk(func(nd *Node[int, string]) bool {
		remaining[nd.Value()] = true
		return true
	})
	require.Equal(t, 9, len(remaining))
	require.False(t, remaining[victimVal])
}

// overlapping ranges compare equal so Find locates any overlapper, per
// spec.md §4.1 and the scenario in §8 ("overlap-tree").
type rng struct{ start, end int }

func overlapCmp(a, b rng) int {
	if a.end <= b.start {
		return -1
	}
	if b.end <= a.start {
		return 1
	}
	return 0
}

func TestOverlapTreeFindsLeftmostOverlapper(t *testing.T) {
	tr := New[rng, int](overlapCmp, false)
	for i, start := range []int{0, 2, 4, 6, 8} {
		tr.Insert(rng{start, start + 5}, i)
	}
	got := tr.Find(rng{10, 30})
	require.NotNil(t, got)
	require.LessOrEqual(t, got.Key().start, 10)

	require.Nil(t, tr.Find(rng{100, 120}))
}

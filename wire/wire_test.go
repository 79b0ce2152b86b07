package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelStringsAreStable(t *testing.T) {
	require.Equal(t, "CAP_COPY", CapCopy.String())
	require.Equal(t, "GET_ROOT", GetRoot.String())
	require.Equal(t, "UNKNOWN", Label(999).String())
}

func TestCopyFlagsAreDistinctBits(t *testing.T) {
	all := []CopyFlags{CopyAddrTransSubpage, CopyAddrTransGuard, CopySourceGuard, Weaken, DiscardableSet, PrioritySet}
	seen := CopyFlags(0)
	for _, f := range all {
		require.Zero(t, seen&f)
		seen |= f
	}
}

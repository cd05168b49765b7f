package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptorAllocatorCyclesAllValues(t *testing.T) {
	a := NewDescriptorAllocator()
	seen := make(map[int]bool)
	for i := 0; i < (1<<descriptorBits)-1; i++ {
		d, err := a.Allocate()
		require.NoError(t, err)
		require.False(t, seen[d], "descriptor %d issued twice before any Free", d)
		require.Greater(t, d, 0)
		require.Less(t, d, 1<<descriptorBits)
		seen[d] = true
	}
	require.Len(t, seen, (1<<descriptorBits)-1)
}

func TestDescriptorAllocatorExhaustion(t *testing.T) {
	a := NewDescriptorAllocator()
	for i := 0; i < (1<<descriptorBits)-1; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}
	_, err := a.Allocate()
	require.Error(t, err)
}

func TestDescriptorAllocatorFreeAndReuse(t *testing.T) {
	a := NewDescriptorAllocator()
	d1, err := a.Allocate()
	require.NoError(t, err)

	a.Free(d1)

	for i := 0; i < (1<<descriptorBits)-1; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}
	// d1 was freed, so a full lap of the LFSR should have reissued it
	// without exhausting the pool.
}

func TestDescriptorAllocatorNeverIssuesZero(t *testing.T) {
	a := NewDescriptorAllocator()
	for i := 0; i < 2000; i++ {
		d, err := a.Allocate()
		if err != nil {
			break
		}
		require.NotZero(t, d)
		a.Free(d)
	}
}

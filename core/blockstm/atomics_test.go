package blockstm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicInt_DecreaseTo_OnlyLowers(t *testing.T) {
	var a atomicInt
	a.Add(10)

	a.DecreaseTo(5)
	require.Equal(t, 5, a.Load())

	a.DecreaseTo(8)
	require.Equal(t, 5, a.Load(), "DecreaseTo must never raise the cursor")
}

func TestAtomicUint64_Add(t *testing.T) {
	var a atomicUint64
	require.Equal(t, uint64(3), a.Add(3))
	require.Equal(t, uint64(5), a.Add(2))
}

func TestAtomicBool_StoreLoad(t *testing.T) {
	var b atomicBool
	require.False(t, b.Load())

	b.Store(true)
	require.True(t, b.Load())
}

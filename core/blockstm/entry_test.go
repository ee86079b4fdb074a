package blockstm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestDeltaOp_Apply_Overflow(t *testing.T) {
	maxU256 := new(uint256.Int).Not(uint256.NewInt(0))

	op := DeltaOp{Increment: true, Delta: uint256.NewInt(1)}

	_, err := op.Apply(maxU256)
	require.ErrorIs(t, err, ErrDeltaOverflow)
}

func TestDeltaOp_Apply_Underflow(t *testing.T) {
	op := DeltaOp{Increment: false, Delta: uint256.NewInt(1)}

	_, err := op.Apply(uint256.NewInt(0))
	require.ErrorIs(t, err, ErrDeltaOverflow)
}

func TestDeltaOp_Apply_RespectsLimit(t *testing.T) {
	op := DeltaOp{Increment: true, Delta: uint256.NewInt(10), Limit: uint256.NewInt(15)}

	_, err := op.Apply(uint256.NewInt(10))
	require.ErrorIs(t, err, ErrDeltaOverflow)

	result, err := op.Apply(uint256.NewInt(4))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(14), result)
}

func TestDeltaOp_Compose_SameSign(t *testing.T) {
	prev := DeltaOp{Increment: true, Delta: uint256.NewInt(5)}
	op := DeltaOp{Increment: true, Delta: uint256.NewInt(3)}

	combined, err := op.Compose(prev)
	require.NoError(t, err)
	require.True(t, combined.Increment)
	require.Equal(t, uint256.NewInt(8), combined.Delta)
}

func TestDeltaOp_Compose_OppositeSign(t *testing.T) {
	prev := DeltaOp{Increment: true, Delta: uint256.NewInt(10)}
	op := DeltaOp{Increment: false, Delta: uint256.NewInt(4)}

	combined, err := op.Compose(prev)
	require.NoError(t, err)
	require.True(t, combined.Increment)
	require.Equal(t, uint256.NewInt(6), combined.Delta)
}

func TestTxnOutput_HasNewWrite(t *testing.T) {
	addr1 := common.HexToAddress("0x1")
	addr2 := common.HexToAddress("0x2")

	prev := TxnOutput{{Path: BalanceKey(addr1)}}
	now := TxnOutput{{Path: BalanceKey(addr1)}, {Path: BalanceKey(addr2)}}

	require.True(t, now.hasNewWrite(prev))
	require.False(t, prev.hasNewWrite(now))
}

func TestTxnOutput_KeySet(t *testing.T) {
	addr := common.HexToAddress("0x1")
	out := TxnOutput{{Path: BalanceKey(addr)}, {Path: NonceKey(addr)}}

	set := out.keySet()
	require.Len(t, set, 2)
	require.Contains(t, set, BalanceKey(addr))
	require.Contains(t, set, NonceKey(addr))
}

func TestWriteEntry_Estimate_PreservesPayload(t *testing.T) {
	v := NewValueEntry([]byte{9, 9})
	est := newEstimateEntry(v)

	require.True(t, est.IsEstimate())
	require.False(t, est.IsValue())
	require.Equal(t, []byte{9, 9}, est.Value())
}

func TestKey_IsModule(t *testing.T) {
	addr := common.HexToAddress("0x1")

	require.True(t, CodeKey(addr).IsModule())
	require.True(t, CodeHashKey(addr).IsModule())
	require.False(t, BalanceKey(addr).IsModule())
	require.False(t, StorageKey(addr, common.Hash{}).IsModule())
}

package blockstm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestTxnInputOutput_RecordAndTakeOutput(t *testing.T) {
	io := NewTxnInputOutput(2)
	k := BalanceKey(common.HexToAddress("0x1"))

	io.RecordAll(0, 0, TxnInput{{Path: k}}, TxnOutput{{Path: k}}, TxnOutput{{Path: k}}, nil)

	require.Equal(t, TxnInput{{Path: k}}, io.ReadSet(0))
	require.Equal(t, TxnOutput{{Path: k}}, io.WriteSet(0))

	out := io.TakeOutput(0)
	require.Equal(t, TxnOutput{{Path: k}}, out)
	require.Nil(t, io.WriteSet(0), "TakeOutput must clear the stored write set")
}

func TestTxnInputOutput_Err(t *testing.T) {
	io := NewTxnInputOutput(1)

	io.RecordAll(0, 0, nil, nil, nil, ErrDeltaOverflow)
	require.ErrorIs(t, io.Err(0), ErrDeltaOverflow)
}

func TestTxnInputOutput_HasNewWrite(t *testing.T) {
	io := NewTxnInputOutput(1)
	addr1 := common.HexToAddress("0x1")
	addr2 := common.HexToAddress("0x2")

	prev := TxnOutput{{Path: BalanceKey(addr1)}}
	io.RecordAll(0, 0, nil, TxnOutput{{Path: BalanceKey(addr1)}, {Path: BalanceKey(addr2)}}, nil, nil)

	require.True(t, io.HasNewWrite(0, prev))
}

func TestTxnInputOutput_ModulePublishingMayRace(t *testing.T) {
	io := NewTxnInputOutput(2)
	addr := common.HexToAddress("0x1")

	io.RecordAll(0, 0, nil, nil, TxnOutput{{Path: CodeKey(addr)}}, nil)
	require.False(t, io.ModulePublishingMayRace())

	io.RecordAll(1, 0, nil, nil, TxnOutput{{Path: CodeKey(addr)}}, nil)
	require.True(t, io.ModulePublishingMayRace())
}

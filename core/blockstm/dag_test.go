package blockstm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBuildDAG_DetectsReadAfterWriteDependency(t *testing.T) {
	io := NewTxnInputOutput(3)

	k := BalanceKey(common.HexToAddress("0x1"))

	io.RecordAll(0, 0, nil, TxnOutput{{Path: k}}, TxnOutput{{Path: k}}, nil)
	io.RecordAll(1, 0, TxnInput{{Path: k}}, nil, nil, nil)
	io.RecordAll(2, 0, nil, nil, nil, nil)

	d := BuildDAG(*io)

	deps := GetDep(*io)
	require.Contains(t, deps[1], 0)
	require.NotContains(t, deps[2], 0)

	stats := map[int]ExecutionStat{
		0: {Start: 0, End: 10},
		1: {Start: 10, End: 25},
		2: {Start: 0, End: 5},
	}

	path, weight := d.LongestPath(stats)
	require.Equal(t, []int{0, 1}, path)
	require.Equal(t, uint64(25), weight)
}

func TestHasReadDep(t *testing.T) {
	k1 := BalanceKey(common.HexToAddress("0x1"))
	k2 := BalanceKey(common.HexToAddress("0x2"))

	writes := TxnOutput{{Path: k1}}
	reads := TxnInput{{Path: k2}}

	require.False(t, HasReadDep(writes, reads))

	reads = append(reads, ReadDescriptor{Path: k1})
	require.True(t, HasReadDep(writes, reads))
}

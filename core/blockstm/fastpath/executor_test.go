package fastpath_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
	"github.com/0xPolygon/parallel-block-executor/core/blockstm/evmtask"
	"github.com/0xPolygon/parallel-block-executor/core/blockstm/fastpath"
	"github.com/0xPolygon/parallel-block-executor/state/baseview"
)

func seedAccounts(n int) (*baseview.Memory, []common.Address) {
	mem := baseview.NewMemory()
	addrs := make([]common.Address, n)

	start := uint256.NewInt(1_000_000).Bytes32()
	zero := uint256.NewInt(0).Bytes32()

	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
		mem.Set(blockstm.BalanceKey(addrs[i]), start[:])
		mem.Set(blockstm.NonceKey(addrs[i]), zero[:])
	}

	return mem, addrs
}

func TestExecute_IndependentTransfersAllSelected(t *testing.T) {
	base, addrs := seedAccounts(4)

	tasks := []fastpath.Task{
		evmtask.FastTransfer{From: addrs[0], To: addrs[1], Value: uint256.NewInt(100)},
		evmtask.FastTransfer{From: addrs[2], To: addrs[3], Value: uint256.NewInt(200)},
	}

	results, err := fastpath.Execute(context.Background(), tasks, base, fastpath.Config{BatchSize: 64})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		require.NotEmpty(t, r.Writes)
	}
}

func TestExecute_ConflictingWritesOneSelectedOneFallback(t *testing.T) {
	base, addrs := seedAccounts(3)

	// Both tasks write addrs[0]'s balance in the same batch; the reservation
	// table must reject whichever loses the smallest-writer-index race and
	// recover it via the hinted fallback, not silently corrupt the result.
	tasks := []fastpath.Task{
		evmtask.FastTransfer{From: addrs[0], To: addrs[1], Value: uint256.NewInt(100)},
		evmtask.FastTransfer{From: addrs[2], To: addrs[0], Value: uint256.NewInt(50)},
	}

	results, err := fastpath.Execute(context.Background(), tasks, base, fastpath.Config{BatchSize: 64})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		require.NotEmpty(t, r.Writes)
	}
}

func TestExecute_SmallBatchSizeForcesMultipleBatches(t *testing.T) {
	base, addrs := seedAccounts(5)

	tasks := make([]fastpath.Task, 10)
	for i := range tasks {
		tasks[i] = evmtask.FastTransfer{From: addrs[i%5], To: addrs[(i+1)%5], Value: uint256.NewInt(10)}
	}

	results, err := fastpath.Execute(context.Background(), tasks, base, fastpath.Config{BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, results, 10)
}

func TestExecute_TaskErrorPropagates(t *testing.T) {
	base, addrs := seedAccounts(2)

	tasks := []fastpath.Task{
		evmtask.FastTransfer{From: addrs[0], To: addrs[1], Value: uint256.NewInt(10_000_000)},
	}

	_, err := fastpath.Execute(context.Background(), tasks, base, fastpath.Config{})
	require.Error(t, err)
}

func TestExecute_EmptyBlock(t *testing.T) {
	base, _ := seedAccounts(1)

	results, err := fastpath.Execute(context.Background(), nil, base, fastpath.Config{})
	require.NoError(t, err)
	require.Nil(t, results)
}

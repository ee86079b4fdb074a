// Package evmtask provides a reference blockstm.ExecutorTask for tests
// and the benchmark CLI. It performs a deliberately simplified
// balance/storage mutation — implementing an EVM is out of scope for
// this repository.
package evmtask

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
)

// Transfer moves Value from From to To via the aggregator (Delta) path,
// bumps From's nonce, and optionally writes one storage slot.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *uint256.Int

	StorageAddr common.Address
	StorageSlot common.Hash
	StorageVal  common.Hash
	HasStorage  bool
}

type output struct {
	writes []blockstm.WriteDescriptor
	deltas []blockstm.WriteDescriptor
}

func (o *output) GetWrites() []blockstm.WriteDescriptor { return o.writes }
func (o *output) GetDeltas() []blockstm.WriteDescriptor { return o.deltas }
func (o *output) SkipOutput() blockstm.Output           { return &output{} }

// Execute implements blockstm.ExecutorTask.
func (t Transfer) Execute(view *blockstm.SpeculativeView, txn blockstm.TxnIndex, incarnation blockstm.Incarnation) blockstm.ExecutionStatus {
	ver := blockstm.Version{TxnIndex: txn, Incarnation: incarnation}

	fromBalKey := blockstm.BalanceKey(t.From)

	fromBal, err := view.ReadAggregator(fromBalKey)
	if err != nil {
		return blockstm.Abort(err)
	}

	if fromBal.Lt(t.Value) {
		return blockstm.Abort(fmt.Errorf("evmtask: insufficient balance for %s", t.From))
	}

	nonceBytes, err := view.ReadBytes(blockstm.NonceKey(t.From))
	if err != nil {
		return blockstm.Abort(err)
	}

	nonce := new(uint256.Int).SetBytes(nonceBytes)

	toBalKey := blockstm.BalanceKey(t.To)

	// Touch the recipient's balance too: recording it as a read means a
	// concurrent reader of To's balance is correctly told Dependency,
	// not handed a stale value, if this incarnation later aborts.
	if _, err := view.ReadAggregator(toBalKey); err != nil {
		return blockstm.Abort(err)
	}

	out := &output{}

	out.deltas = append(out.deltas, blockstm.WriteDescriptor{
		Path:    fromBalKey,
		Version: ver,
		Entry:   blockstm.NewDeltaEntry(blockstm.DeltaOp{Increment: false, Delta: t.Value}),
	})

	out.deltas = append(out.deltas, blockstm.WriteDescriptor{
		Path:    toBalKey,
		Version: ver,
		Entry:   blockstm.NewDeltaEntry(blockstm.DeltaOp{Increment: true, Delta: t.Value}),
	})

	newNonce := new(uint256.Int).AddUint64(nonce, 1)
	nb := newNonce.Bytes32()

	out.writes = append(out.writes, blockstm.WriteDescriptor{
		Path:    blockstm.NonceKey(t.From),
		Version: ver,
		Entry:   blockstm.NewValueEntry(nb[:]),
	})

	if t.HasStorage {
		out.writes = append(out.writes, blockstm.WriteDescriptor{
			Path:    blockstm.StorageKey(t.StorageAddr, t.StorageSlot),
			Version: ver,
			Entry:   blockstm.NewValueEntry(t.StorageVal.Bytes()),
		})
	}

	return blockstm.Success(out)
}

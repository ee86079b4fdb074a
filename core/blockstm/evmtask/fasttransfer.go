package evmtask

import (
	"fmt"

	"github.com/holiman/uint256"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
	"github.com/0xPolygon/parallel-block-executor/core/blockstm/fastpath"
)

// FastTransfer is Transfer's fastpath.Task twin: identical balance/nonce/
// storage semantics, expressed against fastpath's plain Snapshot-backed
// View instead of a scheduler-backed SpeculativeView, since the fast path
// never blocks on a dependency (spec §4.7) — a stale read surfaces later,
// through the reservation table, rather than being prevented up front.
type FastTransfer Transfer

// Execute implements fastpath.Task.
func (t FastTransfer) Execute(v *fastpath.View, txn blockstm.TxnIndex) (fastpath.Output, error) {
	fromBalKey := blockstm.BalanceKey(t.From)

	fromBalBytes, err := v.Read(fromBalKey)
	if err != nil {
		return fastpath.Output{}, err
	}

	fromBal := new(uint256.Int).SetBytes(fromBalBytes)
	if fromBal.Lt(t.Value) {
		return fastpath.Output{}, fmt.Errorf("evmtask: insufficient balance for %s", t.From)
	}

	nonceBytes, err := v.Read(blockstm.NonceKey(t.From))
	if err != nil {
		return fastpath.Output{}, err
	}

	nonce := new(uint256.Int).SetBytes(nonceBytes)

	toBalKey := blockstm.BalanceKey(t.To)
	if _, err := v.Read(toBalKey); err != nil {
		return fastpath.Output{}, err
	}

	ver := blockstm.Version{TxnIndex: txn}

	out := fastpath.Output{}

	out.Deltas = append(out.Deltas, blockstm.WriteDescriptor{
		Path:    fromBalKey,
		Version: ver,
		Entry:   blockstm.NewDeltaEntry(blockstm.DeltaOp{Increment: false, Delta: t.Value}),
	})

	out.Deltas = append(out.Deltas, blockstm.WriteDescriptor{
		Path:    toBalKey,
		Version: ver,
		Entry:   blockstm.NewDeltaEntry(blockstm.DeltaOp{Increment: true, Delta: t.Value}),
	})

	newNonce := new(uint256.Int).AddUint64(nonce, 1)
	nb := newNonce.Bytes32()

	out.Writes = append(out.Writes, blockstm.WriteDescriptor{
		Path:    blockstm.NonceKey(t.From),
		Version: ver,
		Entry:   blockstm.NewValueEntry(nb[:]),
	})

	if t.HasStorage {
		out.Writes = append(out.Writes, blockstm.WriteDescriptor{
			Path:    blockstm.StorageKey(t.StorageAddr, t.StorageSlot),
			Version: ver,
			Entry:   blockstm.NewValueEntry(t.StorageVal.Bytes()),
		})
	}

	return out, nil
}

package blockstm

import (
	"fmt"
	"runtime"

	"github.com/ethereum/go-ethereum/log"
)

// CommitResult is one transaction's finalized output, with every Delta
// write converted into a concrete Value write (spec §4.6).
type CommitResult struct {
	Txn    TxnIndex
	Writes TxnOutput
	Err    error
}

// commitLoop is spec §4.6's commit coordinator: a single goroutine that
// drains the scheduler strictly in index order, materializing every
// delta write against the MVM before handing the result downstream. It
// closes results once all n transactions have committed.
func commitLoop(sched *Scheduler, mvm *MultiVersionMap, io *TxnInputOutput, n int, results chan<- CommitResult) {
	defer close(results)

	for committed := 0; committed < n; {
		txn, ok := sched.TryCommit()
		if !ok {
			runtime.Gosched()
			continue
		}

		raw := io.TakeOutput(txn)
		materialized := make(TxnOutput, 0, len(raw))

		for _, w := range raw {
			if !w.Entry.IsDelta() {
				materialized = append(materialized, w)
				continue
			}

			resolved, ferr := mvm.MaterializeDelta(w.Path, txn+1)
			if ferr != nil {
				// Every speculative re-execution up to this point assumed
				// this delta would apply; discovering otherwise only at
				// commit time, once the base value is finally known, means
				// the aggregator genuinely overflowed and there is no
				// consistent state left to produce (spec §4.6/§7).
				panic(fmt.Sprintf("blockstm: commit-time delta materialization failed for %s at txn %d: %v", w.Path, txn, ferr))
			}

			var value []byte
			if resolved.Kind == OutputResolved {
				b := resolved.Resolved.Bytes32()
				value = b[:]
			} else {
				value = resolved.Value
			}

			entry := NewValueEntry(value)
			mvm.Write(w.Path, w.Version, entry)
			materialized = append(materialized, WriteDescriptor{Path: w.Path, Version: w.Version, Entry: entry})
		}

		log.Debug("blockstm: committed transaction", "txn", txn, "writes", len(materialized))

		results <- CommitResult{Txn: txn, Writes: materialized, Err: io.Err(txn)}
		committed++
	}
}

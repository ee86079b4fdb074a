package blockstm

// ExecutorTask is one block's per-transaction executable unit (spec §6).
// Implementations live outside this package (see core/blockstm/evmtask)
// and only see a SpeculativeView, never the MultiVersionMap directly —
// every read they perform is captured into the incarnation's read set.
type ExecutorTask interface {
	// Execute runs one incarnation of the task against view and returns
	// the outcome the scheduler acts on. Implementations must be
	// deterministic given the same reads: Block-STM's correctness rests
	// on re-execution with the same inputs producing the same outputs.
	Execute(view *SpeculativeView, txn TxnIndex, incarnation Incarnation) ExecutionStatus
}

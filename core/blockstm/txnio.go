package blockstm

import "sync"

// txnRecord is the latest incarnation's bookkeeping for one TxnIndex:
// what it read, what it wrote (the "real" write set used for commit and
// MVM flushes) and every key it touched including deltas marked Estimate
// on abort (the "all" write set dag.go's dependency graph walks).
type txnRecord struct {
	mu sync.RWMutex

	input       TxnInput
	output      TxnOutput // real writes: Value/Delta entries only
	allOutput   TxnOutput // every key touched, incl. deltas
	incarnation Incarnation
	err         error // set when the incarnation's status was StatusAbort
}

// TxnInputOutput is spec §4.2's LastInputOutput: it remembers only the
// most recent incarnation's reads and writes for every TxnIndex, which is
// all validation and the DAG builder ever need.
type TxnInputOutput struct {
	records []*txnRecord

	// inputs and allOutputs mirror records[i].input/allOutput so dag.go's
	// slice-indexed walk (deps.inputs[i], deps.allOutputs[j]) stays the
	// exact shape the dependency grapher already expects. Refreshed on
	// every RecordAll call under recordsMu.
	recordsMu  sync.RWMutex
	inputs     []TxnInput
	allOutputs []TxnOutput
}

func NewTxnInputOutput(n int) *TxnInputOutput {
	records := make([]*txnRecord, n)
	for i := range records {
		records[i] = &txnRecord{}
	}

	return &TxnInputOutput{
		records:    records,
		inputs:     make([]TxnInput, n),
		allOutputs: make([]TxnOutput, n),
	}
}

// RecordAll stores one incarnation's complete input/output record (spec
// §4.4 step 5), replacing whatever the previous incarnation recorded.
func (io *TxnInputOutput) RecordAll(txn TxnIndex, incarnation Incarnation, input TxnInput, output, allOutput TxnOutput, err error) {
	r := io.records[txn]

	r.mu.Lock()
	r.incarnation = incarnation
	r.input = input
	r.output = output
	r.allOutput = allOutput
	r.err = err
	r.mu.Unlock()

	io.recordsMu.Lock()
	io.inputs[txn] = input
	io.allOutputs[txn] = allOutput
	io.recordsMu.Unlock()
}

// Err returns the StatusAbort error recorded for txn's latest incarnation,
// or nil if it did not abort.
func (io *TxnInputOutput) Err(txn TxnIndex) error {
	r := io.records[txn]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// ReadSet returns the most recently recorded read set for txn.
func (io *TxnInputOutput) ReadSet(txn TxnIndex) TxnInput {
	r := io.records[txn]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.input
}

// WriteSet returns the most recently recorded real write set for txn.
func (io *TxnInputOutput) WriteSet(txn TxnIndex) TxnOutput {
	r := io.records[txn]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.output
}

// AllWriteSet returns every key the most recent incarnation of txn
// touched, used by dag.go's dependency walk and by module-race detection.
func (io *TxnInputOutput) AllWriteSet(txn TxnIndex) TxnOutput {
	r := io.records[txn]
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allOutput
}

// HasNewWrite reports whether txn's latest write set contains a key its
// prior recorded write set did not (spec §4.4 step 5's "wrote outside the
// previous write set").
func (io *TxnInputOutput) HasNewWrite(txn TxnIndex, prev TxnOutput) bool {
	return io.WriteSet(txn).hasNewWrite(prev)
}

// ModulePublishingMayRace reports whether some transaction's latest
// incarnation wrote a module key while another transaction's latest
// incarnation read or wrote any module key (spec §4.2,
// "module_publishing_may_race"). Used to force the sequential fallback
// path (spec §7).
func (io *TxnInputOutput) ModulePublishingMayRace() bool {
	publishers, touchers := 0, 0

	for _, r := range io.records {
		r.mu.RLock()
		in, out := r.input, r.allOutput
		r.mu.RUnlock()

		published, touched := false, false
		for _, w := range out {
			if w.Path.IsModule() {
				published, touched = true, true
			}
		}
		for _, rd := range in {
			if rd.Path.IsModule() {
				touched = true
			}
		}

		if published {
			publishers++
		}
		if touched {
			touchers++
		}
	}

	// A publisher is itself a toucher, so a second toucher means another
	// transaction accessed module state alongside it.
	return publishers > 0 && touchers > 1
}

// TakeOutput clears and returns the real write set recorded for txn,
// spec §4.6's hand-off from LastInputOutput into the commit coordinator.
func (io *TxnInputOutput) TakeOutput(txn TxnIndex) TxnOutput {
	r := io.records[txn]
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.output
	r.output = nil

	return out
}

// Len reports the number of transactions tracked.
func (io *TxnInputOutput) Len() int { return len(io.records) }

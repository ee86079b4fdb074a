package blockstm

import (
	"context"
	"runtime"

	"github.com/ethereum/go-ethereum/log"
)

// runWorker is one of the goroutines spec §4.4 calls an "executor worker":
// it pulls tasks from sched until the scheduler reports Done, executing or
// validating whichever task it is handed.
func runWorker(ctx context.Context, id int, sched *Scheduler, mvm *MultiVersionMap, base BaseView, io *TxnInputOutput, tasks []ExecutorTask, stats *StatsRecorder) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		task := sched.NextTask()

		switch task.Kind {
		case TaskDone:
			return
		case TaskNone:
			runtime.Gosched()
		case TaskExecute:
			executeOne(id, sched, mvm, base, io, tasks, task.Version, stats)
		case TaskValidate:
			validateOne(sched, mvm, io, task.Version, task.Wave)
		}
	}
}

// executeOne runs one incarnation of txn (spec §4.4 steps 1-5): execute
// against a fresh SpeculativeView, flush the write/delta set into the MVM,
// remove any key this incarnation stopped writing, record the read/write
// sets, and hand the resulting FinishExecution task straight to validation
// instead of looping back through the scheduler.
func executeOne(id int, sched *Scheduler, mvm *MultiVersionMap, base BaseView, io *TxnInputOutput, tasks []ExecutorTask, ver Version, stats *StatsRecorder) {
	txn := ver.TxnIndex

	view := NewSpeculativeView(mvm, base, sched, txn)

	start := stats.begin()
	status := tasks[txn].Execute(view, txn, ver.Incarnation)
	stats.finish(txn, start, id, ver.Incarnation)

	var writes, deltas TxnOutput
	var execErr error

	switch status.Kind {
	case StatusSuccess, StatusSkipRest:
		if status.Output != nil {
			writes = status.Output.GetWrites()
			deltas = status.Output.GetDeltas()
		}
	case StatusAbort:
		// A deterministic, non-retryable failure (spec §6's ExecutionStatus
		// "Abort" variant) commits as an empty, erroring output rather than
		// being retried — retrying would reproduce the same failure forever.
		execErr = status.Err
		log.Debug("blockstm: execution aborted", "txn", txn, "incarnation", ver.Incarnation, "err", execErr)
	}

	all := make(TxnOutput, 0, len(writes)+len(deltas))
	all = append(all, writes...)
	all = append(all, deltas...)

	for _, w := range writes {
		mvm.Write(w.Path, Version{TxnIndex: txn, Incarnation: ver.Incarnation}, w.Entry)
	}
	for _, d := range deltas {
		mvm.AddDelta(d.Path, Version{TxnIndex: txn, Incarnation: ver.Incarnation}, d.Entry.Delta())

		// The commit coordinator has no BaseView of its own: memoize the
		// aggregator's base value now, so that its MaterializeDelta can
		// resolve a chain that bottoms out at Storage.
		if _, ferr := mvm.MaterializeDelta(d.Path, txn+1); ferr != nil && ferr.Kind != FetchDeltaApplicationFailure {
			_ = view.resolveBase(d.Path)
		}
	}

	prevAll := io.AllWriteSet(txn)

	prevKeys := prevAll.keySet()
	nowKeys := all.keySet()

	for k := range prevKeys {
		if _, ok := nowKeys[k]; !ok {
			mvm.Delete(k, txn)
		}
	}

	io.RecordAll(txn, ver.Incarnation, view.ReadSet(), all, all, execErr)

	wroteOutside := all.hasNewWrite(prevAll)

	next := sched.FinishExecution(txn, ver.Incarnation, wroteOutside)
	if next.Kind == TaskValidate {
		validateOne(sched, mvm, io, next.Version, next.Wave)
	}
}

// validateOne re-derives every read descriptor this incarnation recorded
// and compares the result against what it originally observed (spec
// §4.4's validate_read_set). A mismatch aborts the incarnation: the
// scheduler's CAS in TryAbort ensures only one validator actually performs
// the abort even if several race to validate the same stale incarnation.
func validateOne(sched *Scheduler, mvm *MultiVersionMap, io *TxnInputOutput, ver Version, wave uint64) {
	txn := ver.TxnIndex
	reads := io.ReadSet(txn)

	valid := true

	for _, rd := range reads {
		out, ferr := mvm.FetchData(rd.Path, txn)

		switch {
		case ferr != nil:
			switch ferr.Kind {
			case FetchNotFound:
				valid = rd.Kind == ReadStorage
			case FetchDeltaApplicationFailure:
				valid = rd.Kind == ReadDeltaApplicationFailure
			default:
				// FetchDependency and FetchUnresolved both mean the read
				// can no longer be reproduced as recorded: some upstream
				// incarnation changed shape since this one last executed.
				valid = false
			}
		case out.Kind == OutputVersioned:
			valid = rd.Kind == ReadVersion && rd.Version == out.Version
		case out.Kind == OutputResolved:
			valid = rd.Kind == ReadResolved && rd.Resolved != nil && out.Resolved != nil && rd.Resolved.Eq(out.Resolved)
		default:
			valid = false
		}

		if !valid {
			break
		}
	}

	if valid {
		sched.FinishValidation(txn, wave)
		return
	}

	if !sched.TryAbort(txn, ver.Incarnation) {
		return
	}

	for _, w := range io.AllWriteSet(txn) {
		mvm.MarkEstimate(w.Path, txn)
	}

	sched.FinishAbort(txn, ver.Incarnation)
}

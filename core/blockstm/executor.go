package blockstm

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Result is one transaction's committed output (spec §6's execute_block
// return value): the final, fully-materialized write set in the exact
// shape a sequential execution of the same block would have produced.
type Result struct {
	Txn    TxnIndex
	Writes TxnOutput
	Err    error
}

// ExecuteBlock runs tasks to completion using Block-STM speculative
// parallel execution (spec §6). concurrency selects the worker count;
// concurrency <= 1 takes spec §8's sequential boundary case by running the
// very same engine with a single worker, since with only one worker no
// incarnation can ever observe another's speculative state.
//
// If the block publishes smart-contract modules in a way that could race
// a concurrent reader (spec §7's module-publishing rule,
// TxnInputOutput.ModulePublishingMayRace), the block is transparently
// re-executed sequentially and the concurrent attempt's results are
// discarded.
func ExecuteBlock(ctx context.Context, tasks []ExecutorTask, base BaseView, concurrency int) ([]Result, error) {
	out, _, err := ExecuteBlockWithStats(ctx, tasks, base, concurrency, nil)
	return out, err
}

// ExecuteBlockWithStats is ExecuteBlock with an optional StatsRecorder for
// building a DAG.Report afterward. Pass nil to skip collection entirely.
// The returned *TxnInputOutput is the last pass's dependency bookkeeping,
// ready to hand to BuildDAG for a Report; it is nil for an empty block.
func ExecuteBlockWithStats(ctx context.Context, tasks []ExecutorTask, base BaseView, concurrency int, stats *StatsRecorder) ([]Result, *TxnInputOutput, error) {
	n := len(tasks)
	if n == 0 {
		return nil, nil, nil
	}

	if concurrency < 1 {
		concurrency = 1
	}

	out, io, racy := runBlockSTM(ctx, tasks, base, concurrency, stats)

	if racy && concurrency > 1 {
		log.Warn("blockstm: module publishing race detected, re-executing block sequentially", "txns", n)
		out, io, _ = runBlockSTM(ctx, tasks, base, 1, stats)
	}

	return out, io, nil
}

// runBlockSTM wires one MultiVersionMap, Scheduler, TxnInputOutput and
// commit coordinator together and runs concurrency workers against them
// (spec §4.1-§4.6 assembled). It reports whether the pass it just ran
// detected a module-publishing race, leaving the retry decision to the
// caller.
func runBlockSTM(ctx context.Context, tasks []ExecutorTask, base BaseView, concurrency int, stats *StatsRecorder) ([]Result, *TxnInputOutput, bool) {
	n := len(tasks)

	mvm := MakeMVHashMap()
	sched := NewScheduler(n)
	io := NewTxnInputOutput(n)

	commits := make(chan CommitResult, n)

	go commitLoop(sched, mvm, io, n, commits)

	var wg sync.WaitGroup

	wg.Add(concurrency)

	for w := 0; w < concurrency; w++ {
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, sched, mvm, base, io, tasks, stats)
		}(w)
	}

	out := make([]Result, 0, n)
	for c := range commits {
		out = append(out, Result{Txn: c.Txn, Writes: c.Writes, Err: c.Err})
	}

	wg.Wait()

	reexecutions := 0
	for _, s := range stats.Snapshot() {
		reexecutions += s.Incarnation
	}

	log.Info("**** blockstm exec summary", "txns", n, "concurrency", concurrency, "re-executions", reexecutions)

	return out, io, io.ModulePublishingMayRace()
}

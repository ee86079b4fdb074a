package fastpath

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
)

// Task is the fast-path analogue of blockstm.ExecutorTask: it executes
// against a plain Snapshot instead of a scheduler-backed
// SpeculativeView, since this driver never blocks on a dependency — a
// stale read is discovered after the fact, via the reservation table,
// rather than prevented up front.
type Task interface {
	Execute(v *View, txn blockstm.TxnIndex) (Output, error)
}

// Output is one task's plain write/delta set, the fast-path equivalent
// of blockstm.Output without the Success/SkipRest/Abort distinction —
// the fast path has no notion of re-execution, so an error simply fails
// the whole block (spec §4.7 doesn't describe a partial-failure mode).
type Output struct {
	Writes []blockstm.WriteDescriptor
	Deltas []blockstm.WriteDescriptor
}

// Config controls batch sizing for Execute.
type Config struct {
	// BatchSize is the number of transactions per batch. Defaults to 64.
	BatchSize int
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 64
	}
	return c.BatchSize
}

// Result mirrors blockstm.Result: one transaction's final write set.
type Result struct {
	Txn    blockstm.TxnIndex
	Writes []blockstm.WriteDescriptor
}

// Execute runs tasks through spec §4.7's fast path: chop the block into
// fixed-size batches, execute each batch's members concurrently against
// one shared snapshot, select the members whose read set didn't collide
// with an earlier writer in the same batch, apply the selected writes,
// and finally re-run every rejected transaction through the hinted
// fallback pass once every batch has been processed.
func Execute(ctx context.Context, tasks []Task, base blockstm.BaseView, cfg Config) ([]Result, error) {
	n := len(tasks)
	if n == 0 {
		return nil, nil
	}

	snap := NewSnapshot(base)
	results := make([]Result, n)

	var discarded []int

	batchSize := cfg.batchSize()

	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}

		selected, rejected, err := runBatch(ctx, tasks, snap, start, end)
		if err != nil {
			return nil, err
		}

		selectedTxns := make([]int, 0, len(selected))
		for txn := range selected {
			selectedTxns = append(selectedTxns, txn)
		}
		sort.Ints(selectedTxns)

		// Two selected transactions can still write the same plain-Value
		// key without conflicting (the reservation table only rejects on
		// read/write collisions, spec §4.7 steps 3-4): applying in
		// ascending index order keeps the result the higher index's write,
		// matching strict sequential semantics instead of map iteration's
		// unspecified order.
		for _, txn := range selectedTxns {
			out := selected[txn]
			snap.apply(out.Writes)
			snap.applyDeltas(out.Deltas)
			results[txn] = Result{Txn: blockstm.TxnIndex(txn), Writes: allWrites(out)}
		}

		discarded = append(discarded, rejected...)
	}

	sort.Ints(discarded)

	// Hinted fallback (spec §4.7 step 6): re-run every discarded
	// transaction, in ascending index order, against the snapshot as it
	// stands once every batch has applied its selected writes.
	for _, txn := range discarded {
		v := &View{snap: snap}

		out, err := tasks[txn].Execute(v, blockstm.TxnIndex(txn))
		if err != nil {
			return nil, err
		}

		snap.apply(out.Writes)
		snap.applyDeltas(out.Deltas)
		results[txn] = Result{Txn: blockstm.TxnIndex(txn), Writes: allWrites(out)}
	}

	return results, nil
}

func allWrites(out Output) []blockstm.WriteDescriptor {
	all := make([]blockstm.WriteDescriptor, 0, len(out.Writes)+len(out.Deltas))
	all = append(all, out.Writes...)
	all = append(all, out.Deltas...)
	return all
}

// runBatch executes tasks[start:end] concurrently against one Snapshot,
// then applies spec §4.7 steps 3-4: build a reservation table of the
// smallest writer index per key touched in the batch, and reject any
// transaction whose read set names a key written by an earlier index
// within the same batch (it read a value staler than what it should have
// seen, since every member read the pre-batch snapshot).
func runBatch(ctx context.Context, tasks []Task, snap *Snapshot, start, end int) (selected map[int]Output, rejected []int, err error) {
	width := end - start
	outputs := make([]Output, width)
	views := make([]*View, width)

	g, gctx := errgroup.WithContext(ctx)

	for i := start; i < end; i++ {
		i := i

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			v := &View{snap: snap}
			views[i-start] = v

			out, err := tasks[i].Execute(v, blockstm.TxnIndex(i))
			if err != nil {
				return err
			}

			outputs[i-start] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	writerIdx := make(map[blockstm.Key]int)

	for i := start; i < end; i++ {
		out := outputs[i-start]

		for _, w := range out.Writes {
			if cur, ok := writerIdx[w.Path]; !ok || i < cur {
				writerIdx[w.Path] = i
			}
		}

		for _, d := range out.Deltas {
			if cur, ok := writerIdx[d.Path]; !ok || i < cur {
				writerIdx[d.Path] = i
			}
		}
	}

	selected = make(map[int]Output)

	for i := start; i < end; i++ {
		conflict := false

		for _, k := range views[i-start].reads {
			if w, ok := writerIdx[k]; ok && w < i {
				conflict = true
				break
			}
		}

		if conflict {
			rejected = append(rejected, i)
			continue
		}

		selected[i] = outputs[i-start]
	}

	return selected, rejected, nil
}

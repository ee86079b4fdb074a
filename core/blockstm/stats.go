package blockstm

import (
	"sync"
	"time"
)

// StatsRecorder collects one ExecutionStat per TxnIndex, keeping whichever
// incarnation finished most recently (an aborted incarnation's sample is
// overwritten by its successor's). dag.go's Report consumes the snapshot
// to compute the block's critical path. A nil *StatsRecorder disables
// collection everywhere it is passed, so callers that don't want the
// overhead simply pass nil.
type StatsRecorder struct {
	mu    sync.Mutex
	stats map[int]ExecutionStat
	epoch time.Time
}

func NewStatsRecorder() *StatsRecorder {
	return &StatsRecorder{stats: make(map[int]ExecutionStat), epoch: time.Now()}
}

func (r *StatsRecorder) begin() uint64 {
	if r == nil {
		return 0
	}
	return uint64(time.Since(r.epoch))
}

func (r *StatsRecorder) finish(txn TxnIndex, start uint64, worker int, incarnation Incarnation) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats[int(txn)] = ExecutionStat{
		Start:       start,
		End:         uint64(time.Since(r.epoch)),
		Worker:      worker,
		Incarnation: int(incarnation),
	}
}

// Snapshot returns a copy of the stats collected so far, safe to hand to
// DAG.Report once the block has finished executing.
func (r *StatsRecorder) Snapshot() map[int]ExecutionStat {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int]ExecutionStat, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}

	return out
}

package blockstm

import "sync/atomic"

// atomicInt is a monotonically-advancing cursor (execution_idx,
// validation_idx, commit_idx in spec §4.3) that also needs an occasional
// CAS-guarded decrease, which atomic.Int64 alone doesn't expose.
type atomicInt struct {
	v atomic.Int64
}

func (a *atomicInt) Load() int { return int(a.v.Load()) }

func (a *atomicInt) Add(delta int) int { return int(a.v.Add(int64(delta))) }

// DecreaseTo folds the cursor down to min(current, to). It never raises it.
func (a *atomicInt) DecreaseTo(to int) {
	for {
		cur := a.v.Load()
		if int64(to) >= cur {
			return
		}
		if a.v.CompareAndSwap(cur, int64(to)) {
			return
		}
	}
}

type atomicUint64 struct {
	v atomic.Uint64
}

func (a *atomicUint64) Load() uint64        { return a.v.Load() }
func (a *atomicUint64) Add(delta uint64) uint64 { return a.v.Add(delta) }

type atomicBool struct {
	v atomic.Bool
}

func (a *atomicBool) Load() bool   { return a.v.Load() }
func (a *atomicBool) Store(b bool) { a.v.Store(b) }

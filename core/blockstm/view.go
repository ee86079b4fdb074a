package blockstm

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/holiman/uint256"
)

// BaseView is the bottom of spec §4.5's read chain: the committed state a
// block executes on top of. A miss here (ErrNotFound) is a genuine
// not-found, distinct from every MultiVersionMap outcome.
type BaseView interface {
	Read(k Key) ([]byte, error)
}

// ErrNotFound is returned by a BaseView when k has no committed value.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "blockstm: key not found in base view" }

// CachingBaseView wraps a BaseView with a fastcache read-through cache,
// shared across every incarnation of every transaction in the block since
// the base view never changes mid-block (spec §4.5's rationale for
// memoizing storage reads across speculative re-executions).
type CachingBaseView struct {
	inner BaseView
	cache *fastcache.Cache
}

// NewCachingBaseView wraps inner with an in-memory cache sized maxBytes.
func NewCachingBaseView(inner BaseView, maxBytes int) *CachingBaseView {
	return &CachingBaseView{inner: inner, cache: fastcache.New(maxBytes)}
}

func (c *CachingBaseView) Read(k Key) ([]byte, error) {
	ck := cacheKey(k)

	if v, ok := c.cache.HasGet(nil, ck); ok {
		if len(v) == 0 {
			return nil, ErrNotFound
		}
		return v, nil
	}

	v, err := c.inner.Read(k)
	if err != nil {
		c.cache.Set(ck, nil)
		return nil, err
	}

	c.cache.Set(ck, v)

	return v, nil
}

func cacheKey(k Key) []byte {
	buf := make([]byte, 0, 1+len(k.Address)+len(k.Slot))
	buf = append(buf, byte(k.Kind))
	buf = append(buf, k.Address[:]...)
	if k.Kind == KeyStorage {
		buf = append(buf, k.Slot[:]...)
	}
	return buf
}

// SpeculativeView is spec §4.5's per-incarnation read adapter: every read a
// task performs during one Execute call goes through here, which resolves
// it against the MultiVersionMap, falls through to the BaseView on a
// genuine miss, blocks on the scheduler's dependency mechanism on a
// Dependency outcome, and records a ReadDescriptor for later validation.
type SpeculativeView struct {
	mvm       *MultiVersionMap
	base      BaseView
	scheduler *Scheduler
	txn       TxnIndex

	reads TxnInput
}

// NewSpeculativeView constructs the view a worker hands to ExecutorTask.Execute
// for one incarnation of txn.
func NewSpeculativeView(mvm *MultiVersionMap, base BaseView, scheduler *Scheduler, txn TxnIndex) *SpeculativeView {
	return &SpeculativeView{mvm: mvm, base: base, scheduler: scheduler, txn: txn}
}

// ReadBytes resolves k as an ordinary (non-aggregator) value (spec §4.5).
func (v *SpeculativeView) ReadBytes(k Key) ([]byte, error) {
	for {
		out, ferr := v.mvm.FetchData(k, v.txn)
		if ferr == nil {
			switch out.Kind {
			case OutputVersioned:
				v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadVersion, Version: out.Version})
				return out.Value, nil
			case OutputResolved:
				v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadResolved, Resolved: out.Resolved})
				b := out.Resolved.Bytes32()
				return b[:], nil
			}
		}

		switch ferr.Kind {
		case FetchNotFound:
			val, err := v.base.Read(k)
			if err == ErrNotFound {
				v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadStorage})
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadStorage})
			return val, nil

		case FetchDependency:
			v.blockOnDependency(ferr.Dependency)
			continue

		case FetchUnresolved:
			if err := v.resolveBase(k); err != nil {
				return nil, err
			}
			continue

		case FetchDeltaApplicationFailure:
			v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadDeltaApplicationFailure})
			return nil, ErrDeltaOverflow
		}
	}
}

// ReadAggregator resolves k as an aggregator value, following delta chains
// and materializing against the base view when necessary (spec §4.5's
// resolve-and-retry loop).
func (v *SpeculativeView) ReadAggregator(k Key) (*uint256.Int, error) {
	for {
		out, ferr := v.mvm.FetchData(k, v.txn)
		if ferr == nil {
			switch out.Kind {
			case OutputVersioned:
				v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadVersion, Version: out.Version})
				return new(uint256.Int).SetBytes(out.Value), nil
			case OutputResolved:
				v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadResolved, Resolved: out.Resolved})
				return out.Resolved, nil
			}
		}

		switch ferr.Kind {
		case FetchNotFound:
			val, err := v.base.Read(k)
			if err == ErrNotFound {
				val = nil
			} else if err != nil {
				return nil, err
			}
			v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadStorage})
			return new(uint256.Int).SetBytes(val), nil

		case FetchDependency:
			v.blockOnDependency(ferr.Dependency)
			continue

		case FetchUnresolved:
			if err := v.resolveBase(k); err != nil {
				return nil, err
			}
			continue

		case FetchDeltaApplicationFailure:
			v.reads = append(v.reads, ReadDescriptor{Path: k, Kind: ReadDeltaApplicationFailure})
			return nil, ErrDeltaOverflow
		}
	}
}

// resolveBase reads k's committed base value and memoizes it on the MVM so
// the next fetch resolves the pending delta chain.
func (v *SpeculativeView) resolveBase(k Key) error {
	val, err := v.base.Read(k)
	if err == ErrNotFound {
		val = nil
	} else if err != nil {
		return err
	}

	v.mvm.SetAggregatorBaseValue(k, new(uint256.Int).SetBytes(val))

	return nil
}

// blockOnDependency asks the scheduler to suspend this worker until dep's
// current incarnation finishes (spec §4.4's dependency mechanism). If dep
// has already finished by the time of the call, it returns immediately.
func (v *SpeculativeView) blockOnDependency(dep TxnIndex) {
	wait, ok := v.scheduler.AddDependency(v.txn, dep)
	if !ok {
		return
	}

	<-wait
}

// ReadSet returns every read this incarnation has performed so far.
func (v *SpeculativeView) ReadSet() TxnInput { return v.reads }

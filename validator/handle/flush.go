package handle

import (
	"sync/atomic"

	"github.com/shardnet/shardvalidator/validator/metrics"
)

// Flusher is the narrow storage capability the Handle needs to persist
// itself; validator/storage.Storage satisfies it.
type Flusher interface {
	StoreBlockHandle(h *Handle) error
}

// Flush asks storage to persist the handle if it is dirty, then records the
// version as written. Concurrent flushes naturally coalesce: a flush started
// after another one reads the already-current version and is a no-op.
//
// spec.md §4.1: "flush(storage, self, cb) asks the storage collaborator to
// persist the current version and calls flushed_upto(v) when stable."
func (h *Handle) Flush(storage Flusher) error {
	target := atomic.LoadUint64(&h.version)
	if atomic.LoadUint64(&h.writtenVersion) >= target {
		return nil
	}
	if err := storage.StoreBlockHandle(h); err != nil {
		return err
	}
	metrics.HandlesFlushed.Inc()
	h.flushedUpto(target)
	return nil
}

// flushedUpto advances writtenVersion to at least v, never regressing it if a
// later, larger flush already completed concurrently.
func (h *Handle) flushedUpto(v uint64) {
	for {
		cur := atomic.LoadUint64(&h.writtenVersion)
		if cur >= v {
			return
		}
		if atomic.CompareAndSwapUint64(&h.writtenVersion, cur, v) {
			return
		}
	}
}

// WrittenVersion returns the last version known to be durable.
func (h *Handle) WrittenVersion() uint64 { return atomic.LoadUint64(&h.writtenVersion) }

// AssertFlushed panics with a contract violation if the handle still needs a
// flush. Callers (e.g. a handle cache evicting an entry) must flush before
// dropping the last reference, mirroring the destructor assertion in
// original_source/validator/block-handle.hpp.
func (h *Handle) AssertFlushed() {
	if h.NeedFlush() {
		panic("block handle dropped with need_flush == true")
	}
}

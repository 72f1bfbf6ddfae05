package manager

import (
	"sync"

	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// pendingTip is one out-of-order masterchain tip buffered ahead of the
// expected next seqno (spec.md §4.10, §8 scenario S5).
type pendingTip struct {
	h     *handle.Handle
	state storage.ShardState
	done  func(error)
}

// tipQueue linearises masterchain tip advances by strict seqno order:
// new_masterchain_block only fires once, in order, never skipping a seqno.
type tipQueue struct {
	mu         sync.Mutex
	haveNext   bool
	nextSeqno  uint32
	pending    map[uint32]*pendingTip
	broadcast  chan struct{}
}

func newTipQueue() *tipQueue {
	return &tipQueue{pending: make(map[uint32]*pendingTip), broadcast: make(chan struct{})}
}

// seed sets the expected next seqno from a tip already known at startup
// (e.g. restored from storage). Only valid before the first submit.
func (q *tipQueue) seed(currentSeqno uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.haveNext {
		return
	}
	q.haveNext = true
	q.nextSeqno = currentSeqno + 1
}

// submit enqueues (h, state) for application. If h's seqno is the next
// expected one, apply is invoked immediately and then for every
// subsequently-contiguous buffered entry, in order; out-of-order entries are
// held until their turn. done, if non-nil, is called exactly once, when this
// specific tip has actually been applied (never before an earlier seqno).
func (q *tipQueue) submit(h *handle.Handle, state storage.ShardState, done func(error), apply func(*handle.Handle, storage.ShardState)) {
	seqno := h.ID().Seqno

	q.mu.Lock()
	if !q.haveNext {
		q.haveNext = true
		q.nextSeqno = seqno
	}
	if seqno != q.nextSeqno {
		q.pending[seqno] = &pendingTip{h: h, state: state, done: done}
		metrics.PendingMasterchainTips.Set(float64(len(q.pending)))
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.applyAndDrain(h, state, done, apply)
}

func (q *tipQueue) applyAndDrain(h *handle.Handle, state storage.ShardState, done func(error), apply func(*handle.Handle, storage.ShardState)) {
	apply(h, state)
	if done != nil {
		done(nil)
	}
	q.advance(h.ID().Seqno)

	for {
		q.mu.Lock()
		next := q.nextSeqno
		t, ok := q.pending[next]
		if ok {
			delete(q.pending, next)
			metrics.PendingMasterchainTips.Set(float64(len(q.pending)))
		}
		q.mu.Unlock()
		if !ok {
			return
		}
		apply(t.h, t.state)
		if t.done != nil {
			t.done(nil)
		}
		q.advance(t.h.ID().Seqno)
	}
}

// advance bumps nextSeqno past seqno and closes the channel handed out by
// waitChan, waking anyone blocked on it.
func (q *tipQueue) advance(seqno uint32) {
	q.mu.Lock()
	if seqno+1 > q.nextSeqno {
		q.nextSeqno = seqno + 1
	}
	ch := q.broadcast
	q.broadcast = make(chan struct{})
	q.mu.Unlock()
	close(ch)
}

// current returns the highest seqno known to have been applied in order
// (nextSeqno - 1), or false if nothing has been applied yet.
func (q *tipQueue) current() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.haveNext || q.nextSeqno == 0 {
		return 0, false
	}
	return q.nextSeqno - 1, true
}

// waitChan returns the current broadcast channel, closed the next time the
// tip advances; callers re-check current() after it closes.
func (q *tipQueue) waitChan() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.broadcast
}

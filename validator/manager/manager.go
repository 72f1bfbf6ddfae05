// Package manager implements the Validator Manager (spec.md §4.10): the
// central dispatch the rest of the validator core hangs off. It owns the
// block-handle cache, linearises masterchain tip advances, tracks key
// blocks, diff-applies validator groups against the current shard topology,
// and fronts the external-message pool and shard-top-block buffer for the
// wire-facing RunExtQuery/OnShardTopBlock entry points. Grounded on
// original_source/validator/manager.cpp for the responsibilities and on
// validator/group and validator/collation for the composition style.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/extmsgpool"
	"github.com/shardnet/shardvalidator/validator/group"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/params"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
	"github.com/shardnet/shardvalidator/validator/topshard"
	"github.com/shardnet/shardvalidator/validator/waitfor"
)

// Manager is the Validator Manager. Zero value is not usable; build one
// with New.
type Manager struct {
	opts  *params.Options
	store storage.Storage

	handles *handleCache
	tips    *tipQueue
	waitFor *waitfor.Registry
	extMsgs *extmsgpool.Pool
	topShard *topshard.Buffer
	groups  *groupTable

	collator  group.Collator
	validator group.CandidateValidator
	applier   group.Applier

	mu                    sync.Mutex
	topology              Topology
	masterTip             shardid.IDExt
	masterTipHandle       *handle.Handle
	lastKeyBlock          *handle.Handle
	lastKnownPeerKeyBlock *handle.Handle

	// NewMasterTip emits the new tip's id every time a masterchain block is
	// applied in order (never out of order; see pendingtips.go).
	NewMasterTip event.Feed
	// KeyBlockFound emits a key block's id the first time the manager
	// observes it as its own new masterchain tip.
	KeyBlockFound event.Feed
}

// New constructs a Manager. checker performs the external-message pool's
// preliminary validation; collator/validator/applier are the per-group
// collaborators threaded into every constructed validator/group.Group.
func New(opts *params.Options, store storage.Storage, checker extmsgpool.Checker, collator group.Collator, validator group.CandidateValidator, applier group.Applier) *Manager {
	if opts == nil {
		opts = params.DefaultOptions()
	}
	return &Manager{
		opts:      opts,
		store:     store,
		handles:   newHandleCache(store, opts.HandleLRUMaxSize),
		tips:      newTipQueue(),
		waitFor:   waitfor.NewRegistry(),
		extMsgs:   extmsgpool.New(opts, checker),
		topShard:  topshard.New(),
		groups:    newGroupTable(),
		collator:  collator,
		validator: validator,
		applier:   applier,
	}
}

// Seed primes the tip queue from a masterchain seqno already known at
// startup (e.g. restored from storage), so the first OnNewMasterchainBlock
// after a restart does not mistake a routine next block for an out-of-order
// one.
func (m *Manager) Seed(currentMasterchainSeqno uint32) {
	m.tips.seed(currentMasterchainSeqno)
}

// GetBlockHandle resolves a block's handle, consulting storage and, if
// force is set, creating one on a miss (spec.md §4.1, §4.10 handles_ cache).
func (m *Manager) GetBlockHandle(id shardid.IDExt, force bool) (*handle.Handle, bool, error) {
	return m.handles.get(id, force)
}

// WaitFor attaches to (or starts) the deduplicated fetch for key (spec.md
// §4.2), so collaborators never issue two in-flight fetches for the same
// datum.
func (m *Manager) WaitFor(ctx context.Context, key string, deadline time.Time, priority int, fetch waitfor.FetchFunc) (interface{}, error) {
	return m.waitFor.Wait(ctx, key, deadline, priority, fetch)
}

// MasterTip returns the current applied masterchain tip, or false before the
// first OnNewMasterchainBlock call.
func (m *Manager) MasterTip() (shardid.IDExt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.masterTipHandle == nil {
		return shardid.IDExt{}, false
	}
	return m.masterTip, true
}

// OnNewMasterchainBlock submits a newly-applied masterchain block for
// in-order linearisation (spec.md §8 scenario S5): out-of-order tips are
// buffered and drained strictly by seqno. topo is the shard configuration
// derived from this block's state, swapped in atomically with the tip
// advance so every group diff sees a topology consistent with its tip.
// done, if non-nil, fires once this specific tip has actually advanced the
// manager's view (never ahead of an earlier seqno still pending).
func (m *Manager) OnNewMasterchainBlock(h *handle.Handle, state storage.ShardState, topo Topology, done func(error)) {
	m.tips.submit(h, state, done, func(h *handle.Handle, state storage.ShardState) {
		m.applyMasterTip(h, topo)
	})
}

func (m *Manager) applyMasterTip(h *handle.Handle, topo Topology) {
	m.mu.Lock()
	m.masterTip = h.ID()
	m.masterTipHandle = h
	m.topology = topo
	if h.InitedIsKeyBlock() && h.IsKeyBlock() {
		m.lastKeyBlock = h
	}
	keyBlock := m.lastKeyBlock
	m.mu.Unlock()

	metrics.MasterchainTipSeqno.Set(float64(h.ID().Seqno))

	if keyBlock != nil && keyBlock.ID() == h.ID() {
		m.KeyBlockFound.Send(h.ID())
	}

	if topo != nil {
		m.topShard.FilterByTip(topo)
		wantedActive, wantedNext := computeWanted(topo, m.opts.Hash())
		m.groups.diffApply(m, wantedActive, wantedNext)
	}

	m.NewMasterTip.Send(h.ID())
}

// UpdateTopology recomputes the active/next validator-group diff against
// topo without advancing the masterchain tip, for a periodic re-check of
// imminent split/merge anticipation (spec.md §4.10 "anticipates shards
// reachable by split/merge within a lookahead window").
func (m *Manager) UpdateTopology(topo Topology) {
	m.mu.Lock()
	m.topology = topo
	m.mu.Unlock()
	wantedActive, wantedNext := computeWanted(topo, m.opts.Hash())
	m.groups.diffApply(m, wantedActive, wantedNext)
}

// waitMasterchainSeqno blocks until the applied tip has reached seqno, ctx
// is cancelled, or deadline passes.
func (m *Manager) waitMasterchainSeqno(ctx context.Context, seqno uint32, deadline time.Time) error {
	for {
		if cur, ok := m.tips.current(); ok && cur >= seqno {
			return nil
		}
		ch := m.tips.waitChan()
		var timeout <-chan time.Time
		if !deadline.IsZero() {
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return codes.Wrap(codes.Cancelled, ctx.Err(), "wait for masterchain seqno %d cancelled", seqno)
		case <-timeout:
			return codes.New(codes.Timeout, "timed out waiting for masterchain seqno %d", seqno)
		}
	}
}

// RunExtQuery is the wire-query entry point for an inbound external message
// (spec.md §4.10): when waitForSeqno is non-zero, it first stalls until that
// masterchain seqno has been applied, then delegates admission to the
// external-message pool.
func (m *Manager) RunExtQuery(ctx context.Context, data []byte, waitForSeqno uint32, priority int, deadline time.Time) (*shardid.ExternalMessage, error) {
	if waitForSeqno > 0 {
		if err := m.waitMasterchainSeqno(ctx, waitForSeqno, deadline); err != nil {
			return nil, err
		}
	}
	return m.extMsgs.CheckAdd(data, priority, true)
}

// ExtMessagesForCollator returns the pooled messages ready for a collator
// serving shardPrefix.
func (m *Manager) ExtMessagesForCollator(shardPrefix uint64) []extmsgpool.Ranked {
	return m.extMsgs.GetForCollator(shardPrefix)
}

// CompleteExtMessages reports the outcome of a collation attempt back to the
// pool (spec.md §4.7).
func (m *Manager) CompleteExtMessages(toDelay, toDelete [][32]byte) {
	m.extMsgs.Complete(toDelay, toDelete)
}

// OnShardTopBlock admits a gossiped shard-top-block description if it may
// be valid against the current master tip's shard configuration (spec.md
// §4.8), returning false (and not retaining it) otherwise.
func (m *Manager) OnShardTopBlock(d *shardid.TopShardBlockDescription, local bool) bool {
	m.mu.Lock()
	topo := m.topology
	m.mu.Unlock()
	if topo == nil || !shardid.MayBeValid(d, topo) {
		return false
	}
	m.topShard.Add(d, local)
	return true
}

// ShardTopBlocks returns every retained shard-top-block description still
// valid against the current tip.
func (m *Manager) ShardTopBlocks() []*shardid.TopShardBlockDescription {
	m.mu.Lock()
	topo := m.topology
	m.mu.Unlock()
	if topo == nil {
		return nil
	}
	return m.topShard.FilterByTip(topo)
}

// RebroadcastShardTop re-sends every locally-generated shard-top-block
// description still retained, via send.
func (m *Manager) RebroadcastShardTop(send func(*shardid.TopShardBlockDescription)) {
	m.topShard.Rebroadcast(send)
}

// PeekKeyBlock records h as the most recent key block learned from a peer
// (e.g. during catch-up), independent of the manager's own applied tip.
func (m *Manager) PeekKeyBlock(h *handle.Handle) {
	if !h.InitedIsKeyBlock() || !h.IsKeyBlock() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastKnownPeerKeyBlock == nil || h.ID().Seqno > m.lastKnownPeerKeyBlock.ID().Seqno {
		m.lastKnownPeerKeyBlock = h
	}
}

// LastKeyBlock returns the most recent key block among this node's own
// applied masterchain tips.
func (m *Manager) LastKeyBlock() (*handle.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastKeyBlock, m.lastKeyBlock != nil
}

// LastKnownPeerKeyBlock returns the most recent key block learned via
// PeekKeyBlock, which may be ahead of LastKeyBlock during catch-up.
func (m *Manager) LastKnownPeerKeyBlock() (*handle.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastKnownPeerKeyBlock, m.lastKnownPeerKeyBlock != nil
}

// refSeqno returns the masterchain seqno a handle is GC-anchored to: its own
// seqno for a masterchain block, or its stored masterchain ref for anything
// else. ok is false if the anchor is not yet known.
func (m *Manager) refSeqno(h *handle.Handle) (uint32, bool) {
	if h.IsMasterchain() {
		return h.ID().Seqno, true
	}
	if !h.InitedMasterchainRefBlock() {
		return 0, false
	}
	return h.MasterchainRefSeqno(), true
}

// gcBoundary returns the masterchain seqno below which blocks are eligible
// for garbage collection, trailing the current tip by opts.GCAdvanceMargin.
func (m *Manager) gcBoundary() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.masterTipHandle == nil {
		return 0, false
	}
	tip := m.masterTip.Seqno
	if tip < m.opts.GCAdvanceMargin {
		return 0, false
	}
	return tip - m.opts.GCAdvanceMargin, true
}

// AllowBlockStateGC reports whether h's materialised state may be dropped:
// it must already be processed and anchored strictly behind the gc
// boundary (spec.md §4.10 gc predicates).
func (m *Manager) AllowBlockStateGC(h *handle.Handle) bool {
	if !h.Processed() {
		return false
	}
	seqno, ok := m.refSeqno(h)
	if !ok {
		return false
	}
	boundary, ok := m.gcBoundary()
	return ok && seqno < boundary
}

// AllowBlockInfoGC reports whether h's block data/proof/handle may be
// dropped in favour of its archive copy. It applies the same processed and
// behind-the-gc-boundary test as AllowBlockStateGC; it does not check
// whether the state has already been dropped.
func (m *Manager) AllowBlockInfoGC(h *handle.Handle) bool {
	if !h.Processed() {
		return false
	}
	seqno, ok := m.refSeqno(h)
	if !ok {
		return false
	}
	boundary, ok := m.gcBoundary()
	return ok && seqno < boundary
}

// AllowArchiveGC reports whether h's archive copy may itself be dropped: the
// block must already have been moved to the archive.
func (m *Manager) AllowArchiveGC(h *handle.Handle) bool {
	if !h.Archived() {
		return false
	}
	seqno, ok := m.refSeqno(h)
	if !ok {
		return false
	}
	boundary, ok := m.gcBoundary()
	return ok && seqno < boundary
}

// ActiveGroupCount and NextGroupCount report the current validator-group
// table sizes, for diagnostics and tests.
func (m *Manager) ActiveGroupCount() int { return m.groups.activeCount() }
func (m *Manager) NextGroupCount() int   { return m.groups.nextCount() }

// ActiveGroup returns the live validator/group.Group for shardPrefix, if the
// local node currently validates it.
func (m *Manager) ActiveGroup(shardPrefix uint64) (*group.Group, bool) {
	return m.groups.activeGroup(shardPrefix)
}

// CandidateState exposes shardPrefix's active group's pending-candidate
// Candidates Buffer (spec.md §4.5) to callers that are not the group's own
// consensus callbacks, e.g. an RPC handler inspecting an unconfirmed
// candidate or an optimistic collator deciding what to build on next.
func (m *Manager) CandidateState(ctx context.Context, shardPrefix uint64, id shardid.IDExt) (storage.ShardState, error) {
	g, ok := m.ActiveGroup(shardPrefix)
	if !ok {
		return nil, codes.New(codes.NotReady, "no active validator group for shard %x", shardPrefix)
	}
	return g.CandidateState(ctx, id)
}

// FlushHandles flushes every cached block handle to storage; intended for
// use during an orderly shutdown.
func (m *Manager) FlushHandles() error {
	return m.handles.flushAll()
}

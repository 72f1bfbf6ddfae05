package manager

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/shardnet/shardvalidator/validator/group"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// groupFingerprint is the "(shard, validator_set, opts_hash,
// last_key_block_seqno)" canonical hash spec.md §4.10 uses to decide which
// previous group carries over across a topology recompute and which is
// garbage collected.
type groupFingerprint [32]byte

func computeFingerprint(shardPrefix uint64, vs *shardid.ValidatorSet, optsHash [32]byte, lastKeyBlockSeqno uint32) groupFingerprint {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], shardPrefix)
	h.Write(buf[:])
	vsHash := vs.Hash()
	h.Write(vsHash[:])
	h.Write(optsHash[:])
	binary.BigEndian.PutUint32(buf[:4], lastKeyBlockSeqno)
	h.Write(buf[:4])
	var out groupFingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// wantedGroup is one entry this topology recompute says should exist, either
// as the active group for its shard or as the prepared "next" group for an
// imminent split/merge (spec.md §4.10 "imminent shard anticipations 60s
// ahead").
type wantedGroup struct {
	id            shardid.ID
	catchainSeqno uint32
	nextSeqno     uint32
	vs            *shardid.ValidatorSet
	fp            groupFingerprint
}

// groupEntry pairs a live Group with the bookkeeping needed to diff it
// against the next topology recompute.
type groupEntry struct {
	wanted    wantedGroup
	sessionID group.SessionID
	g         *group.Group
}

// groupTable is the sole owner of active/next validator groups, enforcing
// spec.md §8 invariant 4: at most one active group per (shard, catchain
// seqno), plus optionally one next group for the same shard's next catchain
// seqno.
type groupTable struct {
	mu     sync.Mutex
	active map[uint64]*groupEntry // keyed by shard prefix
	next   map[uint64]*groupEntry
}

func newGroupTable() *groupTable {
	return &groupTable{active: make(map[uint64]*groupEntry), next: make(map[uint64]*groupEntry)}
}

// computeWanted derives the active and next wantedGroup sets from topo, per
// spec.md §4.10: a shard is wanted active when the local node is a validator
// in its current validator set; a shard pending split contributes a wanted
// next entry for each child at catchain_seqno+1, and a shard pending merge
// contributes one wanted next entry for the merged parent.
func computeWanted(topo Topology, optsHash [32]byte) (active, next map[uint64]wantedGroup) {
	active = make(map[uint64]wantedGroup)
	next = make(map[uint64]wantedGroup)
	lastKB := topo.LastKeyBlockSeqno()
	visitedParents := make(map[uint64]bool)

	for _, shardPrefix := range topo.Shards() {
		info, ok := topo.ShardInfo(shardPrefix)
		if !ok {
			continue
		}
		wc := topo.Workchain(shardPrefix)

		if vs, err := topo.ValidatorSet(shardPrefix, info.CatchainSeqno); err == nil && vs != nil && topo.IsLocalValidator(vs) {
			active[shardPrefix] = wantedGroup{
				id:            shardid.ID{Workchain: wc, ShardPrefix: shardPrefix},
				catchainSeqno: info.CatchainSeqno,
				nextSeqno:     info.TopSeqno + 1,
				vs:            vs,
				fp:            computeFingerprint(shardPrefix, vs, optsHash, lastKB),
			}
		}

		switch info.FSM {
		case shardid.ShardFSMSplit:
			for _, left := range [2]bool{true, false} {
				child := shardid.ShardChild(shardPrefix, left)
				nvs, err := topo.ValidatorSet(child, info.CatchainSeqno+1)
				if err != nil || nvs == nil || !topo.IsLocalValidator(nvs) {
					continue
				}
				next[child] = wantedGroup{
					id:            shardid.ID{Workchain: wc, ShardPrefix: child},
					catchainSeqno: info.CatchainSeqno + 1,
					nextSeqno:     1,
					vs:            nvs,
					fp:            computeFingerprint(child, nvs, optsHash, lastKB),
				}
			}
		case shardid.ShardFSMMerge:
			parent := shardid.ShardParent(shardPrefix)
			if visitedParents[parent] {
				continue
			}
			visitedParents[parent] = true
			nvs, err := topo.ValidatorSet(parent, info.CatchainSeqno+1)
			if err != nil || nvs == nil || !topo.IsLocalValidator(nvs) {
				continue
			}
			next[parent] = wantedGroup{
				id:            shardid.ID{Workchain: wc, ShardPrefix: parent},
				catchainSeqno: info.CatchainSeqno + 1,
				nextSeqno:     info.TopSeqno + 1,
				vs:            nvs,
				fp:            computeFingerprint(parent, nvs, optsHash, lastKB),
			}
		}
	}
	return active, next
}

func toMembers(vs *shardid.ValidatorSet) []group.Member {
	out := make([]group.Member, len(vs.List))
	for i, v := range vs.List {
		out[i] = group.Member{AdnlID: v.AdnlID, Weight: v.Weight}
	}
	return out
}

// diffApply reconciles the current active/next group tables against wanted,
// creating, carrying over, or scheduling deletion for each shard, per
// spec.md §4.10.
func (t *groupTable) diffApply(m *Manager, wantedActive, wantedNext map[uint64]wantedGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop active entries no longer wanted, deferring teardown.
	for shardPrefix, e := range t.active {
		if _, ok := wantedActive[shardPrefix]; ok {
			continue
		}
		t.scheduleDestroy(shardPrefix, e, t.active)
	}

	// Drop next entries no longer wanted; these never started catchain, so
	// there is no deferred teardown and no active-groups metric to unwind.
	for shardPrefix := range t.next {
		if _, ok := wantedNext[shardPrefix]; ok {
			continue
		}
		delete(t.next, shardPrefix)
	}

	// Materialise or carry over every wanted active entry.
	for shardPrefix, w := range wantedActive {
		if e, ok := t.active[shardPrefix]; ok {
			if e.wanted.fp == w.fp {
				continue // unchanged, nothing to do
			}
			// Fingerprint changed under the same shard: the old session is
			// superseded. If it happens to match a prepared next group,
			// promote that one instead of building fresh.
			t.scheduleDestroy(shardPrefix, e, t.active)
		}
		// Start's prevIDs/minMcRef are left empty here: the shard's actual
		// tip block id is tracked by the storage collaborator, not by this
		// diff layer, which only knows (shard, catchain_seqno, validator
		// set). The caller is expected to seed a freshly-started group's
		// prevBlockIDs out of band once before collation begins, the same
		// way Seed primes the master tip queue after a restart.
		if ne, ok := t.next[shardPrefix]; ok && ne.wanted.fp == w.fp {
			delete(t.next, shardPrefix)
			t.active[shardPrefix] = ne
			ne.g.Start(nil, shardid.IDExt{}) // Start itself increments metrics.ActiveValidatorGroups
			metrics.ValidatorGroupsCarriedOver.Inc()
			continue
		}
		t.active[shardPrefix] = m.newGroupEntry(w)
		t.active[shardPrefix].g.Start(nil, shardid.IDExt{}) // ditto
	}

	// Materialise every wanted next entry not already prepared. Next groups
	// are never Start()ed, so they deliberately do not touch
	// metrics.ActiveValidatorGroups; NextGroupCount exposes their count.
	for shardPrefix, w := range wantedNext {
		if e, ok := t.next[shardPrefix]; ok && e.wanted.fp == w.fp {
			continue
		}
		t.next[shardPrefix] = m.newGroupEntry(w)
	}
}

// scheduleDestroy removes e from table and defers its Group's teardown by
// the group package's own destroy-delay, which also owns decrementing
// metrics.ActiveValidatorGroups once teardown completes.
func (t *groupTable) scheduleDestroy(shardPrefix uint64, e *groupEntry, table map[uint64]*groupEntry) {
	delete(table, shardPrefix)
	e.g.Destroy(nil)
}

func (m *Manager) newGroupEntry(w wantedGroup) *groupEntry {
	cfg := group.Config{
		Shard:             w.id,
		CatchainSeqno:     w.catchainSeqno,
		ConfigHash:        m.configHashOf(),
		VerticalSeqno:     m.opts.VerticalSeqno(w.nextSeqno),
		LastKeyBlockSeqno: m.lastKeyBlockSeqnoOf(),
		Members:           toMembers(w.vs),
	}
	sid := group.ComputeSessionID(cfg, m.opts)
	g := group.New(sid, w.id, w.catchainSeqno, w.vs, m.store, m.collator, m.validator, m.applier, m.opts.ApplyBlockPriority)
	return &groupEntry{wanted: w, sessionID: sid, g: g}
}

func (m *Manager) configHashOf() [32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topology == nil {
		return [32]byte{}
	}
	return m.topology.ConfigHash()
}

func (m *Manager) lastKeyBlockSeqnoOf() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topology == nil {
		return 0
	}
	return m.topology.LastKeyBlockSeqno()
}

// ActiveGroupCount reports the number of currently active validator groups,
// for tests and diagnostics.
func (t *groupTable) activeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *groupTable) nextCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.next)
}

// ActiveGroup returns the live active Group for a shard prefix, if any.
func (t *groupTable) activeGroup(shardPrefix uint64) (*group.Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[shardPrefix]
	if !ok {
		return nil, false
	}
	return e.g, true
}

// Package applyblock implements the Apply-Block Orchestrator (spec.md §4.3):
// the staged state machine that walks a block's predecessor DAG and brings
// it from "data present" to "applied, next pointer set, state persisted".
// Grounded on beacon-chain/blockchain/process_block.go's onBlock staged
// pipeline (fetch prerequisites -> transition -> persist -> bookkeeping) and
// original_source/validator/apply-block.cpp for the exact stage order.
package applyblock

import (
	"context"
	"sync"
	"time"

	"go.opencensus.io/trace"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// DataFetcher resolves a block's raw bytes when not already supplied by the
// caller (the Wait-For Registry's "block-data" algorithm, spec.md §4.2).
type DataFetcher func(ctx context.Context, id shardid.IDExt, priority int) ([]byte, error)

// PrevStateFetcher resolves the materialised predecessor state for a block,
// composing split/merge as needed (the Wait-For Registry's "prev-state"
// algorithm, spec.md §4.2).
type PrevStateFetcher func(ctx context.Context, h *handle.Handle, priority int) (storage.ShardState, error)

// Orchestrator drives ApplyBlock. One Orchestrator is shared across all
// blocks; in-flight calls for the same id are deduped internally so the
// "apply-block is idempotent" property (spec.md §8 property 5) holds
// regardless of caller discipline.
type Orchestrator struct {
	store      storage.Storage
	fetchData  DataFetcher
	fetchState PrevStateFetcher
	priority   int

	mu       sync.Mutex
	inflight map[shardid.IDExt]*call
}

type call struct {
	done chan struct{}
	err  error
}

// New constructs an Orchestrator. priority is the "apply_block_priority"
// named in spec.md §4.3 stage 5, a high-but-not-top wait-for priority.
func New(store storage.Storage, fetchData DataFetcher, fetchState PrevStateFetcher, priority int) *Orchestrator {
	return &Orchestrator{
		store:      store,
		fetchData:  fetchData,
		fetchState: fetchState,
		priority:   priority,
		inflight:   make(map[shardid.IDExt]*call),
	}
}

// Apply runs the 11-stage orchestration for id. data may be nil if the
// caller has no block bytes in hand (the fetcher will be used instead).
// masterchainRef is the masterchain block this application is anchored to,
// used to populate masterchain_ref_seqno on non-master blocks.
func (o *Orchestrator) Apply(ctx context.Context, id shardid.IDExt, data []byte, masterchainRef shardid.IDExt, deadline time.Time) error {
	o.mu.Lock()
	if c, ok := o.inflight[id]; ok {
		o.mu.Unlock()
		<-c.done
		return c.err
	}
	c := &call{done: make(chan struct{})}
	o.inflight[id] = c
	o.mu.Unlock()

	c.err = o.run(ctx, id, data, masterchainRef, deadline)

	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
	close(c.done)
	return c.err
}

func (o *Orchestrator) run(ctx context.Context, id shardid.IDExt, data []byte, masterchainRef shardid.IDExt, deadline time.Time) error {
	start := time.Now()
	ctx, span := trace.StartSpan(ctx, "applyblock.Apply")
	defer span.End()
	defer func() { metrics.ApplyBlockDuration.Observe(time.Since(start).Seconds()) }()

	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	// Stage 1: resolve handle (create empty if unknown).
	h, ok, err := o.store.GetBlockHandle(id)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "get block handle %s", id)
	}
	if !ok {
		h = handle.NewFromID(id)
		if err := o.store.StoreBlockHandle(h); err != nil {
			return codes.Wrap(codes.DBError, err, "store new block handle %s", id)
		}
	}

	// Stage 2: already applied?
	if h.Applied() {
		if !h.IsMasterchain() || h.Processed() {
			return o.finish(h)
		}
		h.SetProcessed()
		return o.finish(h)
	}

	// Stage 4: archived blocks are terminal.
	if h.Archived() {
		return o.finish(h)
	}

	// Stage 3: zerostate jumps straight to the "data known" branch: there is
	// no predecessor to wait on.
	if id.Seqno == 0 {
		return o.applyZerostate(ctx, h)
	}

	// Stage 5: ensure block data is present.
	if !h.Received() {
		if len(data) > 0 {
			if err := o.store.StoreBlockData(h, data); err != nil {
				return codes.Wrap(codes.DBError, err, "store block data %s", id)
			}
			h.SetReceived()
		} else {
			fetched, err := o.fetchData(ctx, id, o.priority)
			if err != nil {
				return err
			}
			if err := o.store.StoreBlockData(h, fetched); err != nil {
				return codes.Wrap(codes.DBError, err, "store fetched block data %s", id)
			}
			h.SetReceived()
		}
	}

	// Stage 6: post-data invariants.
	if h.IsMasterchain() {
		if !h.InitedProof() {
			return codes.New(codes.ProtoViolation, "masterchain block %s applied without a proof", id)
		}
	} else if !h.InitedProofLink() {
		return codes.New(codes.ProtoViolation, "non-masterchain block %s applied without a proof link", id)
	}
	if !h.InitedPrev() {
		return codes.New(codes.ProtoViolation, "block %s applied without prev pointers inited", id)
	}
	if !h.InitedStateRootHash() || !h.InitedLogicalTime() {
		return codes.New(codes.ProtoViolation, "block %s applied without state-hash/lt inited", id)
	}
	if id.Seqno > 0 && !h.InitedUnixTime() {
		return codes.New(codes.ProtoViolation, "block %s applied without unix-time inited", id)
	}

	// Stage 7: fetch predecessor state(s).
	prevState, err := o.fetchState(ctx, h, o.priority)
	if err != nil {
		return err
	}

	// Stage 8: set next pointers on parents, then recursively apply them
	// under the same masterchain reference.
	mergeBefore := h.MergeBefore()
	if err := o.linkAndApplyParent(ctx, h.PrevLeft(), id, mergeBefore, masterchainRef, deadline); err != nil {
		return err
	}
	if mergeBefore {
		if err := o.linkAndApplyParent(ctx, h.PrevRight(), id, mergeBefore, masterchainRef, deadline); err != nil {
			return err
		}
	}

	blockData, _, err := o.store.GetBlockData(h)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "reload block data %s", id)
	}
	nextState, err := prevState.ApplyBlock(id, &storage.Block{ID: id, Data: blockData})
	if err != nil {
		return codes.Wrap(codes.ProtoViolation, err, "apply state transition for %s", id)
	}
	canonState, err := o.store.StoreBlockState(h, nextState)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "store block state %s", id)
	}
	h.SetReceivedState()

	// Stage 9: commit the (handle, state) pair atomically — the single
	// new_block call this id will ever make, by construction of the
	// per-id dedupe above.
	if err := o.store.NewBlock(h, canonState); err != nil {
		return codes.Wrap(codes.DBError, err, "new_block %s", id)
	}

	// Stage 10: mark applied; for non-master, set masterchain_ref_seqno
	// before applied, per spec.md §8 property 7.
	if !h.IsMasterchain() {
		if err := h.SetMasterchainRefSeqno(masterchainRef.Seqno); err != nil {
			return err
		}
	}
	h.SetApplied()

	return o.finish(h)
}

// linkAndApplyParent sets the appropriate next pointer on the parent handle
// and recursively applies it; a zerostate parent gets no next pointer but is
// still applied. Which
// pointer to set is derived from the shard relationship between parent and
// child, except when the child is a merge of two parents: a merging parent's
// shard is strictly finer than the child's (the child is the parent's shard
// joined with its sibling's), so it is never itself split by the child and
// always takes the left (sole) next-pointer, per spec.md §3's inited_next
// rule ("left-next exists AND either right-next exists OR known not to
// split").
func (o *Orchestrator) linkAndApplyParent(ctx context.Context, parentID, childID shardid.IDExt, childMergeBefore bool, masterchainRef shardid.IDExt, deadline time.Time) error {
	if parentID.Seqno == 0 {
		return o.Apply(ctx, parentID, nil, masterchainRef, deadline)
	}
	ph, ok, err := o.store.GetBlockHandle(parentID)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "get parent handle %s", parentID)
	}
	if !ok {
		ph = handle.NewFromID(parentID)
		if err := o.store.StoreBlockHandle(ph); err != nil {
			return codes.Wrap(codes.DBError, err, "store parent handle %s", parentID)
		}
	}

	switch {
	case childMergeBefore:
		if err := ph.SetNextLeft(childID, false); err != nil {
			return err
		}
	case childID.ShardPrefix == parentID.ShardPrefix:
		if err := ph.SetNextLeft(childID, false); err != nil {
			return err
		}
	case shardid.ShardChild(parentID.ShardPrefix, true) == childID.ShardPrefix:
		if err := ph.SetNextLeft(childID, true); err != nil {
			return err
		}
	default:
		if err := ph.SetNextRight(childID); err != nil {
			return err
		}
	}
	if err := ph.Flush(o.store); err != nil {
		return codes.Wrap(codes.DBError, err, "flush parent handle %s", parentID)
	}
	return o.Apply(ctx, parentID, nil, masterchainRef, deadline)
}

func (o *Orchestrator) applyZerostate(ctx context.Context, h *handle.Handle) error {
	if !h.InitedStateRootHash() {
		if err := h.SetStateRootHash(h.ID().RootHash); err != nil {
			return err
		}
	}
	if !h.InitedLogicalTime() {
		if err := h.SetLogicalTime(0); err != nil {
			return err
		}
	}
	_, ok, err := o.store.GetBlockData(h)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "get zerostate data %s", h.ID())
	}
	if !ok {
		return codes.New(codes.NotReady, "zerostate data for %s not present", h.ID())
	}
	state, ok, err := o.store.GetBlockState(h)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "get zerostate state %s", h.ID())
	}
	if !ok {
		return codes.New(codes.NotReady, "zerostate state for %s not present", h.ID())
	}
	if err := o.store.NewBlock(h, state); err != nil {
		return codes.Wrap(codes.DBError, err, "new_block zerostate %s", h.ID())
	}
	h.SetApplied()
	return o.finish(h)
}

func (o *Orchestrator) finish(h *handle.Handle) error {
	h.SetProcessed()
	if err := h.Flush(o.store); err != nil {
		return codes.Wrap(codes.DBError, err, "flush handle %s", h.ID())
	}
	log.WithField("block", h.ID().String()).Debug("apply block finished")
	return nil
}

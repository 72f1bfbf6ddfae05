package waitfor

import (
	"context"
	"time"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// defaultWaitTimeout bounds a composed wait when the caller's context carries
// no deadline of its own.
const defaultWaitTimeout = 30 * time.Second

// DataSource resolves a block's raw bytes from outside local storage (the
// network, in a fully wired node). Composer consults local storage first and
// only falls through to DataSource on a miss.
type DataSource func(ctx context.Context, id shardid.IDExt, priority int) ([]byte, error)

// StateSource resolves a single block's materialised state from outside
// local storage, the same way DataSource does for block bytes.
type StateSource func(ctx context.Context, id shardid.IDExt, priority int) (storage.ShardState, error)

// Composer implements the Wait-For Registry's "block-data", "state",
// "state-merge" and "prev-state" algorithms (spec.md §4.2), grounded on
// original_source/validator/impl/wait-block-state-merge.cpp and
// wait-block-state.cpp: a composite wait is itself deduplicated through the
// Registry, and its fetch closure recurses into further deduplicated waits
// for the sub-states it needs before combining them.
type Composer struct {
	registry    *Registry
	store       storage.Storage
	dataSource  DataSource
	stateSource StateSource
}

// NewComposer builds a Composer over store, deduplicating all fetches (local
// or remote) through registry. dataSource/stateSource may be nil; a nil
// source simply means "no remote fallback", so a local-storage miss resolves
// to codes.NotReady instead of reaching out.
func NewComposer(registry *Registry, store storage.Storage, dataSource DataSource, stateSource StateSource) *Composer {
	return &Composer{registry: registry, store: store, dataSource: dataSource, stateSource: stateSource}
}

func ctxDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(defaultWaitTimeout)
}

// FetchData implements applyblock.DataFetcher: local storage, then
// dataSource, deduplicated per id via the "data:id" key.
func (c *Composer) FetchData(ctx context.Context, id shardid.IDExt, priority int) ([]byte, error) {
	res, err := c.registry.Wait(ctx, DataKey(id), ctxDeadline(ctx), priority, func(ctx context.Context) (interface{}, error) {
		if data, ok, err := c.localData(id); err != nil {
			return nil, err
		} else if ok {
			return data, nil
		}
		if c.dataSource == nil {
			return nil, codes.New(codes.NotReady, "block data for %s not locally available and no remote source configured", id)
		}
		return c.dataSource(ctx, id, priority)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (c *Composer) localData(id shardid.IDExt) ([]byte, bool, error) {
	h, ok, err := c.store.GetBlockHandle(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return c.store.GetBlockData(h)
}

// stateOf resolves the materialised state of a single block id: local
// storage first, remote source on a miss. Deduplicated per id via the
// "state:id" key so concurrent callers computing different composite prev-
// states that happen to share a sub-block only pay for one fetch.
func (c *Composer) stateOf(ctx context.Context, id shardid.IDExt, deadline time.Time, priority int) (storage.ShardState, error) {
	res, err := c.registry.Wait(ctx, StateKey(id), deadline, priority, func(ctx context.Context) (interface{}, error) {
		if st, ok, err := c.localState(id); err != nil {
			return nil, err
		} else if ok {
			return st, nil
		}
		if c.stateSource == nil {
			return nil, codes.New(codes.NotReady, "state for %s not locally available and no remote source configured", id)
		}
		return c.stateSource(ctx, id, priority)
	})
	if err != nil {
		return nil, err
	}
	return res.(storage.ShardState), nil
}

func (c *Composer) localState(id shardid.IDExt) (storage.ShardState, bool, error) {
	h, ok, err := c.store.GetBlockHandle(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return c.store.GetBlockState(h)
}

// PrevStateFetcher adapts ResolvePrevState to applyblock.PrevStateFetcher's
// signature, deriving the composite wait's deadline from ctx.
func (c *Composer) PrevStateFetcher(ctx context.Context, h *handle.Handle, priority int) (storage.ShardState, error) {
	return c.ResolvePrevState(ctx, h, priority, ctxDeadline(ctx))
}

// ResolvePrevState implements spec.md §4.2's "prev-state" algorithm: the
// predecessor state of h, projected onto h's own shard. A block with a single
// parent whose shard differs from h's own is the product of a split, so the
// parent's state is split and the correct half selected; a block with two
// parents (h.MergeBefore()) is the product of a merge, so both parent states
// are resolved and combined via the "state-merge" algorithm below. The whole
// composition is deduplicated per h via the "prevstate:id" key.
func (c *Composer) ResolvePrevState(ctx context.Context, h *handle.Handle, priority int, deadline time.Time) (storage.ShardState, error) {
	res, err := c.registry.Wait(ctx, PrevStateKey(h.ID()), deadline, priority, func(ctx context.Context) (interface{}, error) {
		return c.composePrevState(ctx, h, deadline, priority)
	})
	if err != nil {
		return nil, err
	}
	return res.(storage.ShardState), nil
}

func (c *Composer) composePrevState(ctx context.Context, h *handle.Handle, deadline time.Time, priority int) (storage.ShardState, error) {
	if !h.InitedPrev() {
		return nil, codes.New(codes.ProtoViolation, "block %s applied without prev pointers inited", h.ID())
	}

	leftID := h.PrevLeft()
	if h.MergeBefore() {
		return c.mergeStates(ctx, leftID, h.PrevRight(), deadline, priority)
	}

	parentState, err := c.stateOf(ctx, leftID, deadline, priority)
	if err != nil {
		return nil, err
	}
	if parentState.Shard() == h.ID().ShardPrefix {
		return parentState, nil
	}

	// The parent's shard is strictly coarser than h's: h is one half of a
	// split, so split the parent's state and keep the half h descends from.
	left, right, err := parentState.Split()
	if err != nil {
		return nil, codes.Wrap(codes.ProtoViolation, err, "split parent state for %s", h.ID())
	}
	if shardid.ShardChild(parentState.Shard(), true) == h.ID().ShardPrefix {
		return left, nil
	}
	return right, nil
}

// mergeStates implements spec.md §4.2's "state-merge" algorithm: resolve the
// two parent states (independently deduplicated) and combine them, itself
// deduplicated per (left, right) pair via the "merge:left+right" key so two
// siblings racing to apply the same merge child only merge once.
func (c *Composer) mergeStates(ctx context.Context, leftID, rightID shardid.IDExt, deadline time.Time, priority int) (storage.ShardState, error) {
	leftState, err := c.stateOf(ctx, leftID, deadline, priority)
	if err != nil {
		return nil, err
	}
	rightState, err := c.stateOf(ctx, rightID, deadline, priority)
	if err != nil {
		return nil, err
	}
	res, err := c.registry.Wait(ctx, MergeKey(leftID, rightID), deadline, priority, func(ctx context.Context) (interface{}, error) {
		return leftState.MergeWith(rightState)
	})
	if err != nil {
		return nil, err
	}
	return res.(storage.ShardState), nil
}

// Package candidates implements the Candidates Buffer (spec.md §4.5): a
// short-TTL cache mapping newly announced (block-id, source, collated-hash)
// to data and derived state, deduping concurrent fetches of the same
// candidate during a consensus round. Grounded on
// original_source/validator/impl/candidates-buffer.hpp.
package candidates

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// candidateTTL and alarmTick match spec.md §4.5's defaults: a 120-second
// candidate lifetime, checked on a 60-second tick.
const (
	candidateTTL = 120 * time.Second
	alarmTick    = 60 * time.Second
)

// DataFetcher retrieves the raw bytes of a candidate block not yet cached
// locally, e.g. from the validator session that announced it.
type DataFetcher func(ctx context.Context, id shardid.IDExt) ([]byte, error)

// PrevStateResolver resolves the predecessor shard state for id, already
// reduced via split or merge to the shard the candidate occupies.
type PrevStateResolver func(ctx context.Context, id shardid.IDExt) (storage.ShardState, error)

type dataResult struct {
	data []byte
	err  error
}

type stateResult struct {
	state storage.ShardState
	err   error
}

type entry struct {
	mu sync.Mutex

	source       [32]byte
	collatedHash [32]byte

	data          []byte
	dataRequested bool
	dataWaiters   []chan dataResult

	state          storage.ShardState
	stateRequested bool
	stateWaiters   []chan stateResult
}

// Buffer is the goroutine-safe candidates cache.
type Buffer struct {
	c *gocache.Cache

	fetchData  DataFetcher
	resolvePrev PrevStateResolver
}

// New constructs an empty buffer. fetchData and resolvePrev are invoked at
// most once per candidate while it is live; concurrent callers dedupe onto
// that single invocation.
func New(fetchData DataFetcher, resolvePrev PrevStateResolver) *Buffer {
	b := &Buffer{
		c:           gocache.New(candidateTTL, alarmTick),
		fetchData:   fetchData,
		resolvePrev: resolvePrev,
	}
	b.c.OnEvicted(func(key string, v interface{}) {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, w := range e.dataWaiters {
			w <- dataResult{nil, codes.New(codes.Timeout, "candidate %s expired", key)}
		}
		for _, w := range e.stateWaiters {
			w <- stateResult{nil, codes.New(codes.Timeout, "candidate %s expired", key)}
		}
	})
	return b
}

// AddNewCandidate registers a freshly announced candidate with a fresh TTL.
func (b *Buffer) AddNewCandidate(id shardid.IDExt, source, collatedHash [32]byte) {
	b.c.Set(id.String(), &entry{source: source, collatedHash: collatedHash}, gocache.DefaultExpiration)
}

// AddCandidateWithData registers a candidate whose bytes are already in
// hand, e.g. just produced locally by a collator or just received over
// on_candidate, so GetBlockData never needs to round-trip through
// fetchData for it.
func (b *Buffer) AddCandidateWithData(id shardid.IDExt, source, collatedHash [32]byte, data []byte) {
	b.c.Set(id.String(), &entry{source: source, collatedHash: collatedHash, data: data}, gocache.DefaultExpiration)
}

func (b *Buffer) lookup(id shardid.IDExt) (*entry, bool) {
	v, ok := b.c.Get(id.String())
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// GetBlockData returns the candidate's data, fetching it at most once.
func (b *Buffer) GetBlockData(ctx context.Context, id shardid.IDExt) ([]byte, error) {
	e, ok := b.lookup(id)
	if !ok {
		return nil, codes.New(codes.NotReady, "no candidate registered for %s", id)
	}

	e.mu.Lock()
	if e.data != nil {
		d := e.data
		e.mu.Unlock()
		return d, nil
	}
	if e.dataRequested {
		ch := make(chan dataResult, 1)
		e.dataWaiters = append(e.dataWaiters, ch)
		e.mu.Unlock()
		select {
		case r := <-ch:
			return r.data, r.err
		case <-ctx.Done():
			return nil, codes.Wrap(codes.Cancelled, ctx.Err(), "get block data cancelled for %s", id)
		}
	}
	e.dataRequested = true
	e.mu.Unlock()

	data, err := b.fetchData(ctx, id)

	e.mu.Lock()
	if err == nil {
		e.data = data
	}
	e.dataRequested = false
	waiters := e.dataWaiters
	e.dataWaiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		w <- dataResult{data, err}
	}
	return data, err
}

// GetBlockState returns the candidate's derived post-apply state, composing
// the predecessor state(s) via resolvePrev and applying the candidate block
// on first request.
func (b *Buffer) GetBlockState(ctx context.Context, id shardid.IDExt) (storage.ShardState, error) {
	e, ok := b.lookup(id)
	if !ok {
		return nil, codes.New(codes.NotReady, "no candidate registered for %s", id)
	}

	e.mu.Lock()
	if e.state != nil {
		s := e.state
		e.mu.Unlock()
		return s, nil
	}
	if e.stateRequested {
		ch := make(chan stateResult, 1)
		e.stateWaiters = append(e.stateWaiters, ch)
		e.mu.Unlock()
		select {
		case r := <-ch:
			return r.state, r.err
		case <-ctx.Done():
			return nil, codes.Wrap(codes.Cancelled, ctx.Err(), "get block state cancelled for %s", id)
		}
	}
	e.stateRequested = true
	e.mu.Unlock()

	state, err := b.deriveState(ctx, id)

	e.mu.Lock()
	if err == nil {
		e.state = state
	}
	e.stateRequested = false
	waiters := e.stateWaiters
	e.stateWaiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		w <- stateResult{state, err}
	}
	return state, err
}

func (b *Buffer) deriveState(ctx context.Context, id shardid.IDExt) (storage.ShardState, error) {
	prev, err := b.resolvePrev(ctx, id)
	if err != nil {
		return nil, errorsWrap(err, "resolve predecessor state for %s", id)
	}
	data, err := b.GetBlockData(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := prev.ApplyBlock(id, &storage.Block{ID: id, Data: data})
	if err != nil {
		return nil, codes.Wrap(codes.ProtoViolation, err, "apply candidate block %s", id)
	}
	return next, nil
}

func errorsWrap(err error, format string, args ...interface{}) error {
	if ve, ok := err.(*codes.Error); ok {
		return ve
	}
	return codes.Wrap(codes.NotReady, err, format, args...)
}

// ItemCount reports the number of live (not-yet-expired) candidates.
func (b *Buffer) ItemCount() int { return b.c.ItemCount() }

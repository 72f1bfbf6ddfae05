// Package waitfor implements the Wait-For Registry (spec.md §4.2): a
// deduplicating cache of in-flight asynchronous fetches keyed by "block data
// X", "state X", "proof X", "state(L) ⊕ state(R)" and so on. Concurrent
// callers asking for the same key attach to one worker; the worker's
// effective deadline and priority are the max across all attached waiters.
package waitfor

import (
	"context"
	"sync"
	"time"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/metrics"
)

// FetchFunc performs the actual one-shot fetch for a key. It must respect
// ctx's deadline and return a codes.Timeout-coded error if it runs out of
// time rather than any other error kind, so the registry can tell "retry
// with more time" apart from "this query failed".
type FetchFunc func(ctx context.Context) (interface{}, error)

type waiterEntry struct {
	deadline time.Time
	resultCh chan waitResult
}

type waitResult struct {
	val interface{}
	err error
}

type inflightQuery struct {
	mu       sync.Mutex
	deadline time.Time
	priority int
	waiters  []*waiterEntry
}

// Registry is the deduplicating wait-for table. Zero value is not usable;
// use NewRegistry.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]*inflightQuery
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[string]*inflightQuery)}
}

// Wait attaches to (or starts) the worker for key, and blocks until the
// worker delivers a result or the caller's ctx is cancelled. A waiter whose
// own deadline has passed when the result arrives gets a Timeout error
// instead; the deadline does not end the wait by itself.
func (r *Registry) Wait(ctx context.Context, key string, deadline time.Time, priority int, fetch FetchFunc) (interface{}, error) {
	r.mu.Lock()
	q, exists := r.inflight[key]
	if !exists {
		q = &inflightQuery{deadline: deadline, priority: priority}
		r.inflight[key] = q
		metrics.WaitForActiveQueries.Inc()
	}
	r.mu.Unlock()

	w := &waiterEntry{deadline: deadline, resultCh: make(chan waitResult, 1)}
	q.mu.Lock()
	if deadline.After(q.deadline) {
		q.deadline = deadline
	}
	if priority > q.priority {
		q.priority = priority
	}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	if !exists {
		go r.run(key, q, fetch)
	}

	select {
	case res := <-w.resultCh:
		return res.val, res.err
	case <-ctx.Done():
		return nil, codes.Wrap(codes.Cancelled, ctx.Err(), "wait cancelled for key %s", key)
	}
}

// run owns the single worker for key: it retries fetch while the registry's
// combined deadline keeps getting extended by new waiters, then fans the
// terminal result out to every waiter attached at that point, honoring each
// waiter's individual deadline.
func (r *Registry) run(key string, q *inflightQuery, fetch FetchFunc) {
	defer metrics.WaitForActiveQueries.Dec()
	for {
		q.mu.Lock()
		deadline := q.deadline
		q.mu.Unlock()

		fetchCtx, cancel := context.WithDeadline(context.Background(), deadline)
		val, err := fetch(fetchCtx)
		cancel()

		if err != nil && codes.Is(err, codes.Timeout) {
			q.mu.Lock()
			extended := q.deadline.After(deadline)
			q.mu.Unlock()
			if extended {
				continue
			}
		}

		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()

		q.mu.Lock()
		waiters := q.waiters
		q.mu.Unlock()

		now := time.Now()
		for _, w := range waiters {
			if now.After(w.deadline) {
				w.resultCh <- waitResult{nil, codes.New(codes.Timeout, "waiter deadline exceeded for key %s", key)}
				continue
			}
			w.resultCh <- waitResult{val, err}
		}
		return
	}
}

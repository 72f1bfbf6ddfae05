package manager

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// handleCache is handles_ from spec.md §4.10: every handle the process has
// ever resolved lives in weak, plus a bounded LRU of the hottest ones
// (handle_lru_max_size_, default 16). Go has no generic weak reference, so
// weak is a plain map that only grows; hot just decides which entries get a
// fast hit without consulting storage again. Evicting a hot entry flushes it
// first, mirroring the Handle destructor's "!need_flush" assertion -- an
// entry leaving the LRU must not leave dirty state unflushed.
type handleCache struct {
	store storage.Storage
	max   int

	mu   sync.Mutex
	weak map[shardid.IDExt]*handle.Handle
	hot  *lru.Cache
}

func newHandleCache(store storage.Storage, max int) *handleCache {
	if max <= 0 {
		max = 16
	}
	c := &handleCache{store: store, max: max, weak: make(map[shardid.IDExt]*handle.Handle)}
	hot, err := lru.NewWithEvict(max, func(key interface{}, value interface{}) {
		h := value.(*handle.Handle)
		if err := h.Flush(store); err != nil {
			log.WithFields(map[string]interface{}{"block": h.ID().String(), "err": err}).Error("flush on handle LRU eviction failed")
		}
	})
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	c.hot = hot
	return c
}

// get resolves id's handle: a hit in weak is returned directly (and re-pinned
// hot); otherwise storage is consulted; if still not found and force is set,
// an empty handle is created and registered. ok is false only when force is
// false and no handle exists anywhere.
func (c *handleCache) get(id shardid.IDExt, force bool) (h *handle.Handle, ok bool, err error) {
	c.mu.Lock()
	if h, ok := c.weak[id]; ok {
		c.hot.Add(id, h)
		c.mu.Unlock()
		return h, true, nil
	}
	c.mu.Unlock()

	h, found, err := c.store.GetBlockHandle(id)
	if err != nil {
		return nil, false, codes.Wrap(codes.DBError, err, "get block handle %s", id)
	}
	if !found {
		if !force {
			return nil, false, nil
		}
		h = handle.NewFromID(id)
		if err := c.store.StoreBlockHandle(h); err != nil {
			return nil, false, codes.Wrap(codes.DBError, err, "store new block handle %s", id)
		}
	}
	c.register(h)
	return h, true, nil
}

// register pins h in both the weak map and the hot LRU, overwriting nothing
// if an entry for the same id is already tracked (handles are shared by
// reference; the first resolved instance wins).
func (c *handleCache) register(h *handle.Handle) *handle.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.weak[h.ID()]; ok {
		c.hot.Add(h.ID(), existing)
		return existing
	}
	c.weak[h.ID()] = h
	c.hot.Add(h.ID(), h)
	return h
}

// flushAll flushes every handle currently pinned hot; used before shutdown
// and in tests asserting coalesced-flush behaviour across the whole cache.
func (c *handleCache) flushAll() error {
	c.mu.Lock()
	keys := c.hot.Keys()
	c.mu.Unlock()
	for _, k := range keys {
		c.mu.Lock()
		v, ok := c.hot.Peek(k)
		c.mu.Unlock()
		if !ok {
			continue
		}
		if err := v.(*handle.Handle).Flush(c.store); err != nil {
			return err
		}
	}
	return nil
}

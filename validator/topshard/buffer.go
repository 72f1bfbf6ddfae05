// Package topshard implements the Shard-Top-Block Buffer (spec.md §4.8): a
// set keyed by (shard_prefix, catchain_seqno) of received/generated
// descriptions, filtered against the current master tip's shard
// configuration and periodically re-broadcast when locally generated.
// Grounded on original_source/validator/shard-block-retainer.cpp and
// shard-block-verifier.cpp.
package topshard

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shardnet/shardvalidator/validator/shardid"
)

// defaultTTL bounds how long a description survives without being refreshed
// by a new gossip message or local regeneration.
const defaultTTL = 2 * time.Minute

type entry struct {
	desc  *shardid.TopShardBlockDescription
	local bool
}

func key(shard uint64, catchainSeqno uint32) string {
	return fmt.Sprintf("%016x:%d", shard, catchainSeqno)
}

// Buffer is the goroutine-safe shard-top-block description set.
type Buffer struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// New constructs an empty buffer with the default TTL.
func New() *Buffer {
	return &Buffer{c: gocache.New(defaultTTL, defaultTTL/2)}
}

// Add retains d, keyed by (shard, catchain_seqno). local marks a
// locally-generated description eligible for periodic re-broadcast.
func (b *Buffer) Add(d *shardid.TopShardBlockDescription, local bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.c.Set(key(d.BlockID.ShardPrefix, d.CatchainSeqno), &entry{desc: d, local: local}, gocache.DefaultExpiration)
}

// Get returns the retained description for (shard, catchainSeqno), if any.
func (b *Buffer) Get(shard uint64, catchainSeqno uint32) (*shardid.TopShardBlockDescription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.c.Get(key(shard, catchainSeqno))
	if !ok {
		return nil, false
	}
	return v.(*entry).desc, true
}

// FilterByTip drops every retained description that is no longer
// shardid.MayBeValid against the current master tip's shard configuration,
// returning the descriptions that survive.
func (b *Buffer) FilterByTip(cfg shardid.ShardConfig) []*shardid.TopShardBlockDescription {
	b.mu.Lock()
	items := b.c.Items()
	b.mu.Unlock()

	var kept []*shardid.TopShardBlockDescription
	var dropped int
	for k, item := range items {
		e := item.Object.(*entry)
		if shardid.MayBeValid(e.desc, cfg) {
			kept = append(kept, e.desc)
			continue
		}
		b.mu.Lock()
		b.c.Delete(k)
		b.mu.Unlock()
		dropped++
	}
	if dropped > 0 {
		log.WithField("dropped", dropped).Debug("dropped stale shard-top-block descriptions on new master tip")
	}
	return kept
}

// Rebroadcast invokes send for every locally-generated description still
// retained, mirroring the original's periodic re-broadcast of its own
// shard-top descriptions.
func (b *Buffer) Rebroadcast(send func(*shardid.TopShardBlockDescription)) {
	b.mu.Lock()
	items := b.c.Items()
	b.mu.Unlock()
	for _, item := range items {
		e := item.Object.(*entry)
		if e.local {
			send(e.desc)
		}
	}
}

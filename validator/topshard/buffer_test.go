package topshard

import (
	"testing"

	"github.com/shardnet/shardvalidator/validator/shardid"
)

type fakeShardConfig map[uint64]shardid.ShardTopInfo

func (f fakeShardConfig) ShardInfo(shardPrefix uint64) (shardid.ShardTopInfo, bool) {
	for shard, info := range f {
		if shardid.ShardIsAncestor(shard, shardPrefix) {
			return info, true
		}
	}
	return shardid.ShardTopInfo{}, false
}

func testDesc(shard uint64, seqno uint32, catchain uint32) *shardid.TopShardBlockDescription {
	return &shardid.TopShardBlockDescription{
		BlockID:       shardid.IDExt{ID: shardid.ID{ShardPrefix: shard, Seqno: seqno}},
		CatchainSeqno: catchain,
	}
}

func TestAddAndGetRoundTrip(t *testing.T) {
	b := New()
	d := testDesc(shardid.FullShardID, 5, 1)
	b.Add(d, false)

	got, ok := b.Get(shardid.FullShardID, 1)
	if !ok {
		t.Fatalf("expected the description to be retained")
	}
	if got != d {
		t.Fatalf("expected Get to return the exact added description")
	}

	if _, ok := b.Get(shardid.FullShardID, 2); ok {
		t.Fatalf("should not find a description under the wrong catchain seqno")
	}
}

func TestFilterByTipDropsStaleDescriptions(t *testing.T) {
	b2 := New()
	d1 := testDesc(shardid.FullShardID, 11, 3)
	b2.Add(d1, false)

	cfg := fakeShardConfig{
		shardid.FullShardID: {Shard: shardid.FullShardID, TopSeqno: 10, FSM: shardid.ShardFSMNone, CatchainSeqno: 3},
	}
	kept := b2.FilterByTip(cfg)
	if len(kept) != 1 {
		t.Fatalf("expected the fresh description to survive filtering, got %d", len(kept))
	}

	// Now advance the tip's top seqno past the retained description so it
	// becomes stale and must be dropped.
	advancedCfg := fakeShardConfig{
		shardid.FullShardID: {Shard: shardid.FullShardID, TopSeqno: 20, FSM: shardid.ShardFSMNone, CatchainSeqno: 3},
	}
	kept2 := b2.FilterByTip(advancedCfg)
	if len(kept2) != 0 {
		t.Fatalf("expected the now-stale description to be dropped, got %d", len(kept2))
	}
	if _, ok := b2.Get(shardid.FullShardID, 3); ok {
		t.Fatalf("dropped description should no longer be retrievable via Get")
	}
}

func TestRebroadcastOnlyInvokesLocalDescriptions(t *testing.T) {
	b := New()
	local := testDesc(shardid.FullShardID, 1, 10)
	remote := testDesc(shardid.FullShardID, 1, 20)
	b.Add(local, true)
	b.Add(remote, false)

	var sent []*shardid.TopShardBlockDescription
	b.Rebroadcast(func(d *shardid.TopShardBlockDescription) {
		sent = append(sent, d)
	})

	if len(sent) != 1 {
		t.Fatalf("expected exactly one rebroadcast description, got %d", len(sent))
	}
	if sent[0] != local {
		t.Fatalf("expected the locally-generated description to be rebroadcast")
	}
}

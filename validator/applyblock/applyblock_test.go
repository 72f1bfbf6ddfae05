package applyblock

import (
	"context"
	"testing"
	"time"

	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
	"github.com/shardnet/shardvalidator/validator/storage/memstore"
)

type fakeState struct {
	shard uint64
	seqno uint32
	root  [32]byte
}

func (f *fakeState) RootHash() [32]byte { return f.root }
func (f *fakeState) Shard() uint64      { return f.shard }
func (f *fakeState) Seqno() uint32      { return f.seqno }
func (f *fakeState) BeforeSplit() bool  { return false }
func (f *fakeState) MergeWith(other storage.ShardState) (storage.ShardState, error) {
	return f, nil
}
func (f *fakeState) Split() (storage.ShardState, storage.ShardState, error) { return f, f, nil }
func (f *fakeState) ApplyBlock(id shardid.IDExt, block *storage.Block) (storage.ShardState, error) {
	return &fakeState{shard: id.ShardPrefix, seqno: id.Seqno, root: id.RootHash}, nil
}
func (f *fakeState) MessageQueue() []shardid.ExternalMessage { return nil }

func testID(seqno uint32) shardid.IDExt {
	return shardid.IDExt{
		ID:       shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: seqno},
		RootHash: [32]byte{byte(seqno), 0xaa},
	}
}

// buildChildHandle wires up the header fields Apply-Block requires to be
// inited before it will proceed past stage 6's post-data invariants.
func buildChildHandle(t *testing.T, store *memstore.Store, prev shardid.IDExt, id shardid.IDExt) {
	t.Helper()
	h := handle.NewFromID(id)
	if err := h.SetPrev(prev, false, shardid.IDExt{}); err != nil {
		t.Fatalf("SetPrev: %v", err)
	}
	h.SetInitedProofLink()
	if err := h.SetStateRootHash(id.RootHash); err != nil {
		t.Fatalf("SetStateRootHash: %v", err)
	}
	if err := h.SetLogicalTime(uint64(id.Seqno) * 1000); err != nil {
		t.Fatalf("SetLogicalTime: %v", err)
	}
	if err := h.SetUnixTime(1000 + id.Seqno); err != nil {
		t.Fatalf("SetUnixTime: %v", err)
	}
	if err := store.StoreBlockHandle(h); err != nil {
		t.Fatalf("StoreBlockHandle: %v", err)
	}
}

func TestApplyZerostateSkipsPrevWait(t *testing.T) {
	store := memstore.New()
	zs := testID(0)
	h := handle.NewFromID(zs)
	if err := store.StoreBlockHandle(h); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreBlockData(h, []byte("zerostate-bytes")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.StoreBlockState(h, &fakeState{shard: zs.ShardPrefix, seqno: 0, root: zs.RootHash}); err != nil {
		t.Fatal(err)
	}

	called := false
	fetchState := func(ctx context.Context, h *handle.Handle, priority int) (storage.ShardState, error) {
		called = true
		return nil, nil
	}
	orch := New(store, nil, fetchState, 5)

	if err := orch.Apply(context.Background(), zs, nil, zs, time.Time{}); err != nil {
		t.Fatalf("Apply zerostate: %v", err)
	}
	if called {
		t.Fatalf("zerostate must not wait for a predecessor state")
	}
	got, _, err := store.GetBlockHandle(zs)
	if err != nil || !got.Applied() {
		t.Fatalf("expected zerostate handle to be applied, err=%v", err)
	}
}

func TestApplySetsNextPointerAndAppliedOnParent(t *testing.T) {
	store := memstore.New()

	parentID := testID(1)
	parent := handle.NewFromID(parentID)
	if err := parent.SetLogicalTime(1000); err != nil {
		t.Fatal(err)
	}
	if err := parent.SetUnixTime(1001); err != nil {
		t.Fatal(err)
	}
	parent.SetApplied()
	parent.SetProcessed()
	if err := store.StoreBlockHandle(parent); err != nil {
		t.Fatal(err)
	}
	if _, err := store.StoreBlockState(parent, &fakeState{shard: parentID.ShardPrefix, seqno: 1, root: parentID.RootHash}); err != nil {
		t.Fatal(err)
	}

	childID := testID(2)
	buildChildHandle(t, store, parentID, childID)

	fetchState := func(ctx context.Context, h *handle.Handle, priority int) (storage.ShardState, error) {
		st, ok, err := store.GetBlockState(parent)
		if err != nil || !ok {
			t.Fatalf("expected parent state to be present: ok=%v err=%v", ok, err)
		}
		return st, nil
	}
	orch := New(store, nil, fetchState, 5)

	if err := orch.Apply(context.Background(), childID, []byte("child-bytes"), childID, time.Time{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	gotParent, _, err := store.GetBlockHandle(parentID)
	if err != nil {
		t.Fatal(err)
	}
	if !gotParent.InitedNext() || gotParent.NextLeft() != childID {
		t.Fatalf("expected parent's next-left pointer set to the child id")
	}

	gotChild, _, err := store.GetBlockHandle(childID)
	if err != nil {
		t.Fatal(err)
	}
	if !gotChild.Applied() || !gotChild.Processed() {
		t.Fatalf("expected child to be applied and processed")
	}
	if gotChild.NeedFlush() {
		t.Fatalf("expected child handle to be flushed by Apply's finish stage")
	}
}

func TestApplySetsNextLeftOnBothMergeParents(t *testing.T) {
	store := memstore.New()

	leftShard := shardid.ShardChild(shardid.FullShardID, true)
	rightShard := shardid.ShardChild(shardid.FullShardID, false)
	leftParentID := shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: leftShard, Seqno: 1}, RootHash: [32]byte{1}}
	rightParentID := shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: rightShard, Seqno: 1}, RootHash: [32]byte{2}}

	for _, pid := range []shardid.IDExt{leftParentID, rightParentID} {
		ph := handle.NewFromID(pid)
		if err := ph.SetLogicalTime(1000); err != nil {
			t.Fatal(err)
		}
		if err := ph.SetUnixTime(1001); err != nil {
			t.Fatal(err)
		}
		ph.SetApplied()
		ph.SetProcessed()
		if err := store.StoreBlockHandle(ph); err != nil {
			t.Fatal(err)
		}
		if _, err := store.StoreBlockState(ph, &fakeState{shard: pid.ShardPrefix, seqno: 1, root: pid.RootHash}); err != nil {
			t.Fatal(err)
		}
	}

	childID := shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: 2}, RootHash: [32]byte{3}}
	ch := handle.NewFromID(childID)
	if err := ch.SetPrev(leftParentID, true, rightParentID); err != nil {
		t.Fatal(err)
	}
	ch.SetInitedProofLink()
	if err := ch.SetStateRootHash(childID.RootHash); err != nil {
		t.Fatal(err)
	}
	if err := ch.SetLogicalTime(2000); err != nil {
		t.Fatal(err)
	}
	if err := ch.SetUnixTime(2001); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreBlockHandle(ch); err != nil {
		t.Fatal(err)
	}

	fetchState := func(ctx context.Context, h *handle.Handle, priority int) (storage.ShardState, error) {
		return &fakeState{shard: shardid.FullShardID, seqno: 1}, nil
	}
	orch := New(store, nil, fetchState, 5)

	if err := orch.Apply(context.Background(), childID, []byte("merged-bytes"), childID, time.Time{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for _, pid := range []shardid.IDExt{leftParentID, rightParentID} {
		got, _, err := store.GetBlockHandle(pid)
		if err != nil {
			t.Fatal(err)
		}
		if !got.InitedNext() {
			t.Fatalf("expected merge parent %s to have its next pointer inited", pid)
		}
		if got.NextLeft() != childID {
			t.Fatalf("expected merge parent %s next-left to be the merged child, got %s", pid, got.NextLeft())
		}
	}
}

func TestApplyIsIdempotentForAlreadyAppliedBlock(t *testing.T) {
	store := memstore.New()
	id := testID(3)
	h := handle.NewFromID(id)
	if err := h.SetLogicalTime(1); err != nil {
		t.Fatal(err)
	}
	if err := h.SetUnixTime(1); err != nil {
		t.Fatal(err)
	}
	h.SetApplied()
	h.SetProcessed()
	if err := store.StoreBlockHandle(h); err != nil {
		t.Fatal(err)
	}

	orch := New(store, nil, nil, 5)
	if err := orch.Apply(context.Background(), id, nil, id, time.Time{}); err != nil {
		t.Fatalf("Apply on an already-applied, already-processed block should short-circuit: %v", err)
	}
}

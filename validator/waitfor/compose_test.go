package waitfor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
	"github.com/shardnet/shardvalidator/validator/storage/memstore"
)

type fakeState struct {
	shard      uint64
	seqno      uint32
	mergeCalls *int32
}

func (f *fakeState) RootHash() [32]byte { return [32]byte{} }
func (f *fakeState) Shard() uint64      { return f.shard }
func (f *fakeState) Seqno() uint32      { return f.seqno }
func (f *fakeState) BeforeSplit() bool  { return false }

func (f *fakeState) MergeWith(other storage.ShardState) (storage.ShardState, error) {
	if f.mergeCalls != nil {
		atomic.AddInt32(f.mergeCalls, 1)
	}
	time.Sleep(5 * time.Millisecond)
	return &fakeState{shard: shardid.ShardParent(f.shard), seqno: f.seqno}, nil
}

func (f *fakeState) Split() (storage.ShardState, storage.ShardState, error) {
	return &fakeState{shard: shardid.ShardChild(f.shard, true), seqno: f.seqno},
		&fakeState{shard: shardid.ShardChild(f.shard, false), seqno: f.seqno}, nil
}

func (f *fakeState) ApplyBlock(id shardid.IDExt, block *storage.Block) (storage.ShardState, error) {
	return f, nil
}

func (f *fakeState) MessageQueue() []shardid.ExternalMessage { return nil }

func storedHandle(t *testing.T, store *memstore.Store, id shardid.IDExt, state storage.ShardState) *handle.Handle {
	t.Helper()
	h := handle.NewFromID(id)
	if err := store.StoreBlockHandle(h); err != nil {
		t.Fatal(err)
	}
	if state != nil {
		if _, err := store.StoreBlockState(h, state); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func idAt(shard uint64, seqno uint32) shardid.IDExt {
	return shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: shard, Seqno: seqno}}
}

func TestComposePrevStateReturnsParentStateWhenShardUnchanged(t *testing.T) {
	store := memstore.New()
	parentID := idAt(shardid.FullShardID, 1)
	storedHandle(t, store, parentID, &fakeState{shard: shardid.FullShardID, seqno: 1})

	childID := idAt(shardid.FullShardID, 2)
	ch := handle.NewFromID(childID)
	if err := ch.SetPrev(parentID, false, shardid.IDExt{}); err != nil {
		t.Fatal(err)
	}

	c := NewComposer(NewRegistry(), store, nil, nil)
	got, err := c.ResolvePrevState(context.Background(), ch, 0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ResolvePrevState: %v", err)
	}
	if got.Shard() != shardid.FullShardID {
		t.Fatalf("expected unchanged parent state, got shard %x", got.Shard())
	}
}

func TestComposePrevStateSplitsParentStateAcrossShardBoundary(t *testing.T) {
	store := memstore.New()
	parentShard := shardid.FullShardID
	leftShard := shardid.ShardChild(parentShard, true)
	parentID := idAt(parentShard, 1)
	storedHandle(t, store, parentID, &fakeState{shard: parentShard, seqno: 1})

	childID := idAt(leftShard, 2)
	ch := handle.NewFromID(childID)
	if err := ch.SetPrev(parentID, false, shardid.IDExt{}); err != nil {
		t.Fatal(err)
	}

	c := NewComposer(NewRegistry(), store, nil, nil)
	got, err := c.ResolvePrevState(context.Background(), ch, 0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ResolvePrevState: %v", err)
	}
	if got.Shard() != leftShard {
		t.Fatalf("expected the left-split half of the parent state, got shard %x want %x", got.Shard(), leftShard)
	}
}

func TestComposePrevStateMergesBothParentsForMergeChild(t *testing.T) {
	store := memstore.New()
	parentShard := shardid.FullShardID
	leftShard := shardid.ShardChild(parentShard, true)
	rightShard := shardid.ShardChild(parentShard, false)
	leftID := idAt(leftShard, 1)
	rightID := idAt(rightShard, 1)
	storedHandle(t, store, leftID, &fakeState{shard: leftShard, seqno: 1})
	storedHandle(t, store, rightID, &fakeState{shard: rightShard, seqno: 1})

	childID := idAt(parentShard, 2)
	ch := handle.NewFromID(childID)
	if err := ch.SetPrev(leftID, true, rightID); err != nil {
		t.Fatal(err)
	}

	c := NewComposer(NewRegistry(), store, nil, nil)
	got, err := c.ResolvePrevState(context.Background(), ch, 0, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ResolvePrevState: %v", err)
	}
	if got.Shard() != parentShard {
		t.Fatalf("expected the merged state's shard to be the common parent shard, got %x", got.Shard())
	}
}

func TestMergeStatesDedupesConcurrentMergeKeyCallers(t *testing.T) {
	store := memstore.New()
	parentShard := shardid.FullShardID
	leftShard := shardid.ShardChild(parentShard, true)
	rightShard := shardid.ShardChild(parentShard, false)
	var mergeCalls int32
	leftID := idAt(leftShard, 1)
	rightID := idAt(rightShard, 1)
	storedHandle(t, store, leftID, &fakeState{shard: leftShard, seqno: 1, mergeCalls: &mergeCalls})
	storedHandle(t, store, rightID, &fakeState{shard: rightShard, seqno: 1})

	c := NewComposer(NewRegistry(), store, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.mergeStates(context.Background(), leftID, rightID, time.Now().Add(time.Second), 0)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	if atomic.LoadInt32(&mergeCalls) != 1 {
		t.Fatalf("expected exactly one MergeWith call for concurrent mergers of the same pair, got %d", mergeCalls)
	}
}

func TestFetchDataPrefersLocalStorageOverRemoteSource(t *testing.T) {
	store := memstore.New()
	id := idAt(shardid.FullShardID, 1)
	h := handle.NewFromID(id)
	if err := store.StoreBlockHandle(h); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreBlockData(h, []byte("local-bytes")); err != nil {
		t.Fatal(err)
	}

	remote := func(ctx context.Context, id shardid.IDExt, priority int) ([]byte, error) {
		t.Fatalf("remote data source should not be consulted when storage already has the block")
		return nil, nil
	}
	c := NewComposer(NewRegistry(), store, remote, nil)

	got, err := c.FetchData(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("FetchData: %v", err)
	}
	if string(got) != "local-bytes" {
		t.Fatalf("expected local-bytes, got %q", got)
	}
}

func TestFetchDataFallsBackToRemoteSourceOnLocalMiss(t *testing.T) {
	store := memstore.New()
	id := idAt(shardid.FullShardID, 1)

	remote := func(ctx context.Context, id shardid.IDExt, priority int) ([]byte, error) {
		return []byte("remote-bytes"), nil
	}
	c := NewComposer(NewRegistry(), store, remote, nil)

	got, err := c.FetchData(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("FetchData: %v", err)
	}
	if string(got) != "remote-bytes" {
		t.Fatalf("expected remote-bytes, got %q", got)
	}
}

func TestFetchDataReturnsNotReadyWithoutRemoteSource(t *testing.T) {
	store := memstore.New()
	id := idAt(shardid.FullShardID, 1)
	c := NewComposer(NewRegistry(), store, nil, nil)

	_, err := c.FetchData(context.Background(), id, 0)
	if err == nil || !codes.Is(err, codes.NotReady) {
		t.Fatalf("expected NotReady, got %v", err)
	}
}

func TestPrevStateFetcherReturnsProtoViolationWithoutPrevInited(t *testing.T) {
	store := memstore.New()
	id := idAt(shardid.FullShardID, 1)
	h := handle.NewFromID(id)
	c := NewComposer(NewRegistry(), store, nil, nil)

	_, err := c.PrevStateFetcher(context.Background(), h, 0)
	if err == nil || !codes.Is(err, codes.ProtoViolation) {
		t.Fatalf("expected ProtoViolation for a handle with no prev pointers, got %v", err)
	}
}

package handle

import (
	"bytes"
	"sync"
	"testing"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

func testID(seqno uint32) shardid.IDExt {
	return shardid.IDExt{
		ID:       shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: seqno},
		RootHash: [32]byte{byte(seqno)},
		FileHash: [32]byte{byte(seqno), 1},
	}
}

func TestSetOnceIdempotentWithEquality(t *testing.T) {
	h := NewFromID(testID(5))
	if err := h.SetLogicalTime(100); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := h.SetLogicalTime(100); err != nil {
		t.Fatalf("re-setting with same value should be a no-op: %v", err)
	}
	if err := h.SetLogicalTime(200); err == nil {
		t.Fatalf("expected contract violation re-setting with a conflicting value")
	} else if !codes.Is(err, codes.ContractViolation) {
		t.Fatalf("expected ContractViolation code, got %v", err)
	}
}

func TestReadBeforeInitPanics(t *testing.T) {
	h := NewFromID(testID(5))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic reading an uninited field")
		}
	}()
	_ = h.LogicalTime()
}

func TestInitedNextSplitSemantics(t *testing.T) {
	h := NewFromID(testID(5))
	next := testID(6)
	if h.InitedNext() {
		t.Fatalf("next should not be inited yet")
	}
	if err := h.SetNextLeft(next, true); err != nil {
		t.Fatal(err)
	}
	if h.InitedNext() {
		t.Fatalf("split block with only next-left set should not be inited")
	}
	if err := h.SetNextRight(testID(7)); err != nil {
		t.Fatal(err)
	}
	if !h.InitedNext() {
		t.Fatalf("split block with both next pointers set should be inited")
	}
}

func TestInitedNextNoSplit(t *testing.T) {
	h := NewFromID(testID(5))
	if err := h.SetNextLeft(testID(6), false); err != nil {
		t.Fatal(err)
	}
	if !h.InitedNext() {
		t.Fatalf("non-splitting block should be inited once next-left is known")
	}
}

func TestAppliedMonotoneExceptUnsafeClear(t *testing.T) {
	h := NewFromID(testID(5))
	h.SetApplied()
	if !h.Applied() {
		t.Fatalf("expected applied")
	}
	h.UnsafeClearApplied()
	if h.Applied() {
		t.Fatalf("expected UnsafeClearApplied to clear applied")
	}
}

func TestNeedFlushAndFlushCoalescing(t *testing.T) {
	h := NewFromID(testID(5))
	store := &countingStore{}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.SetUnixTime(uint32(1000 + i))
		}(i)
	}
	wg.Wait()

	if !h.NeedFlush() {
		t.Fatalf("expected dirty handle after 5 setters")
	}
	if err := h.Flush(store); err != nil {
		t.Fatal(err)
	}
	if h.NeedFlush() {
		t.Fatalf("expected clean handle after flush")
	}
	if store.calls != 1 {
		t.Fatalf("expected exactly one store write, got %d", store.calls)
	}
	if h.WrittenVersion() != h.Version() {
		t.Fatalf("written version should reach latest version")
	}

	// A second flush with no intervening mutation is a no-op.
	if err := h.Flush(store); err != nil {
		t.Fatal(err)
	}
	if store.calls != 1 {
		t.Fatalf("expected flush to stay a no-op when clean, got %d calls", store.calls)
	}
}

type countingStore struct{ calls int }

func (c *countingStore) StoreBlockHandle(h *Handle) error {
	c.calls++
	return nil
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	h := NewFromID(testID(5))
	if err := h.SetPrev(testID(4), false, shardid.IDExt{}); err != nil {
		t.Fatal(err)
	}
	if err := h.SetNextLeft(testID(6), false); err != nil {
		t.Fatal(err)
	}
	if err := h.SetLogicalTime(42); err != nil {
		t.Fatal(err)
	}
	if err := h.SetUnixTime(1234); err != nil {
		t.Fatal(err)
	}
	if err := h.SetStateRootHash([32]byte{9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	h.SetProcessed() // local-only bit, must be excluded from the wire format
	h.SetApplied()

	first := h.Serialize()
	h2, err := Deserialize(first)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	second := h2.Serialize()
	if !bytes.Equal(first, second) {
		t.Fatalf("serialize round trip is not bit-identical")
	}
	if h2.Processed() {
		t.Fatalf("processed must not survive the wire round trip")
	}
	if !h2.Applied() {
		t.Fatalf("applied must survive the wire round trip")
	}
}

package extmsgpool

import (
	"fmt"
	"testing"
	"time"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/params"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// fakeChecker treats the raw bytes as the message body directly and
// addresses every message to the same account unless told otherwise.
type fakeChecker struct {
	addr [32]byte
	wc   int32
}

func (c fakeChecker) CheckExternalMessage(data []byte) (*shardid.ExternalMessage, error) {
	return &shardid.ExternalMessage{Workchain: c.wc, Address: c.addr, Body: data}, nil
}

type failingChecker struct{}

func (failingChecker) CheckExternalMessage(data []byte) (*shardid.ExternalMessage, error) {
	return nil, fmt.Errorf("malformed")
}

func newPool(checker Checker) *Pool {
	opts := params.DefaultOptions()
	opts.MaxMempoolNum = 1000
	return New(opts, checker)
}

func TestCheckAddRejectsFailedPreliminaryCheck(t *testing.T) {
	p := newPool(failingChecker{})
	_, err := p.CheckAdd([]byte("x"), 0, true)
	if err == nil || !codes.Is(err, codes.ProtoViolation) {
		t.Fatalf("expected ProtoViolation from a failing checker, got %v", err)
	}
}

func TestCheckAddRateLimitPerAddress(t *testing.T) {
	// S3: 30 distinct messages to the same address within the window are
	// admitted; the 31st is rejected.
	p := newPool(fakeChecker{addr: [32]byte{0xAA}})

	for i := 0; i < MaxExtMsgPerAddr; i++ {
		body := fmt.Sprintf("msg-%d", i)
		if _, err := p.CheckAdd([]byte(body), 0, true); err != nil {
			t.Fatalf("message %d should be admitted, got %v", i, err)
		}
	}

	_, err := p.CheckAdd([]byte("overflow"), 0, true)
	if err == nil || !codes.Is(err, codes.ProtoViolation) {
		t.Fatalf("31st message within the window should be rejected, got %v", err)
	}
}

func TestCheckAddDuplicateHashKeepsHigherPriority(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0xBB}})

	if _, err := p.CheckAdd([]byte("same-body"), 5, true); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Re-submitting at equal or lower priority keeps the existing entry.
	if _, err := p.CheckAdd([]byte("same-body"), 3, true); err != nil {
		t.Fatalf("duplicate at lower priority should still be accepted as a no-op: %v", err)
	}

	ranked := p.GetForCollator(shardid.FullShardID)
	if len(ranked) != 1 {
		t.Fatalf("expected exactly one pooled message for the duplicate hash, got %d", len(ranked))
	}
}

func TestCheckAddNotAddedToMempoolWhenFlagFalse(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0xCC}})
	msg, err := p.CheckAdd([]byte("ephemeral"), 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil {
		t.Fatalf("expected a parsed message even without mempool admission")
	}
	if got := p.GetForCollator(shardid.FullShardID); len(got) != 0 {
		t.Fatalf("message submitted with addToMempool=false should not be retrievable, got %d", len(got))
	}
}

func TestGetForCollatorFiltersByShardAndExpiry(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0x01}})
	msg, err := p.CheckAdd([]byte("in-shard"), 0, true)
	if err != nil {
		t.Fatal(err)
	}

	ranked := p.GetForCollator(shardid.FullShardID)
	if len(ranked) != 1 {
		t.Fatalf("expected the message to be visible under the full shard, got %d", len(ranked))
	}

	left := shardid.ShardChild(shardid.FullShardID, true)
	right := shardid.ShardChild(shardid.FullShardID, false)
	// The message's address prefix falls under exactly one child shard;
	// between the two disjoint children, exactly one sees it.
	seenLeft := len(p.GetForCollator(left))
	seenRight := len(p.GetForCollator(right))
	if seenLeft+seenRight != 1 {
		t.Fatalf("expected the message to be visible under exactly one child shard, left=%d right=%d", seenLeft, seenRight)
	}

	// Once its TTL has elapsed the message is no longer returned.
	p.mu.Lock()
	p.byHash[msg.Hash()].deleteAt = time.Now().Add(-time.Second)
	p.mu.Unlock()
	if got := p.GetForCollator(shardid.FullShardID); len(got) != 0 {
		t.Fatalf("expected the expired message to be filtered out, got %d", len(got))
	}
}

func TestCompleteDeletesAndPostpones(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0x02}})
	msg, err := p.CheckAdd([]byte("to-delete"), 0, true)
	if err != nil {
		t.Fatal(err)
	}
	msg2, err := p.CheckAdd([]byte("to-postpone"), 0, true)
	if err != nil {
		t.Fatal(err)
	}

	p.Complete([][32]byte{msg2.Hash()}, [][32]byte{msg.Hash()})

	p.mu.Lock()
	_, deletedStillPooled := p.byHash[msg.Hash()]
	postponedEntry, postponedStillPooled := p.byHash[msg2.Hash()]
	p.mu.Unlock()

	if deletedStillPooled {
		t.Fatalf("deleted message should not be retrievable")
	}
	if !postponedStillPooled {
		t.Fatalf("postponed message should remain pooled, just inactive")
	}
	if postponedEntry.active {
		t.Fatalf("postponed message should be inactive immediately after Complete")
	}
}

func TestCompleteDropsMessageAfterExhaustingPostponeBudget(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0x03}})
	msg, err := p.CheckAdd([]byte("flaky"), 0, true)
	if err != nil {
		t.Fatal(err)
	}
	h := msg.Hash()

	// Simulate the message having already been postponed past its budget
	// (real exhaustion requires the postpone/reactivate cycle to run across
	// real wall-clock gaps; drive the generation counter directly instead).
	p.mu.Lock()
	p.byHash[h].generation = maxPostpones + 1
	p.mu.Unlock()

	p.Complete([][32]byte{h}, nil)

	p.mu.Lock()
	_, stillPooled := p.byHash[h]
	p.mu.Unlock()
	if stillPooled {
		t.Fatalf("message should be dropped once its postpone budget is exhausted")
	}
}

func TestStatsCountsAcceptedAndRejected(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0x04}})
	if _, err := p.CheckAdd([]byte("ok"), 0, true); err != nil {
		t.Fatal(err)
	}
	_, _ = p.CheckAdd([]byte("bad"), 0, true)
	// fakeChecker accepts every body, so both submissions count as accepted.
	if ok, failed := p.Stats(); ok != 2 || failed != 0 {
		t.Fatalf("expected 2 ok / 0 failed on the accepting pool, got ok=%d failed=%d", ok, failed)
	}

	badPool := newPool(failingChecker{})
	_, _ = badPool.CheckAdd([]byte("bad"), 0, true)
	ok, failed := badPool.Stats()
	if ok != 0 || failed != 1 {
		t.Fatalf("expected 0 ok / 1 failed on the failing-checker pool, got ok=%d failed=%d", ok, failed)
	}
}

func TestCleanupEvictsExpiredMessages(t *testing.T) {
	p := newPool(fakeChecker{addr: [32]byte{0x05}})
	msg, err := p.CheckAdd([]byte("stale"), 0, true)
	if err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	p.byHash[msg.Hash()].deleteAt = time.Now().Add(-time.Second)
	p.mu.Unlock()

	p.Cleanup()

	p.mu.Lock()
	_, ok := p.byHash[msg.Hash()]
	p.mu.Unlock()
	if ok {
		t.Fatalf("expected the expired message to be evicted by Cleanup")
	}
}

package waitfor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

func testIDExt(seqno uint32) shardid.IDExt {
	return shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: seqno}}
}

func TestWaitDedupesConcurrentCallers(t *testing.T) {
	r := NewRegistry()
	var calls int32

	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "value", nil
	}

	const n = 10
	results := make([]interface{}, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Wait(context.Background(), "k", time.Now().Add(time.Second), 0, fetch)
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one fetch for %d concurrent waiters, got %d", n, calls)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d got unexpected error: %v", i, errs[i])
		}
		if results[i] != "value" {
			t.Fatalf("waiter %d got %v, want %q", i, results[i], "value")
		}
	}
}

func TestWaitFansOutSameErrorToAllWaiters(t *testing.T) {
	r := NewRegistry()
	fetch := func(ctx context.Context) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, codes.New(codes.ProtoViolation, "bad proof")
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Wait(context.Background(), "k2", time.Now().Add(time.Second), 0, fetch)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil || !codes.Is(err, codes.ProtoViolation) {
			t.Fatalf("waiter %d: expected ProtoViolation, got %v", i, err)
		}
	}
}

func TestWaitRetriesOnTimeoutWhenDeadlineExtended(t *testing.T) {
	r := NewRegistry()
	var calls int32

	fetch := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, codes.New(codes.Timeout, "not yet")
		}
		return "ready", nil
	}

	short := time.Now().Add(5 * time.Millisecond)
	long := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	var v1, v2 interface{}
	var e1, e2 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		v1, e1 = r.Wait(context.Background(), "k3", short, 0, fetch)
	}()
	time.Sleep(time.Millisecond)
	go func() {
		defer wg.Done()
		v2, e2 = r.Wait(context.Background(), "k3", long, 1, fetch)
	}()
	wg.Wait()

	if e2 != nil {
		t.Fatalf("long-deadline waiter should eventually see success: %v", e2)
	}
	if v2 != "ready" {
		t.Fatalf("expected %q, got %v", "ready", v2)
	}
	_ = v1
	_ = e1
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected the worker to retry after the first timeout, got %d calls", calls)
	}
}

func TestWaitHonorsCallerContextCancellation(t *testing.T) {
	r := NewRegistry()
	block := make(chan struct{})
	fetch := func(ctx context.Context) (interface{}, error) {
		<-block
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		_, err = r.Wait(ctx, "k4", time.Now().Add(time.Minute), 0, fetch)
		close(done)
	}()
	cancel()
	<-done
	close(block)

	if err == nil || !codes.Is(err, codes.Cancelled) {
		t.Fatalf("expected Cancelled error, got %v", err)
	}
}

func TestKeyConstructorsDistinguishComposites(t *testing.T) {
	a := testIDExt(1)
	b := testIDExt(2)

	if DataKey(a) == StateKey(a) {
		t.Fatalf("data and state keys must differ for the same id")
	}
	if MergeKey(a, b) == MergeKey(b, a) {
		t.Fatalf("merge key must encode left/right order distinctly")
	}
	if PrevStateKey(a) == PrevStateKey(b) {
		t.Fatalf("prev-state keys for different ids must differ")
	}
}

package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := locker.Obtain(ctx, OrderLockKey("A"), string(rune('a'+i)), time.Second)
			if err != nil {
				t.Errorf("Obtain() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = l.Unlock(ctx)
		}(i)
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestLocalLockerUnlockOnlyOwner(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	first, err := locker.Obtain(ctx, "k", "first", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	time.Sleep(15 * time.Millisecond)

	// 过期后被他人获取，原持有者释放不影响新持有者
	second, err := locker.Obtain(ctx, "k", "second", time.Second)
	if err != nil {
		t.Fatalf("Obtain() after expiry error = %v", err)
	}
	_ = first.Unlock(ctx)

	if locker.tryLock("k", "third", time.Second) {
		t.Fatal("lock held by second was released by first")
	}
	_ = second.Unlock(ctx)
	if !locker.tryLock("k", "third", time.Second) {
		t.Fatal("lock should be free after owner unlock")
	}
}

func TestLocalLockerContextCancel(t *testing.T) {
	locker := NewLocalLocker()
	if _, err := locker.Obtain(context.Background(), "k", "a", time.Minute); err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := locker.Obtain(ctx, "k", "b", time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Obtain() error = %v, want deadline exceeded", err)
	}
}

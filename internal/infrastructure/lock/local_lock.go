package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker 进程内锁，Redis 未启用时使用，单实例部署下语义与 RedisLocker 一致
type LocalLocker struct {
	mu            sync.Mutex
	held          map[string]localEntry
	retryInterval time.Duration
	maxRetries    int
}

type localEntry struct {
	owner     string
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:          make(map[string]localEntry),
		retryInterval: 20 * time.Millisecond,
		maxRetries:    150,
	}
}

func (l *LocalLocker) tryLock(key, owner string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	l.held[key] = localEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true
}

func (l *LocalLocker) Obtain(ctx context.Context, key, owner string, ttl time.Duration) (Lock, error) {
	for i := 0; i < l.maxRetries; i++ {
		if l.tryLock(key, owner, ttl) {
			return &localLock{locker: l, key: key, owner: owner}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	return nil, ErrLockFailed
}

type localLock struct {
	locker *LocalLocker
	key    string
	owner  string
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if e, ok := l.locker.held[l.key]; ok && e.owner == l.owner {
		delete(l.locker.held, l.key)
	}
	return nil
}

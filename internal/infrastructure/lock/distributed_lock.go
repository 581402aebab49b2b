package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止持有者崩溃导致死锁）
//   - value: 锁持有者标识（释放时校验，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查 + 删除"的原子性
//
// 注意：这是建议性锁，只用于串行化外部调用（例如网关退款），
// 账本一致性由数据库行锁保证，不依赖这里。
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// Lock 已持有的锁
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker 锁工厂
type Locker interface {
	// Obtain 在 ctx 截止前按 retryInterval 重试获取锁
	Obtain(ctx context.Context, key, owner string, ttl time.Duration) (Lock, error)
}

// DistributedLock Redis 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// RedisLocker 基于 Redis 的 Locker
type RedisLocker struct {
	client        *redis.Client
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, retryInterval: 100 * time.Millisecond, maxRetries: 30}
}

func (r *RedisLocker) Obtain(ctx context.Context, key, owner string, ttl time.Duration) (Lock, error) {
	l := NewDistributedLock(r.client, key, owner, ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return l, nil
}

// OrderLockKey 订单维度的锁，同一订单的退款等外部操作串行执行
func OrderLockKey(outTradeNo string) string {
	return fmt.Sprintf("tokenpay:lock:order:%s", outTradeNo)
}

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker 基于 Redis SetNX 的短期互斥锁，带 TTL 防止 worker 崩溃后锁死
type Locker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewLocker(rdb *redis.Client, logger *zap.Logger) *Locker {
	return &Locker{rdb: rdb, logger: logger}
}

// MessageKey formats the lock key guarding a single message's processing.
func MessageKey(accountID int64, messageID string) string {
	return fmt.Sprintf("lock:message:%d:%s", accountID, messageID)
}

// ActionKey formats the lock key guarding a delayed action execution.
func ActionKey(accountID, executedActionID int64) string {
	return fmt.Sprintf("lock:action:%d:%d", accountID, executedActionID)
}

// Acquire tries to take the lock for key with the given TTL.
// Returns (release, true) when this caller is the holder, (nil, false) when
// another holder is in flight. Losing the race is a normal outcome.
//
// Redis 挂了？为了安全：当 redis 不可用时，不阻止处理，返回 true
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	ok, err := l.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("Redis lock acquire failed, allowing processing",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return func() {}, true
	}

	if !ok {
		if l.logger != nil {
			l.logger.Info("Lock already held, skipping",
				zap.String("key", key),
			)
		}
		return nil, false
	}

	release := func() {
		// Release 用后台 context：即使调用方 ctx 已取消也要归还锁
		if err := l.rdb.Del(context.Background(), key).Err(); err != nil && l.logger != nil {
			l.logger.Warn("Failed to release lock, will expire via TTL",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return release, true
}

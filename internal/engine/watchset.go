package engine

import (
	"context"
	"errors"
	"sync"
	"tradeflow/internal/consts"

	"github.com/redis/go-redis/v9"
)

// WatchSet 有open限价单的资产集合，用来避免评估无关tick。
// 这是派生状态，不具权威性：权威的open/closed在订单表里，
// 任何时刻都可以用Reset从账本重建（崩溃恢复）。
type WatchSet interface {
	// Track 登记一笔该资产的限价挂单
	Track(ctx context.Context, asset string) error
	// Remove 该资产已无open限价单时整体移除
	Remove(ctx context.Context, asset string) error
	Contains(ctx context.Context, asset string) (bool, error)
	// Reset 用账本里的open限价单统计整体重建
	Reset(ctx context.Context, counts map[string]int64) error
}

// MemoryWatchSet 进程内计数表。只适合单实例触发引擎，
// 多实例部署请用RedisWatchSet共享计数
type MemoryWatchSet struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryWatchSet() *MemoryWatchSet {
	return &MemoryWatchSet{counts: make(map[string]int64)}
}

func (w *MemoryWatchSet) Track(_ context.Context, asset string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[asset]++
	return nil
}

func (w *MemoryWatchSet) Remove(_ context.Context, asset string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.counts, asset)
	return nil
}

func (w *MemoryWatchSet) Contains(_ context.Context, asset string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[asset] > 0, nil
}

func (w *MemoryWatchSet) Reset(_ context.Context, counts map[string]int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts = make(map[string]int64, len(counts))
	for asset, n := range counts {
		if n > 0 {
			w.counts[asset] = n
		}
	}
	return nil
}

// RedisWatchSet redis hash上的共享计数，多个触发引擎实例
// 看到同一份tracked集合
type RedisWatchSet struct {
	client *redis.Client
	key    string
}

func NewRedisWatchSet(client *redis.Client) *RedisWatchSet {
	return &RedisWatchSet{client: client, key: consts.TrackedAssetsKey}
}

func (w *RedisWatchSet) Track(ctx context.Context, asset string) error {
	return w.client.HIncrBy(ctx, w.key, asset, 1).Err()
}

func (w *RedisWatchSet) Remove(ctx context.Context, asset string) error {
	return w.client.HDel(ctx, w.key, asset).Err()
}

func (w *RedisWatchSet) Contains(ctx context.Context, asset string) (bool, error) {
	val, err := w.client.HGet(ctx, w.key, asset).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

func (w *RedisWatchSet) Reset(ctx context.Context, counts map[string]int64) error {
	pipe := w.client.TxPipeline()
	pipe.Del(ctx, w.key)
	for asset, n := range counts {
		if n > 0 {
			pipe.HSet(ctx, w.key, asset, n)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

package bus

import (
	"context"
	"errors"
	"time"
	"tradeflow/internal/consts"
	"tradeflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// redis实现：pub/sub做总线，list做队列，hash做价格快照

type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	ps := b.client.Subscribe(ctx, channels...)
	// 确认订阅建立，避免启动竞态丢消息
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Message, 1000)
	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				default:
					// 消费侧积压则丢弃，订阅者互不反压
					logger.Warnf("bus subscriber buffer full, dropping message on %s", msg.Channel)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue 市价单队列，RPUSH入队、BLPOP出队
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: consts.OrdersQueueKey}
}

func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	return q.client.RPush(ctx, q.key, payload).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	// BLPOP阻塞消费代替轮询空转，超时返回后由调用方检查退出信号
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	// BLPOP返回[key, value]
	if len(res) < 2 {
		return nil, ErrQueueEmpty
	}
	return []byte(res[1]), nil
}

// RedisSnapshot 最新价快照，HSET覆盖写
type RedisSnapshot struct {
	client *redis.Client
}

func NewRedisSnapshot(client *redis.Client) *RedisSnapshot {
	return &RedisSnapshot{client: client}
}

func (s *RedisSnapshot) SetLatestPrice(ctx context.Context, asset string, price decimal.Decimal) error {
	return s.client.HSet(ctx, consts.LatestPriceKey, asset, price.String()).Err()
}

func (s *RedisSnapshot) GetLatestPrice(ctx context.Context, asset string) (decimal.Decimal, bool, error) {
	val, err := s.client.HGet(ctx, consts.LatestPriceKey, asset).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (s *RedisSnapshot) LatestPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	vals, err := s.client.HGetAll(ctx, consts.LatestPriceKey).Result()
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(vals))
	for asset, val := range vals {
		price, err := decimal.NewFromString(val)
		if err != nil {
			logger.Warnf("bad price snapshot for %s: %q", asset, val)
			continue
		}
		prices[asset] = price
	}
	return prices, nil
}

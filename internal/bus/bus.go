package bus

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 队列为空（阻塞等待超时），调用方自行决定下一轮
var ErrQueueEmpty = errors.New("queue is empty")

// Message 总线上的一条消息
type Message struct {
	Channel string
	Payload []byte
}

// Bus 发布/订阅总线。tick和成交事件都从这里走，
// 订阅方之间互不影响，消费慢不会反压发布方
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe 订阅一个或多个通道，消息送入返回的channel。
	// ctx取消后channel关闭
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
}

// Queue 市价单FIFO工作队列
type Queue interface {
	Push(ctx context.Context, payload []byte) error
	// Pop 阻塞弹出队首，最多等待timeout，超时返回ErrQueueEmpty
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// PriceSnapshot 各资产最新成交价快照。无条件覆盖写，
// 读取方只需要“最近一次已知价格”，不要求顺序
type PriceSnapshot interface {
	SetLatestPrice(ctx context.Context, asset string, price decimal.Decimal) error
	// GetLatestPrice 没有快照时返回ok=false
	GetLatestPrice(ctx context.Context, asset string) (price decimal.Decimal, ok bool, err error)
	LatestPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}

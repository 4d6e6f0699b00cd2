package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"
	UserID    = "user_id"

	// 美元余额使用的资产符号，限价/市价单统一以它作为计价一侧
	AssetUSD = "USD"
	// 行情源交易对的计价后缀，规整时剥掉
	QuoteSuffix = "USDT"

	// 最新价格快照（redis hash: asset -> price）
	LatestPriceKey = "latest_price"
	// 市价单FIFO队列（redis list）
	OrdersQueueKey = "orders_queue"
	// 限价单watch-set共享计数（redis hash: asset -> 开放限价单登记数）
	TrackedAssetsKey = "tracked_assets"
	// 用户信息hash前缀，user:<id>，通知侧从这里取邮箱
	UserInfoPrefix = "user:"

	// 行情tick发布通道
	ChannelPriceUpdates = "price.updates"
	// 成交事件发布通道
	ChannelTradeExecuted = "trade.executed"

	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"

	// 默认redis过期时间
	RedisExrDefault = time.Hour * 24 * 5
)

package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/bus"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamMessage(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":12345,"p":"42000.50","q":"0.0125","T":1700000000000,"m":true}}`)

	tick, err := ParseStreamMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "BTC", tick.Asset)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.True(t, tick.Price.Equal(mustDec(t, "42000.50")))
	assert.True(t, tick.Qty.Equal(mustDec(t, "0.0125")))
	assert.Equal(t, time.UnixMilli(1700000000000), tick.Ts)
	assert.True(t, tick.IsMaker)
}

func TestParseStreamMessage_UnwrappedSingleStream(t *testing.T) {
	// 单流订阅没有stream/data外层包装
	raw := []byte(`{"e":"trade","s":"ETHUSDT","p":"2500","q":"1","T":1700000000000,"m":false}`)

	tick, err := ParseStreamMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "ETH", tick.Asset)
	assert.False(t, tick.IsMaker)
}

func TestParseStreamMessage_StringTimestamp(t *testing.T) {
	// 源端偶尔把毫秒时间戳当字符串给
	raw := []byte(`{"e":"trade","s":"SOLUSDT","p":"150","q":"2","T":"1700000000000","m":false}`)

	tick, err := ParseStreamMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000), tick.Ts)
}

func TestParseStreamMessage_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `ping`},
		{"missing symbol", `{"e":"trade","p":"100","q":"1","T":1700000000000}`},
		{"bad price", `{"e":"trade","s":"BTCUSDT","p":"abc","q":"1","T":1700000000000}`},
		{"zero price", `{"e":"trade","s":"BTCUSDT","p":"0","q":"1","T":1700000000000}`},
		{"negative price", `{"e":"trade","s":"BTCUSDT","p":"-1","q":"1","T":1700000000000}`},
		{"bad qty", `{"e":"trade","s":"BTCUSDT","p":"100","q":"","T":1700000000000}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStreamMessage([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseStreamMessage_NonQuoteSymbolKeptAsIs(t *testing.T) {
	raw := []byte(`{"e":"trade","s":"btcusdc","p":"100","q":"1","T":1700000000000}`)

	tick, err := ParseStreamMessage(raw)
	require.NoError(t, err)
	// 只剥离USDT计价后缀，其他交易对保留原符号
	assert.Equal(t, "BTCUSDC", tick.Asset)
}

type noopBus struct{}

func (noopBus) Publish(context.Context, string, []byte) error { return nil }
func (noopBus) Subscribe(context.Context, ...string) (<-chan bus.Message, error) {
	return nil, nil
}

type noopSnapshot struct{}

func (noopSnapshot) SetLatestPrice(context.Context, string, decimal.Decimal) error { return nil }
func (noopSnapshot) GetLatestPrice(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}
func (noopSnapshot) LatestPrices(context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func TestRun_NoGoroutineLeakAcrossReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	// 行情源每次握手后立刻断开，驱动密集重连
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	cfg := conf.FeedConfig{
		StreamURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:        []string{"btcusdt"},
		ReconnectDelay: time.Millisecond,
	}
	ingestor := NewIngestor(cfg, noopBus{}, noopSnapshot{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ingestor.Run(ctx)

	// 等重连节奏稳定后取基线，再跑一段时间比对协程数。
	// 每次重连的守护协程必须随连接一起退出
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()
	time.Sleep(300 * time.Millisecond)
	after := runtime.NumGoroutine()

	assert.Less(t, after, before+50,
		"goroutines must not accumulate across reconnects: %d -> %d", before, after)
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

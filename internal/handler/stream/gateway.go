package stream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// 单个viewer的发送缓冲，满了直接丢该viewer的消息
	sendBuffer = 1000
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ViewerGateway 把tick和成交事件原样广播给所有已连接的viewer。
// 尽力而为：慢的或断开的viewer绝不能阻塞其他人，也不能反压总线
type ViewerGateway struct {
	bus bus.Bus
	mu  sync.Mutex // 保护 clients map 写入

	// 存储 map[string]*viewerConn，CoW模式，广播侧无锁读取
	clients atomic.Value

	upgrader websocket.Upgrader
}

func NewViewerGateway(b bus.Bus) *ViewerGateway {
	g := &ViewerGateway{
		bus: b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	g.clients.Store(make(map[string]*viewerConn))
	return g
}

// Run 订阅两个通道并持续广播，ctx取消后退出
func (g *ViewerGateway) Run(ctx context.Context) error {
	msgs, err := g.bus.Subscribe(ctx, consts.ChannelPriceUpdates, consts.ChannelTradeExecuted)
	if err != nil {
		return err
	}
	logger.Info("viewer gateway started")
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("viewer gateway stopped")
				return nil
			}
			g.broadcast(msg.Payload)
		case <-ctx.Done():
			logger.Info("viewer gateway stopped")
			return nil
		}
	}
}

// ServeWS 处理viewer连接的建立和断开
func (g *ViewerGateway) ServeWS(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("upgrade error: %v", err)
		return
	}

	client := &viewerConn{
		id:   clientID,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	g.addClient(client)
	logger.Infof("viewer %s connected", clientID)

	go client.writePump()
	// readPump阻塞到客户端断开，之后走清理
	client.readPump()

	g.removeClient(client)
	client.close()
	logger.Infof("viewer %s disconnected", clientID)
}

func (g *ViewerGateway) addClient(client *viewerConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.clients.Load().(map[string]*viewerConn)
	next := make(map[string]*viewerConn, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	if prev, ok := next[client.id]; ok {
		// 同一client_id重连，旧连接直接让位
		go prev.close()
	}
	next[client.id] = client
	g.clients.Store(next)
}

func (g *ViewerGateway) removeClient(client *viewerConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.clients.Load().(map[string]*viewerConn)
	if current, ok := old[client.id]; !ok || current != client {
		// 已被新连接替换，不动map
		return
	}
	next := make(map[string]*viewerConn, len(old))
	for k, v := range old {
		if k != client.id {
			next[k] = v
		}
	}
	g.clients.Store(next)
}

// 全量广播
func (g *ViewerGateway) broadcast(data []byte) {
	clients, ok := g.clients.Load().(map[string]*viewerConn)
	if !ok {
		return
	}
	for _, client := range clients {
		client.safeSend(data)
	}
}

type viewerConn struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// safeSend 非阻塞投递，缓冲满则丢弃并记录，不影响其他viewer
func (c *viewerConn) safeSend(data []byte) {
	select {
	case c.send <- data:
	default:
		logger.Warnf("viewer %s send buffer full, dropping message", c.id)
	}
}

func (c *viewerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *viewerConn) readPump() {
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// viewer是只推通道，读到的内容全部忽略，只为感知断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// close 只关底层连接；send通道不关，writePump在下一次写入
// 或心跳时感知到关闭并退出
func (c *viewerConn) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

package router

import (
	"tradeflow/internal/handler/order"
	"tradeflow/internal/handler/ping"
	"tradeflow/internal/handler/stream"
	"tradeflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	orderHandler *order.Handler
	gateway      *stream.ViewerGateway
}

func NewApiRouter(oh *order.Handler, gw *stream.ViewerGateway) *ApiRouter {
	return &ApiRouter{orderHandler: oh, gateway: gw}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId(), middleware.Logger)

	g.GET("/ping", ping.Ping())

	base := g.Group("/api/v1")

	o := base.Group("/orders", middleware.AntiDuplicateMiddleware())
	{
		// 市价下单
		o.POST("", api.orderHandler.OrderPlaceMarket())
		// 限价下单
		o.POST("/limit", api.orderHandler.OrderPlaceLimit())
	}

	b := base.Group("/balances")
	{
		b.POST("/deposit", middleware.AntiDuplicateMiddleware(), api.orderHandler.BalanceDeposit())
		b.GET("", api.orderHandler.BalancesGet())
	}

	p := base.Group("/prices", middleware.NoCache())
	{
		p.GET("", api.orderHandler.PricesGet())
	}

	s := base.Group("/stream")
	{
		// 通过websocket连接接收tick和成交事件推送
		s.GET("/ws", api.gateway.ServeWS)
	}
}

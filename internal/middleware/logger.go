package middleware

import (
	"time"
	"tradeflow/internal/consts"
	"tradeflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

func Logger(c *gin.Context) {
	// 请求前
	t := time.Now()
	reqPath := c.Request.URL.Path
	reqId := c.GetString(consts.RequestId)
	method := c.Request.Method
	ip := c.ClientIP()

	c.Next()
	// 请求后
	latency := time.Since(t)
	logger.Info("[Request]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("method", method),
		logger.Pair("status", c.Writer.Status()),
		logger.Pair("cost", latency))
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	"tradeflow/conf"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Router 加载路由，使用侧提供接口，实现侧需要实现该接口
type Router interface {
	Load(engine *gin.Engine)
}

type Server struct {
	config *conf.Config
	f      func()
}

func NewServer(c *conf.Config) *Server {
	return &Server{config: c}
}

// OnShutdown 注册停机回调，用来取消各个worker的ctx。
// 回调之后还有一段排空时间，让在途的账本事务做完
func (s *Server) OnShutdown(f func()) {
	s.f = f
}

func (s *Server) Run(rs ...Router) {
	var wg sync.WaitGroup
	wg.Add(1)
	if s.config.Mode != "" {
		gin.SetMode(s.config.Mode)
	}
	g := gin.New()
	g.Use(gin.Recovery())
	for _, r := range rs {
		r.Load(g)
	}
	// gin validator业务规则
	validator.LazyInitGinValidator()

	// health check
	go func() {
		if err := Ping(s.config.Listen, s.config.MaxPingCount); err != nil {
			logger.Fatal("server no response")
		}
		logger.Infof("server started success! port: %s", s.config.Listen)
	}()

	srv := http.Server{
		Addr:    s.config.Listen,
		Handler: g,
	}
	if s.f != nil {
		srv.RegisterOnShutdown(s.f)
	}
	// graceful shutdown
	sgn := make(chan os.Signal, 1)
	signal.Notify(sgn, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sgn
		logger.Infof("server shutdown")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("server shutdown err %v \n", err)
		}
		wg.Done()
	}()

	err := srv.ListenAndServe()
	if err != nil {
		if err != http.ErrServerClosed {
			logger.Errorf("server start failed on port %s", s.config.Listen)
			return
		}
	}
	wg.Wait()
}

// Ping 启动后自检，确认监听端口有响应
func Ping(listen string, maxCount int) error {
	if maxCount <= 0 {
		maxCount = 10
	}
	seconds := 1
	url := fmt.Sprintf("http://127.0.0.1%s/ping", listen)
	client := http.Client{Timeout: time.Second}
	for i := 0; i < maxCount; i++ {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		time.Sleep(time.Duration(seconds) * time.Second)
	}
	return fmt.Errorf("cannot connect to server within %d attempts", maxCount)
}

package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"tradeflow/conf"
	"tradeflow/internal/bus"
	"tradeflow/internal/dao"
	"tradeflow/internal/engine"
	"tradeflow/internal/handler/order"
	"tradeflow/internal/handler/stream"
	"tradeflow/internal/ingest"
	"tradeflow/internal/journal"
	"tradeflow/internal/model"
	"tradeflow/internal/notify"
	"tradeflow/internal/router"
	"tradeflow/internal/service"
	"tradeflow/pkg/cache"
	"tradeflow/pkg/db"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/recorder"

	"github.com/bwmarrin/snowflake"
)

func main() {
	cfgPath := flag.String("c", "config.yaml", "配置文件路径")
	nodeID := flag.Int64("node", 1, "snowflake节点id，多实例部署时必须唯一")
	flag.Parse()

	// 加载配置文件
	if err := conf.LoadConfig(*cfgPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := conf.AppConfig

	logger.Init(appCfg.Log)
	defer logger.Close()

	// 初始化数据库
	datasource := db.Init(db.NewConfig(
		appCfg.Db.Username,
		appCfg.Db.Password,
		appCfg.Db.Host,
		appCfg.Db.Port,
		appCfg.Db.DbName,
	))
	if err := datasource.AutoMigrate(&model.UserAsset{}, &model.Order{}); err != nil {
		logger.Fatalf("auto migrate: %v", err)
	}

	// 初始化redis
	cache.InitRedis(appCfg.Redis)
	defer cache.CloseRedis()
	redisClient := cache.GetRedisClient()

	node, err := snowflake.NewNode(*nodeID)
	if err != nil {
		logger.Fatalf("snowflake node: %v", err)
	}

	// 核心管线的协作方
	ledger := dao.NewLedgerDao(datasource)
	eventBus := bus.NewRedisBus(redisClient)
	queue := bus.NewRedisQueue(redisClient)
	snapshot := bus.NewRedisSnapshot(redisClient)
	watch := engine.NewRedisWatchSet(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 所有worker挂在同一个WaitGroup上，停机时等它们收尾，
	// 已出队的订单必须结算完进程才能退出
	var workers sync.WaitGroup
	runWorker := func(name string, fn func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(ctx); err != nil {
				logger.Errorf("%s: %v", name, err)
			}
		}()
	}

	// 限价触发引擎：先用账本重建watch-set再开始消费tick
	trigger := engine.NewTriggerEngine(ledger, eventBus, watch)
	if err := trigger.Restore(ctx); err != nil {
		logger.Fatalf("restore watch-set: %v", err)
	}
	runWorker("trigger engine", trigger.Run)

	// 市价单执行器
	executor := engine.NewMarketExecutor(ledger, queue, eventBus, appCfg.Queue.PopTimeout)
	runWorker("market executor", func(ctx context.Context) error {
		executor.Run(ctx)
		return nil
	})

	// 行情摄取
	ingestor := ingest.NewIngestor(appCfg.Feed, eventBus, snapshot)
	runWorker("price ingestor", func(ctx context.Context) error {
		ingestor.Run(ctx)
		return nil
	})

	// viewer推送网关
	gateway := stream.NewViewerGateway(eventBus)
	runWorker("viewer gateway", gateway.Run)

	// 成交流水留档
	if appCfg.Journal.Path != "" {
		rec, err := recorder.NewJSONFileRecorder(appCfg.Journal.Path)
		if err != nil {
			logger.Fatalf("open execution journal: %v", err)
		}
		defer rec.Close()
		jw := journal.NewWorker(eventBus, rec)
		runWorker("execution journal", jw.Run)
	}

	// 成交通知
	if appCfg.Mail.Enabled {
		notifier := notify.NewEmailNotifier(appCfg.Mail, redisClient)
		worker := notify.NewWorker(eventBus, notifier)
		runWorker("notification worker", worker.Run)
	}

	orderService := service.NewOrderService(ledger, queue, snapshot, watch, node)
	orderHandler := order.NewHandler(orderService)
	apiRouter := router.NewApiRouter(orderHandler, gateway)

	srv := NewServer(&appCfg)
	srv.OnShutdown(cancel)
	srv.Run(apiRouter)

	// HTTP面退出后等全部worker落地，之后defer才释放redis和journal
	cancel()
	workers.Wait()
	logger.Info("all workers stopped")
}

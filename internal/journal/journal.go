package journal

import (
	"context"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/recorder"

	"github.com/goccy/go-json"
)

// Worker 成交流水留档：订阅trade.executed，把每条成交事件
// 原样追加到本地JSONL文件。写失败只记日志，不影响结算链路
type Worker struct {
	bus bus.Bus
	rec *recorder.JSONFileRecorder
}

func NewWorker(b bus.Bus, rec *recorder.JSONFileRecorder) *Worker {
	return &Worker{bus: b, rec: rec}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.bus.Subscribe(ctx, consts.ChannelTradeExecuted)
	if err != nil {
		return err
	}
	logger.Info("execution journal started")
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("execution journal stopped")
				return nil
			}
			if err := w.rec.Record(json.RawMessage(msg.Payload)); err != nil {
				logger.Errorf("journal execution event: %v", err)
			}
		case <-ctx.Done():
			logger.Info("execution journal stopped")
			return nil
		}
	}
}

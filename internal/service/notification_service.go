package service

import (
	"go-annotation-service/internal/event"
	"go-annotation-service/internal/interfaces"
	"go-annotation-service/internal/worker"
	"go-annotation-service/pkg/logger"

	"go.uber.org/zap"
)

// NotificationService 把变更扇出到websocket在线端和外部通知分发方
// 所有派发都发生在调用方已拿到应答之后 失败只记录
type NotificationService struct {
	hub     interfaces.Broadcaster
	emitter event.Emitter
	pool    *worker.Pool
}

func NewNotificationService(hub interfaces.Broadcaster, emitter event.Emitter, pool *worker.Pool) *NotificationService {
	return &NotificationService{hub: hub, emitter: emitter, pool: pool}
}

// Dispatch 提交一次变更的全部通知工作
// broadcast可为nil（纯生命周期事件） events可为空
func (n *NotificationService) Dispatch(broadcast *event.Broadcast, events ...event.Lifecycle) {
	err := n.pool.Submit(func() {
		if broadcast != nil {
			if err := n.hub.BroadcastToFile(broadcast); err != nil {
				logger.L.Warn("websocket broadcast failed",
					zap.String("fileID", broadcast.FileID), zap.Error(err))
			}
		}
		for _, ev := range events {
			if err := n.emitter.Emit(ev); err != nil {
				logger.L.Warn("lifecycle event emission failed",
					zap.String("name", ev.Name), zap.String("fileID", ev.FileID), zap.Error(err))
			}
		}
	})
	if err != nil {
		// 扇出是尽力而为的 队列满时丢弃
		logger.L.Warn("notification fan-out dropped, worker queue full")
	}
}

package interfaces

import "go-annotation-service/internal/event"

// Broadcaster 把变更通知推送给一个文件的在线客户端
// websocket.Hub实现 服务层只依赖这一个面
type Broadcaster interface {
	BroadcastToFile(broadcast *event.Broadcast) error
}

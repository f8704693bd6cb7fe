package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"go-annotation-service/internal/event"
	"go-annotation-service/pkg/config"
	"go-annotation-service/pkg/logger"

	"go.uber.org/zap"
)

type broadcastJob struct {
	payload *event.Broadcast
}

// Hub 按会话维护websocket客户端 按文件分组广播变更通知
type Hub struct {
	// sessionID -> client
	clients map[string]*Client
	// fileID -> sessionID集合
	files map[string]map[string]*Client

	broadcast  chan *broadcastJob
	register   chan *Client
	unregister chan *Client

	retryCount    int
	retryInterval time.Duration
}

func NewHub() *Hub {
	wsConfig := config.GlobalConfig.WebSocket

	retryCount := wsConfig.MessageRetryCount
	if retryCount <= 0 {
		retryCount = 3
		logger.L.Warn("Invalid retryCount, using default", zap.Int("default", retryCount))
	}

	retryInterval := time.Duration(wsConfig.MessageRetryIntervalMs) * time.Millisecond
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
		logger.L.Warn("Invalid retryInterval, using default", zap.Duration("default", retryInterval))
	}

	broadcastBufferSize := wsConfig.BroadcastBufferSize
	if broadcastBufferSize <= 0 {
		broadcastBufferSize = 256
		logger.L.Warn("Invalid BroadcastBufferSize, using default", zap.Int("default", broadcastBufferSize))
	}

	return &Hub{
		clients:       make(map[string]*Client),
		files:         make(map[string]map[string]*Client),
		broadcast:     make(chan *broadcastJob, broadcastBufferSize),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		retryCount:    retryCount,
		retryInterval: retryInterval,
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastToFile 把变更通知排队等待广播 队列满时丢弃并报错
func (h *Hub) BroadcastToFile(broadcast *event.Broadcast) error {
	select {
	case h.broadcast <- &broadcastJob{payload: broadcast}:
		logger.L.Debug("Change notification queued for broadcast.",
			zap.String("fileID", broadcast.FileID),
			zap.String("annotationID", broadcast.AnnotationID))
		return nil
	default:
		logger.L.Warn("Hub broadcast channel full. Dropping change notification.",
			zap.String("fileID", broadcast.FileID))
		return errors.New("hub broadcast channel is full")
	}
}

func (h *Hub) trySendMessage(client *Client, data []byte) {
	select {
	case client.Send <- data:
		// 发送成功
	default:
		for i := 0; i < h.retryCount; i++ {
			logger.L.Warn("Client send buffer full, retry attempt",
				zap.String("sessionID", client.SessionID),
				zap.Int("attempt", i+1))
			timer := time.NewTimer(h.retryInterval)
			select {
			case client.Send <- data:
				// 重试成功
				<-timer.C // 确保timer被消耗
				return
			case <-timer.C:
				// 重试超时
			}
		}
		// 所有重试失败 关闭连接
		logger.L.Error("Client send buffer still full after retries, closing connection",
			zap.String("sessionID", client.SessionID),
			zap.Int("attempts", h.retryCount))
		h.removeClient(client)
	}
}

// 仅在Run goroutine内调用
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client.SessionID]; ok {
		delete(h.clients, client.SessionID)
		if room, ok := h.files[client.FileID]; ok {
			delete(room, client.SessionID)
			if len(room) == 0 {
				delete(h.files, client.FileID)
			}
		}
		close(client.Send)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			// 注册新会话并加入文件房间
			h.clients[client.SessionID] = client
			if _, ok := h.files[client.FileID]; !ok {
				h.files[client.FileID] = make(map[string]*Client)
			}
			h.files[client.FileID][client.SessionID] = client
			logger.L.Info("Client registered",
				zap.String("sessionID", client.SessionID),
				zap.String("fileID", client.FileID))

		case client := <-h.unregister:
			if _, ok := h.clients[client.SessionID]; ok {
				h.removeClient(client)
				logger.L.Info("Client unregistered", zap.String("sessionID", client.SessionID))
			}

		case job := <-h.broadcast:
			data, err := json.Marshal(job.payload)
			if err != nil {
				logger.L.Error("Failed to marshal change notification", zap.Error(err))
				continue
			}

			room, ok := h.files[job.payload.FileID]
			if !ok {
				continue
			}
			// 发起变更的会话不给自己回推
			for sessionID, client := range room {
				if sessionID == job.payload.SessionIDToExclude {
					continue
				}
				h.trySendMessage(client, data)
			}
		}
	}
}

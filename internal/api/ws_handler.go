package api

import (
	"net/http"

	"go-annotation-service/internal/access"
	internalws "go-annotation-service/internal/websocket"
	"go-annotation-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境应该配置具体的域名
		return true // 允许所有来源
	},
}

type WSHandler struct {
	hub  *internalws.Hub
	gate *access.Gate
}

func NewWSHandler(hub *internalws.Hub, gate *access.Gate) *WSHandler {
	return &WSHandler{hub: hub, gate: gate}
}

// 订阅一个文件的变更推送 升级前先过访问门禁
func (h *WSHandler) HandleConnection(c *gin.Context) {
	userIDValue, exists := c.Get("userID")
	if !exists {
		logger.L.Error("userID not found in context for WebSocket")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID, ok := userIDValue.(uint)
	if !ok {
		logger.L.Error("Invalid userID type in context", zap.Any("userIDValue", userIDValue))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID in context"})
		return
	}
	sessionID := c.GetString("sessionID")

	fileID := c.Query("file_id")
	if fileID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file_id is required"})
		return
	}

	verdict := h.gate.HasAccess(c.Request.Context(), access.Request{
		FileID:       fileID,
		SessionID:    sessionID,
		UserID:       userID,
		Token:        c.Query("token"),
		StorageType:  c.DefaultQuery("storage_type", "drive"),
		LinkPassword: c.GetHeader("X-Link-Password"),
		LinkSession:  c.GetHeader("X-Link-Session"),
	})
	if !verdict.Allowed() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file is not accessible"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Error("Failed to upgrade WebSocket connection",
			zap.String("sessionID", sessionID), zap.Error(err))
		return
	}
	logger.L.Info("WebSocket connection upgraded",
		zap.String("sessionID", sessionID), zap.String("fileID", fileID))

	client := internalws.NewClient(sessionID, fileID, userID, conn, h.hub)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

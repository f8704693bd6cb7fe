package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // 写超时
	pongWait       = 60 * time.Second    // 等待pong的最大时间
	pingPeriod     = (pongWait * 9) / 10 // 发送ping的周期
	maxMessageSize = 4096                // 消息最大长度
)

// Client 一条已升级的websocket连接 绑定到(会话, 文件)
// 连接只用于下行通知 上行消息被忽略
type Client struct {
	SessionID string
	FileID    string
	UserID    uint
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
	manager   ConnectionManager
}

func NewClient(sessionID, fileID string, userID uint, conn *websocket.Conn, manager ConnectionManager) *Client {
	return &Client{
		SessionID: sessionID,
		FileID:    fileID,
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		manager:   manager,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: unexpected close error for session %s: %v", c.SessionID, err)
			} else {
				log.Printf("error: read error for session %s: %v", c.SessionID, err)
			}
			break
		}
		// 状态变更一律走HTTP接口 上行内容忽略
		log.Printf("Ignoring inbound message type (%d) from session %s.", messageType, c.SessionID)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case messageBytes, ok := <-c.Send:
			if !ok {
				// Send 通道已关闭
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, messageBytes)
			c.mu.Unlock()
			if err != nil {
				log.Printf("error: failed to write message for session %s: %v", c.SessionID, err)
				return
			}

			c.mu.Lock()
			n := len(c.Send)
			for i := 0; i < n; i++ {
				batchBytes := <-c.Send
				if err := c.Conn.WriteMessage(websocket.TextMessage, batchBytes); err != nil {
					log.Printf("error: failed to write batched message for session %s: %v", c.SessionID, err)
					c.mu.Unlock()
					return
				}
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				log.Printf("Failed to send ping: %v", err)
				return
			}
		}
	}
}

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"puzzle-duel/internal/repository"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	userID      string
	displayName string
	send        chan []byte // 用于向此客户端发送消息的缓冲通道

	mu      sync.Mutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	watches map[string]repository.Subscription
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, userID, displayName string) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	return &Client{
		hub:         hub,
		conn:        conn,
		userID:      userID,
		displayName: displayName,
		send:        make(chan []byte, 256),
		ctx:         ctx,
		cancel:      cancel,
		watches:     make(map[string]repository.Subscription),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) UserID() string      { return c.userID }
func (c *Client) DisplayName() string { return c.displayName }

// push 非阻塞地把消息放入发送队列，连接已关闭或队列已满时丢弃
func (c *Client) push(p Push) {
	data, err := encodePush(p)
	if err != nil {
		logrus.WithError(err).WithField("push_type", p.Type).Error("Failed to marshal push message")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		logrus.WithFields(logrus.Fields{"user_id": c.userID, "push_type": p.Type}).Warn("Client send channel full, message dropped")
	}
}

// watch 建立一个观察。同一个 key 重复观察时保留已有订阅。
func (c *Client) watch(key string, subscribe func(ctx context.Context) (repository.Subscription, error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, exists := c.watches[key]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sub, err := subscribe(c.ctx)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": c.userID, "watch": key}).Warn("Failed to start watch")
		c.push(Push{Type: PushError, Message: "failed to watch " + key})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.watches[key]; exists || c.closed {
		// 并发的重复观察或连接已关闭
		_ = sub.Close()
		return
	}
	c.watches[key] = sub
}

// unwatch 取消观察，不存在时忽略
func (c *Client) unwatch(key string) {
	c.mu.Lock()
	sub, ok := c.watches[key]
	delete(c.watches, key)
	c.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

// close 关闭发送队列并取消所有观察，可重复调用
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	watches := c.watches
	c.watches = make(map[string]repository.Subscription)
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	for _, sub := range watches {
		_ = sub.Close()
	}
}

// requestUnregister 请求 Hub 注销此客户端。注销消息不能丢弃，否则用户会一直显示在线，
// 因此只在 Hub 已停止时放弃 (此时 closeAllSessions 负责清理)。
func (c *Client) requestUnregister() {
	select {
	case c.hub.messageChan <- HubMessage{Type: "unregister", Client: c}:
	case <-c.hub.ctx.Done():
		c.close()
	}
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的 messageChan。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	logCtx := logrus.WithField("user_id", c.userID)
	defer func() {
		c.requestUnregister()
		c.conn.Close()
		logCtx.Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			logCtx.Debugf("Received non-text message type: %d", messageType)
			continue
		}
		// 非阻塞发送到 Hub，如果 Hub 处理不过来则丢弃
		c.hub.QueueMessage(HubMessage{Type: "command", Client: c, RawData: message})
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	logCtx := logrus.WithField("user_id", c.userID)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被关闭（注销或 Hub 停止）
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			// 定期发送 Ping 以保持连接活跃并检测断开
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

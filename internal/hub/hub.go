package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"
	"puzzle-duel/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	cleanupTimeout = 5 * time.Second
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "command"
	Client  *Client // 来源客户端
	RawData []byte  // 仅用于 command (原始 WebSocket 消息)
}

// userSession 是同一用户所有连接共享的状态：在线心跳和挑战收件箱监听。
// 多个标签页共用一个监听，避免同一条挑战被投递多次。
// inbox 只在 startSession 中写入，ready 关闭之后才能读取。
type userSession struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
	ready   chan struct{}
	inbox   repository.Subscription
}

// Hub 维护活跃连接，负责在线状态、挑战投递和房间/对局观察的推送
type Hub struct {
	messageChan chan HubMessage

	// 按用户组织的连接，只在 Run 所在的 goroutine 中修改
	users   map[string]*userSession
	usersMu sync.RWMutex

	presence   *service.PresenceService
	challenges *service.ChallengeService
	lobbies    *service.LobbyService
	matches    *service.MatchService

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	sessions sync.WaitGroup // 进行中的 startSession / endSession
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(presence *service.PresenceService, challenges *service.ChallengeService, lobbies *service.LobbyService, matches *service.MatchService) *Hub {
	if presence == nil || challenges == nil || lobbies == nil || matches == nil {
		panic("services cannot be nil for Hub")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		users:       make(map[string]*userSession),
		presence:    presence,
		challenges:  challenges,
		lobbies:     lobbies,
		matches:     matches,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 的主事件处理循环，应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	defer close(h.done)

	go h.feedPresence()

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllSessions()
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			case "command":
				// 指令处理涉及存储 IO，异步执行避免阻塞主循环
				go h.handleCommand(msg.Client, msg.RawData)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// Stop 停止 Hub：关闭所有用户会话并清除在线记录
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 false 表示队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"user_id":      msg.Client.UserID(),
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}

// OnlineUsers 返回当前在本实例上有连接的用户数
func (h *Hub) OnlineUsers() int {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	return len(h.users)
}

// registerClient 处理客户端注册。用户的第一个连接会写入在线记录并开始监听收件箱。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	userID := client.UserID()
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "action": "registerClient"})

	h.usersMu.Lock()
	sess, ok := h.users[userID]
	var ctx context.Context
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(h.ctx)
		sess = &userSession{clients: make(map[*Client]bool), cancel: cancel, ready: make(chan struct{})}
		h.users[userID] = sess
	}
	sess.clients[client] = true
	h.usersMu.Unlock()
	logCtx.Info("Client registered to Hub")

	if ok {
		return
	}
	// 会话建立要访问存储，不能阻塞主循环
	h.sessions.Add(1)
	go func() {
		defer h.sessions.Done()
		h.startSession(ctx, sess, userID, client.DisplayName())
	}()
}

func (h *Hub) startSession(ctx context.Context, sess *userSession, userID, displayName string) {
	defer close(sess.ready)
	logCtx := logrus.WithField("user_id", userID)

	if err := h.presence.Announce(ctx, userID, displayName); err != nil {
		if ctx.Err() != nil {
			return
		}
		logCtx.WithError(err).Error("Failed to announce presence")
	}
	if ctx.Err() != nil {
		return
	}
	go h.heartbeat(ctx, userID, displayName)

	sub, err := h.challenges.Listen(ctx, userID, func(_ context.Context, c domain.Challenge) error {
		h.pushToUser(userID, Push{Type: PushChallenge, Payload: c})
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			logCtx.WithError(err).Error("Failed to listen for challenges")
		}
		return
	}
	sess.inbox = sub
}

// heartbeat 在连接存活期间定期刷新在线记录的 TTL
func (h *Hub) heartbeat(ctx context.Context, userID, displayName string) {
	interval := h.presence.TTL() / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.presence.Refresh(ctx, userID, displayName); err != nil && ctx.Err() == nil {
				logrus.WithError(err).WithField("user_id", userID).Warn("Presence heartbeat failed")
			}
		}
	}
}

// unregisterClient 处理客户端注销。用户的最后一个连接断开时清除在线记录。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	userID := client.UserID()
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "action": "unregisterClient"})

	client.close()

	h.usersMu.Lock()
	sess, ok := h.users[userID]
	if !ok || !sess.clients[client] {
		h.usersMu.Unlock()
		logCtx.Warn("Client not found during unregister")
		return
	}
	delete(sess.clients, client)
	last := len(sess.clients) == 0
	if last {
		delete(h.users, userID)
	}
	h.usersMu.Unlock()
	logCtx.Info("Client unregistered from Hub")

	if last {
		h.sessions.Add(1)
		go func() {
			defer h.sessions.Done()
			h.endSession(sess, userID)
		}()
	}
}

// endSession 先取消会话让 startSession 尽快返回，等它结束后再关闭监听、清除在线记录
func (h *Hub) endSession(sess *userSession, userID string) {
	sess.cancel()
	<-sess.ready
	if sess.inbox != nil {
		_ = sess.inbox.Close()
	}

	// 用户已经重新连上时保留新会话写入的在线记录
	h.usersMu.RLock()
	_, back := h.users[userID]
	h.usersMu.RUnlock()
	if back {
		return
	}
	// 显式清除；即使失败，TTL 也会让记录过期
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := h.presence.Clear(ctx, userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to clear presence, leaving it to expire")
	}
	logrus.WithField("user_id", userID).Info("User went offline")
}

func (h *Hub) closeAllSessions() {
	h.usersMu.Lock()
	users := h.users
	h.users = make(map[string]*userSession)
	h.usersMu.Unlock()

	for userID, sess := range users {
		for client := range sess.clients {
			client.close()
		}
		h.endSession(sess, userID)
	}
	h.sessions.Wait()
}

// handleCommand 处理客户端发来的观察指令
func (h *Hub) handleCommand(client *Client, raw []byte) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": client.UserID(), "operation": "handleCommand"})

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		logCtx.WithError(err).Debug("Malformed client command")
		client.push(Push{Type: PushError, Message: "malformed command"})
		return
	}

	switch cmd.Type {
	case CmdPing:
		client.push(Push{Type: PushPong})
	case CmdWatchLobby:
		code := service.NormalizeCode(cmd.Code)
		if code == "" {
			client.push(Push{Type: PushError, Message: "code is required"})
			return
		}
		client.watch(watchKey(PushLobby, code), func(ctx context.Context) (repository.Subscription, error) {
			return h.lobbies.WatchLobby(ctx, code, func(l *domain.Lobby) {
				push := Push{Type: PushLobby, Code: code}
				if l != nil {
					push.Payload = l
				}
				client.push(push)
			})
		})
	case CmdUnwatchLobby:
		client.unwatch(watchKey(PushLobby, service.NormalizeCode(cmd.Code)))
	case CmdWatchMatch:
		if cmd.MatchID == "" {
			client.push(Push{Type: PushError, Message: "matchId is required"})
			return
		}
		matchID := cmd.MatchID
		client.watch(watchKey(PushMatch, matchID), func(ctx context.Context) (repository.Subscription, error) {
			return h.matches.WatchMatch(ctx, matchID, func(m *domain.Match) {
				push := Push{Type: PushMatch, MatchID: matchID}
				if m != nil {
					push.Payload = m
				}
				client.push(push)
			})
		})
	case CmdUnwatchMatch:
		client.unwatch(watchKey(PushMatch, cmd.MatchID))
	default:
		logCtx.Debugf("Unknown command type: %s", cmd.Type)
		client.push(Push{Type: PushError, Message: "unknown command " + cmd.Type})
	}
}

// feedPresence 把在线列表的变化推送给所有连接
func (h *Hub) feedPresence() {
	log := logrus.WithField("component", "hub")
	for {
		updates, err := h.presence.List(h.ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to subscribe to presence, retrying")
		} else {
			for list := range updates {
				h.broadcast(Push{Type: PushPresence, Payload: list})
			}
		}
		select {
		case <-h.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (h *Hub) pushToUser(userID string, p Push) {
	h.usersMu.RLock()
	var targets []*Client
	if sess, ok := h.users[userID]; ok {
		for c := range sess.clients {
			targets = append(targets, c)
		}
	}
	h.usersMu.RUnlock()
	for _, c := range targets {
		c.push(p)
	}
}

// broadcast 推送给所有连接
func (h *Hub) broadcast(p Push) {
	h.usersMu.RLock()
	var targets []*Client
	for _, sess := range h.users {
		for c := range sess.clients {
			targets = append(targets, c)
		}
	}
	h.usersMu.RUnlock()
	for _, c := range targets {
		c.push(p)
	}
}

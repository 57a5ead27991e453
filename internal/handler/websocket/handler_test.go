package websocket_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzle-duel/internal/domain"
	wsHandler "puzzle-duel/internal/handler/websocket"
	"puzzle-duel/internal/hub"
	redisstate "puzzle-duel/internal/infra/state/redis"
	"puzzle-duel/internal/middleware"
	"puzzle-duel/internal/service"
)

type wsEnv struct {
	server     *httptest.Server
	lobbies    *service.LobbyService
	challenges *service.ChallengeService
	presence   *service.PresenceService
}

type pushMessage struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message"`
}

func setupWS(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstate.NewRedisStateRepository(client, "test:")

	env := &wsEnv{
		lobbies:  service.NewLobbyService(store),
		presence: service.NewPresenceService(store, 0),
	}
	env.challenges = service.NewChallengeService(store, env.lobbies)
	matches := service.NewMatchService(store, nil)

	h := hub.NewHub(env.presence, env.challenges, env.lobbies, matches)
	go h.Run()

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		// 测试中用查询参数代替 JWT
		c.Set(middleware.ContextUserID, c.Query("user"))
		c.Set(middleware.ContextDisplayName, "name-"+c.Query("user"))
		c.Next()
	}, wsHandler.NewWebSocketHandler(h, "*").HandleConnection)
	env.server = httptest.NewServer(router)

	t.Cleanup(func() {
		env.server.Close()
		h.Stop()
		_ = client.Close()
	})
	return env
}

func (env *wsEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// readUntil 读取推送直到 match 返回 true
func readUntil(t *testing.T, conn *websocket.Conn, match func(pushMessage) bool) pushMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "no matching push before deadline")
		var p pushMessage
		require.NoError(t, json.Unmarshal(data, &p))
		if match(p) {
			return p
		}
	}
}

func TestWebSocket_PresenceAndChallenges(t *testing.T) {
	env := setupWS(t)
	ctx := context.Background()

	conn := env.dial(t, "u1")

	readUntil(t, conn, func(p pushMessage) bool {
		if p.Type != hub.PushPresence {
			return false
		}
		var list []domain.Presence
		return json.Unmarshal(p.Payload, &list) == nil && len(list) == 1 && list[0].UserID == "u1"
	})

	require.NoError(t, conn.WriteJSON(hub.Command{Type: hub.CmdPing}))
	readUntil(t, conn, func(p pushMessage) bool { return p.Type == hub.PushPong })

	require.NoError(t, env.challenges.Send(ctx, "u2", "bob", "u1"))
	got := readUntil(t, conn, func(p pushMessage) bool { return p.Type == hub.PushChallenge })
	var challenge domain.Challenge
	require.NoError(t, json.Unmarshal(got.Payload, &challenge))
	assert.Equal(t, "u2", challenge.From)
	assert.Equal(t, domain.ChallengePending, challenge.Status)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		list, err := env.presence.Snapshot(ctx)
		return err == nil && len(list) == 0
	}, 3*time.Second, 20*time.Millisecond, "presence cleared after the last connection closes")
}

func TestWebSocket_WatchLobby(t *testing.T) {
	env := setupWS(t)
	ctx := context.Background()

	code, err := env.lobbies.CreateRoom(ctx, "host", "alice")
	require.NoError(t, err)

	conn := env.dial(t, "u1")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(hub.Command{Type: hub.CmdWatchLobby, Code: code}))
	readUntil(t, conn, func(p pushMessage) bool { return p.Type == hub.PushLobby && p.Code == code })

	_, err = env.lobbies.JoinRoom(ctx, code, "u1", "bob")
	require.NoError(t, err)
	readUntil(t, conn, func(p pushMessage) bool {
		if p.Type != hub.PushLobby {
			return false
		}
		var lobby domain.Lobby
		return json.Unmarshal(p.Payload, &lobby) == nil && lobby.Status == domain.LobbyFull
	})

	require.NoError(t, conn.WriteJSON(hub.Command{Type: "bogus"}))
	readUntil(t, conn, func(p pushMessage) bool { return p.Type == hub.PushError })
}

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzle-duel/internal/domain"
	redisstate "puzzle-duel/internal/infra/state/redis"
	"puzzle-duel/internal/repository"
	"puzzle-duel/internal/service"
)

// gatedInboxStore 在 gate 关闭前阻塞对指定收件箱的整条读取，模拟慢速存储
type gatedInboxStore struct {
	repository.StateStore
	path string
	gate chan struct{}
}

func (s *gatedInboxStore) GetFields(ctx context.Context, path string) (map[string]string, error) {
	if path == s.path {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.StateStore.GetFields(ctx, path)
}

func newTestHub(t *testing.T, wrap func(repository.StateStore) repository.StateStore) (*Hub, *service.PresenceService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var store repository.StateStore = redisstate.NewRedisStateRepository(client, "test:")
	if wrap != nil {
		store = wrap(store)
	}
	lobbies := service.NewLobbyService(store)
	presence := service.NewPresenceService(store, 0)
	h := NewHub(presence, service.NewChallengeService(store, lobbies), lobbies, service.NewMatchService(store, nil))
	return h, presence
}

func isOnline(t *testing.T, presence *service.PresenceService, userID string) bool {
	t.Helper()
	list, err := presence.Snapshot(context.Background())
	if err != nil {
		return false
	}
	for _, p := range list {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func TestHub_SlowSessionSetupDoesNotBlockOtherUsers(t *testing.T) {
	gate := make(chan struct{})
	h, presence := newTestHub(t, func(s repository.StateStore) repository.StateStore {
		return &gatedInboxStore{StateStore: s, path: domain.InboxPath("slow"), gate: gate}
	})
	go h.Run()
	t.Cleanup(h.Stop)

	slow := NewClient(h, nil, "slow", "Slow")
	fast := NewClient(h, nil, "fast", "Fast")
	require.True(t, h.QueueMessage(HubMessage{Type: "register", Client: slow}))
	require.True(t, h.QueueMessage(HubMessage{Type: "register", Client: fast}))

	// slow 的收件箱读取仍被挡住时，fast 的注册和注销照常处理
	assert.Eventually(t, func() bool { return isOnline(t, presence, "fast") }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.OnlineUsers())

	require.True(t, h.QueueMessage(HubMessage{Type: "unregister", Client: fast}))
	assert.Eventually(t, func() bool { return h.OnlineUsers() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !isOnline(t, presence, "fast") }, 2*time.Second, 10*time.Millisecond)

	close(gate)
	require.True(t, h.QueueMessage(HubMessage{Type: "unregister", Client: slow}))
	assert.Eventually(t, func() bool {
		return h.OnlineUsers() == 0 && !isOnline(t, presence, "slow")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_UnregisterIsNotDroppedWhenQueueIsBusy(t *testing.T) {
	h, presence := newTestHub(t, nil)

	c := NewClient(h, nil, "u1", "Alice")
	h.messageChan <- HubMessage{Type: "register", Client: c}
	for len(h.messageChan) < cap(h.messageChan) {
		h.messageChan <- HubMessage{Type: "noop"}
	}

	unregistered := make(chan struct{})
	go func() {
		c.requestUnregister()
		close(unregistered)
	}()

	// 队列长时间占满后 Hub 才开始处理
	time.Sleep(1200 * time.Millisecond)
	go h.Run()
	t.Cleanup(h.Stop)

	select {
	case <-unregistered:
	case <-time.After(3 * time.Second):
		t.Fatal("unregister request never reached the hub")
	}
	assert.Eventually(t, func() bool {
		return h.OnlineUsers() == 0 && !isOnline(t, presence, "u1")
	}, 3*time.Second, 10*time.Millisecond)
}

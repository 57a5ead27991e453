package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	redisstate "puzzle-duel/internal/infra/state/redis"
)

// newTestStore 启动一个内存 Redis 并返回真实的 StateStore 实现
func newTestStore(t *testing.T) (*redisstate.RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisStateRepository(client, "test:"), mr
}

// recordingArchiver 记录被安排归档的对局
type recordingArchiver struct {
	mu      sync.Mutex
	matches []string
	err     error
}

func (a *recordingArchiver) EnqueueMatchArchive(_ context.Context, matchID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.matches = append(a.matches, matchID)
	return a.err
}

func (a *recordingArchiver) enqueued() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.matches...)
}

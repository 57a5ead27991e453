package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"
	"puzzle-duel/internal/service"
)

func newChallengeService(t *testing.T) (*service.ChallengeService, *service.LobbyService, repository.StateStore) {
	t.Helper()
	store, _ := newTestStore(t)
	lobbies := service.NewLobbyService(store)
	return service.NewChallengeService(store, lobbies), lobbies, store
}

func readInboxEntry(t *testing.T, store repository.StateStore, owner, from string) (domain.Challenge, bool) {
	t.Helper()
	raw, err := store.GetField(context.Background(), domain.InboxPath(owner), from)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Challenge{}, false
	}
	require.NoError(t, err)
	var c domain.Challenge
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c, true
}

// A 向 B 发起挑战，B 的监听恰好触发一次，之后收件箱中不再有该条目
func TestChallengeService_SendAndListen(t *testing.T) {
	challenges, _, store := newChallengeService(t)
	ctx := context.Background()

	received := make(chan domain.Challenge, 4)
	sub, err := challenges.Listen(ctx, "B", func(_ context.Context, c domain.Challenge) error {
		received <- c
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, challenges.Send(ctx, "A", "Alice", "B"))

	select {
	case c := <-received:
		assert.Equal(t, domain.ChallengeType, c.Type)
		assert.Equal(t, "A", c.From)
		assert.Equal(t, "Alice", c.FromName)
		assert.Equal(t, "B", c.To)
		assert.Equal(t, domain.ChallengePending, c.Status)
		assert.NotZero(t, c.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("challenge was not delivered")
	}

	assert.Eventually(t, func() bool {
		_, present := readInboxEntry(t, store, "B", "A")
		return !present
	}, 2*time.Second, 10*time.Millisecond, "delivered entry should be consumed")

	select {
	case c := <-received:
		t.Fatalf("challenge delivered twice: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChallengeService_Listen_ReplaysExistingEntries(t *testing.T) {
	challenges, _, store := newChallengeService(t)
	ctx := context.Background()

	require.NoError(t, challenges.Send(ctx, "A", "Alice", "C"))
	require.NoError(t, challenges.Send(ctx, "B", "Bob", "C"))

	received := make(chan string, 4)
	sub, err := challenges.Listen(ctx, "C", func(_ context.Context, c domain.Challenge) error {
		received <- c.From
		return errors.New("handler failed") // 失败同样消费
	})
	require.NoError(t, err)
	defer sub.Close()

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case from := <-received:
			got[from] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %v replayed", got)
		}
	}
	assert.Eventually(t, func() bool {
		_, err := store.GetFields(ctx, domain.InboxPath("C"))
		return errors.Is(err, repository.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond, "inbox should be empty after replay")
}

func TestChallengeService_SendOverwrites(t *testing.T) {
	challenges, _, store := newChallengeService(t)
	ctx := context.Background()

	require.NoError(t, challenges.Send(ctx, "A", "Alice", "B"))
	require.NoError(t, challenges.Send(ctx, "A", "Alice the Second", "B"))

	c, ok := readInboxEntry(t, store, "B", "A")
	require.True(t, ok)
	assert.Equal(t, "Alice the Second", c.FromName)

	assert.ErrorIs(t, challenges.Send(ctx, "A", "Alice", "A"), service.ErrInvalidInput)
	assert.ErrorIs(t, challenges.Send(ctx, "A", "Alice", ""), service.ErrInvalidInput)
}

func TestChallengeService_Accept(t *testing.T) {
	challenges, lobbies, store := newChallengeService(t)
	ctx := context.Background()

	require.NoError(t, challenges.Send(ctx, "A", "Alice", "B"))
	code, err := challenges.Accept(ctx, "B", "Bob", "A")
	require.NoError(t, err)

	lobby, err := lobbies.ReadLobby(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "B", lobby.Host)
	assert.True(t, lobby.HasPlayer("B"))

	reply, ok := readInboxEntry(t, store, "A", "B")
	require.True(t, ok)
	assert.Equal(t, domain.ChallengeAccepted, reply.Status)
	assert.Equal(t, code, reply.RoomCode)
	assert.Equal(t, "Bob", reply.FromName)

	mirror, ok := readInboxEntry(t, store, "B", "A")
	require.True(t, ok)
	assert.Equal(t, domain.ChallengeAccepted, mirror.Status)
	assert.Equal(t, code, mirror.RoomCode)

	// 挑战者凭房间码加入
	lobby, err = lobbies.JoinRoom(ctx, reply.RoomCode, "A", "Alice")
	require.NoError(t, err)
	assert.Equal(t, domain.LobbyFull, lobby.Status)
}

func TestChallengeService_Decline(t *testing.T) {
	challenges, _, store := newChallengeService(t)
	ctx := context.Background()

	require.NoError(t, challenges.Send(ctx, "A", "Alice", "B"))
	require.NoError(t, challenges.Decline(ctx, "B", "Bob", "A"))

	_, present := readInboxEntry(t, store, "B", "A")
	assert.False(t, present)

	reply, ok := readInboxEntry(t, store, "A", "B")
	require.True(t, ok)
	assert.Equal(t, domain.ChallengeDeclined, reply.Status)
	assert.Empty(t, reply.RoomCode)

	// 没有对应挑战时拒绝也能成功
	assert.NoError(t, challenges.Decline(ctx, "B", "Bob", "Z"))
}

func TestChallengeService_SweepStale(t *testing.T) {
	challenges, _, store := newChallengeService(t)
	ctx := context.Background()

	require.NoError(t, challenges.Send(ctx, "A", "Alice", "B"))
	require.NoError(t, challenges.Send(ctx, "C", "Carol", "D"))
	_, err := challenges.Accept(ctx, "D", "Dave", "C")
	require.NoError(t, err)

	removed, err := challenges.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed, "fresh challenges are kept")

	// 负的时长把截止时间推到未来，所有待处理挑战都算过期
	removed, err = challenges.SweepStale(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, present := readInboxEntry(t, store, "B", "A")
	assert.False(t, present)
	_, present = readInboxEntry(t, store, "C", "D")
	assert.True(t, present, "answered challenges are not swept")
}

package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"
	"puzzle-duel/internal/service"
)

func setupFullLobby(t *testing.T) (*service.LobbyService, *service.MatchService, *service.RematchService, string) {
	t.Helper()
	store, _ := newTestStore(t)
	lobbies := service.NewLobbyService(store)
	matches := service.NewMatchService(store, nil)
	rematch := service.NewRematchService(store, matches)

	ctx := context.Background()
	code, err := lobbies.CreateRoom(ctx, "A", "Alice")
	require.NoError(t, err)
	_, err = lobbies.JoinRoom(ctx, code, "B", "Bob")
	require.NoError(t, err)
	return lobbies, matches, rematch, code
}

// 双方都同意再来一局，新对局从空棋盘和零分开始
func TestRematchService_BothVoteThenFreshMatch(t *testing.T) {
	_, matches, rematch, code := setupFullLobby(t)
	ctx := context.Background()

	old, err := matches.CreateMatch(ctx, "m1", code, []string{"A", "B"})
	require.NoError(t, err)
	_, err = matches.MakeMove(ctx, old.ID, "A", 0, 0, 1)
	require.NoError(t, err)
	require.NoError(t, matches.UpdateScore(ctx, old.ID, "A", 3))
	require.NoError(t, matches.FinishMatch(ctx, old.ID))

	require.NoError(t, rematch.VoteRematch(ctx, code, "A", true))
	require.NoError(t, rematch.VoteRematch(ctx, code, "B", true))

	votes, err := rematch.ReadVotes(ctx, code)
	require.NoError(t, err)
	assert.True(t, votes["A"].Vote)
	assert.True(t, votes["B"].Vote)

	fresh, err := matches.CreateMatch(ctx, "m2", code, []string{"A", "B"})
	require.NoError(t, err)
	assert.Empty(t, fresh.Cells)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, fresh.Scores)
	assert.Equal(t, domain.MatchActive, fresh.Status)
}

func TestRematchService_VoteOverwrite(t *testing.T) {
	_, _, rematch, code := setupFullLobby(t)
	ctx := context.Background()

	require.NoError(t, rematch.VoteRematch(ctx, code, "A", true))
	require.NoError(t, rematch.VoteRematch(ctx, code, "A", false))

	votes, err := rematch.ReadVotes(ctx, code)
	require.NoError(t, err)
	assert.False(t, votes["A"].Vote)
	assert.NotContains(t, votes, "B")
}

func TestRematchService_VoteRejections(t *testing.T) {
	_, _, rematch, code := setupFullLobby(t)
	ctx := context.Background()

	assert.ErrorIs(t, rematch.VoteRematch(ctx, code, "C", true), service.ErrNotParticipant)
	assert.ErrorIs(t, rematch.VoteRematch(ctx, "NOPE22", "A", true), service.ErrLobbyNotFound)

	_, err := rematch.ReadVotes(ctx, "NOPE22")
	assert.ErrorIs(t, err, service.ErrLobbyNotFound)
}

func TestConsensusReached(t *testing.T) {
	yes := domain.RematchVote{Vote: true}
	no := domain.RematchVote{Vote: false}
	two := map[string]domain.LobbyPlayer{"A": {}, "B": {}}

	tests := []struct {
		name  string
		lobby *domain.Lobby
		want  bool
	}{
		{"nil lobby", nil, false},
		{"both yes", &domain.Lobby{Players: two, RematchVotes: map[string]domain.RematchVote{"A": yes, "B": yes}}, true},
		{"one yes", &domain.Lobby{Players: two, RematchVotes: map[string]domain.RematchVote{"A": yes}}, false},
		{"one no", &domain.Lobby{Players: two, RematchVotes: map[string]domain.RematchVote{"A": yes, "B": no}}, false},
		{"single occupant", &domain.Lobby{
			Players:      map[string]domain.LobbyPlayer{"A": {}},
			RematchVotes: map[string]domain.RematchVote{"A": yes},
		}, false},
		{"stale vote from departed player", &domain.Lobby{
			Players:      two,
			RematchVotes: map[string]domain.RematchVote{"A": yes, "C": yes},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.ConsensusReached(tt.lobby))
		})
	}
}

func TestRematchService_StartRematch(t *testing.T) {
	lobbies, matches, rematch, code := setupFullLobby(t)
	ctx := context.Background()

	// 未达成一致
	require.NoError(t, rematch.VoteRematch(ctx, code, "A", true))
	m, started, err := rematch.StartRematch(ctx, code)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Nil(t, m)

	require.NoError(t, rematch.VoteRematch(ctx, code, "B", true))
	m, started, err = rematch.StartRematch(ctx, code)
	require.NoError(t, err)
	require.True(t, started)
	assert.Equal(t, code, m.LobbyCode)
	assert.Equal(t, []string{"A", "B"}, m.Players)

	stored, err := matches.ReadMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchActive, stored.Status)

	// 投票已清空，重复触发不会再开局
	lobby, err := lobbies.ReadLobby(ctx, code)
	require.NoError(t, err)
	assert.Empty(t, lobby.RematchVotes)
	_, started, err = rematch.StartRematch(ctx, code)
	require.NoError(t, err)
	assert.False(t, started)

	_, _, err = rematch.StartRematch(ctx, "NOPE22")
	assert.ErrorIs(t, err, service.ErrLobbyNotFound)
}

// leaveBeforeWriteStore 在第一次对 path 的条件写入之前执行 beforeTx，模拟玩家恰好在投票时离开
type leaveBeforeWriteStore struct {
	repository.StateStore
	path     string
	once     sync.Once
	beforeTx func()
}

func (s *leaveBeforeWriteStore) Transact(ctx context.Context, path string, fn repository.TxFunc) (bool, error) {
	if path == s.path {
		s.once.Do(s.beforeTx)
	}
	return s.StateStore.Transact(ctx, path, fn)
}

func TestRematchService_VoteFromPlayerWhoJustLeftIsNotRecorded(t *testing.T) {
	store, _ := newTestStore(t)
	lobbies := service.NewLobbyService(store)
	ctx := context.Background()
	code, err := lobbies.CreateRoom(ctx, "A", "Alice")
	require.NoError(t, err)
	_, err = lobbies.JoinRoom(ctx, code, "B", "Bob")
	require.NoError(t, err)

	racing := &leaveBeforeWriteStore{
		StateStore: store,
		path:       domain.LobbyPath(code),
		beforeTx:   func() { require.NoError(t, lobbies.RemovePlayer(ctx, code, "B")) },
	}
	rematch := service.NewRematchService(racing, service.NewMatchService(store, nil))

	err = rematch.VoteRematch(ctx, code, "B", true)
	assert.ErrorIs(t, err, service.ErrNotParticipant)

	votes, err := rematch.ReadVotes(ctx, code)
	require.NoError(t, err)
	assert.NotContains(t, votes, "B")

	// 重新加入后没有旧的赞成票，不会直接达成一致
	require.NoError(t, rematch.VoteRematch(ctx, code, "A", true))
	lobby, err := lobbies.JoinRoom(ctx, code, "B", "Bob")
	require.NoError(t, err)
	assert.False(t, service.ConsensusReached(lobby))
}

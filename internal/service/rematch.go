package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"

	"github.com/sirupsen/logrus"
)

// RematchService 收集房间内玩家的再来一局投票，并在双方都同意后开新局。
// 没有中心触发者：观察到一致同意的客户端负责发起新局。
type RematchService struct {
	store   repository.StateStore
	matches *MatchService
	now     func() time.Time
}

// NewRematchService 创建 RematchService 实例
func NewRematchService(store repository.StateStore, matches *MatchService) *RematchService {
	if store == nil || matches == nil {
		panic("StateStore and MatchService must be non-nil for RematchService")
	}
	return &RematchService{store: store, matches: matches, now: time.Now}
}

// VoteRematch 写入调用者自己的投票，后一次投票覆盖前一次。
func (s *RematchService) VoteRematch(ctx context.Context, code, userID string, vote bool) error {
	code = NormalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"lobby_code": code, "user_id": userID, "vote": vote})

	raw, err := domain.EncodeJSON(domain.RematchVote{Vote: vote, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	// 是否在房间内和写入投票在同一个条件写入里判断，离开房间的玩家不会留下投票
	_, err = s.store.Transact(ctx, domain.LobbyPath(code), func(current map[string]string) (*repository.Mutation, error) {
		if len(current) == 0 {
			return nil, ErrLobbyNotFound
		}
		if _, ok := current[domain.LobbyPlayerPrefix+userID]; !ok {
			return nil, ErrNotParticipant
		}
		return &repository.Mutation{Set: map[string]string{domain.LobbyVotePrefix + userID: raw}}, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to record rematch vote")
		return err
	}
	logCtx.Info("Rematch vote recorded")
	return nil
}

// ReadVotes 读取当前投票快照
func (s *RematchService) ReadVotes(ctx context.Context, code string) (map[string]domain.RematchVote, error) {
	code = NormalizeCode(code)
	fields, err := s.store.GetFields(ctx, domain.LobbyPath(code))
	if err != nil {
		return nil, mapRepoError(err, ErrLobbyNotFound)
	}
	lobby, err := domain.LobbyFromFields(code, fields)
	if err != nil {
		return nil, err
	}
	return lobby.RematchVotes, nil
}

// ConsensusReached 当房间内恰好两名玩家且都投了赞成票时返回 true
func ConsensusReached(lobby *domain.Lobby) bool {
	if lobby == nil || lobby.PlayerCount() != domain.MaxLobbyPlayers {
		return false
	}
	for id := range lobby.Players {
		if v, ok := lobby.RematchVotes[id]; !ok || !v.Vote {
			return false
		}
	}
	return true
}

// StartRematch 在达成一致时用新的对局 ID 开新局，并清空投票。
// 清空投票是对房间记录的条件写入，只有仍处于一致状态时才提交，
// 所以同时观察到一致的两个客户端通常只有一个会开局；即便出现两局，
// 新 ID 也保证互不冲突。未达成一致时返回 started=false。
func (s *RematchService) StartRematch(ctx context.Context, code string) (*domain.Match, bool, error) {
	code = NormalizeCode(code)
	logCtx := logrus.WithField("lobby_code", code)

	var players []string
	applied, err := s.store.Transact(ctx, domain.LobbyPath(code), func(current map[string]string) (*repository.Mutation, error) {
		if len(current) == 0 {
			return nil, ErrLobbyNotFound
		}
		lobby, err := domain.LobbyFromFields(code, current)
		if err != nil {
			return nil, err
		}
		if !ConsensusReached(lobby) {
			return nil, nil
		}
		players = lobby.PlayerIDs()
		var votes []string
		for field := range current {
			if strings.HasPrefix(field, domain.LobbyVotePrefix) {
				votes = append(votes, field)
			}
		}
		return &repository.Mutation{Delete: votes}, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to start rematch")
		return nil, false, err
	}
	if !applied {
		logCtx.Debug("No rematch consensus")
		return nil, false, nil
	}

	match, err := s.matches.CreateMatch(ctx, NewMatchID(code, s.now()), code, players)
	if err != nil {
		logCtx.WithError(err).Error("Consensus consumed but match creation failed")
		return nil, false, err
	}
	logCtx.WithField("match_id", match.ID).Info("Rematch started")
	return match, true, nil
}

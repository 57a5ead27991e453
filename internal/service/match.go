package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"

	"github.com/sirupsen/logrus"
)

// ArchiveScheduler 在对局结束后安排归档任务
type ArchiveScheduler interface {
	EnqueueMatchArchive(ctx context.Context, matchID string) error
}

// MatchService 负责对局的创建、落子仲裁、计分和结束。
// 格子是唯一的多写者字段，必须通过条件写入；分数只由其所属玩家写入。
type MatchService struct {
	store    repository.StateStore
	archiver ArchiveScheduler // 可为 nil
	now      func() time.Time
}

// NewMatchService 创建 MatchService 实例。archiver 为 nil 时不归档。
func NewMatchService(store repository.StateStore, archiver ArchiveScheduler) *MatchService {
	if store == nil {
		panic("StateStore cannot be nil for MatchService")
	}
	return &MatchService{store: store, archiver: archiver, now: time.Now}
}

// NewMatchID 由房间码和时间戳派生对局 ID
func NewMatchID(lobbyCode string, now time.Time) string {
	if lobbyCode == "" {
		lobbyCode = "solo"
	}
	return fmt.Sprintf("%s-%d", lobbyCode, now.UnixNano())
}

// CreateMatch 初始化空棋盘和零分，状态为 active。
// matchID 的唯一性由调用方保证；已存在时返回 ErrMatchExists。
func (s *MatchService) CreateMatch(ctx context.Context, matchID, lobbyCode string, playerIDs []string) (*domain.Match, error) {
	if matchID == "" || len(playerIDs) == 0 || len(playerIDs) > domain.MaxLobbyPlayers {
		return nil, ErrInvalidInput
	}
	seen := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		if id == "" || seen[id] {
			return nil, ErrInvalidInput
		}
		seen[id] = true
	}
	logCtx := logrus.WithFields(logrus.Fields{"match_id": matchID, "lobby_code": lobbyCode})

	players, err := domain.EncodeJSON(playerIDs)
	if err != nil {
		return nil, fmt.Errorf("encode players: %w", err)
	}
	now := s.now().UnixMilli()
	set := map[string]string{
		domain.MatchFieldLobbyCode: lobbyCode,
		domain.MatchFieldPlayers:   players,
		domain.MatchFieldStatus:    string(domain.MatchActive),
		domain.MatchFieldCreatedAt: strconv.FormatInt(now, 10),
	}
	for _, id := range playerIDs {
		set[domain.ScoreField(id)] = "0"
	}

	_, err = s.store.Transact(ctx, domain.MatchPath(matchID), func(current map[string]string) (*repository.Mutation, error) {
		if len(current) > 0 {
			return nil, ErrMatchExists
		}
		return &repository.Mutation{Set: set}, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to create match")
		return nil, err
	}
	logCtx.WithField("players", playerIDs).Info("Match created")
	return domain.MatchFromFields(matchID, set)
}

// CreateSoloMatch 是单人对局的变体，契约与 CreateMatch 相同
func (s *MatchService) CreateSoloMatch(ctx context.Context, matchID, userID string) (*domain.Match, error) {
	return s.CreateMatch(ctx, matchID, "", []string{userID})
}

// MakeMove 仲裁一次落子：只有格子为空时写入才会生效。
// 两个客户端基于过期的本地视图同时写同一格时，只有一个会成功；
// 失败方得到 applied=false，而不是错误。
func (s *MatchService) MakeMove(ctx context.Context, matchID, userID string, row, col, value int) (bool, error) {
	if !domain.InBounds(row, col) || value < domain.MinCellValue || value > domain.MaxCellValue {
		return false, ErrInvalidMove
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"match_id": matchID,
		"user_id":  userID,
		"cell":     domain.CellKey(row, col),
	})

	field := domain.CellField(row, col)
	cell, err := domain.EncodeJSON(domain.Cell{Value: value, FilledBy: userID, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return false, fmt.Errorf("encode cell: %w", err)
	}

	applied, err := s.store.Transact(ctx, domain.MatchPath(matchID), func(current map[string]string) (*repository.Mutation, error) {
		if len(current) == 0 {
			return nil, ErrMatchNotFound
		}
		if domain.MatchStatus(current[domain.MatchFieldStatus]) == domain.MatchFinished {
			return nil, ErrMatchFinished
		}
		players, err := domain.PlayersFromField(current[domain.MatchFieldPlayers])
		if err != nil {
			return nil, err
		}
		if !contains(players, userID) {
			return nil, ErrNotParticipant
		}
		if _, filled := current[field]; filled {
			return nil, nil
		}
		return &repository.Mutation{Set: map[string]string{field: cell}}, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Move rejected")
		return false, err
	}
	if !applied {
		logCtx.Debug("Cell already filled, move not applied")
		return false, nil
	}
	logCtx.WithField("value", value).Debug("Move applied")
	return true, nil
}

// ReadCell 一次性读取格子，空格返回 nil
func (s *MatchService) ReadCell(ctx context.Context, matchID string, row, col int) (*domain.Cell, error) {
	if !domain.InBounds(row, col) {
		return nil, ErrInvalidMove
	}
	raw, err := s.store.GetField(ctx, domain.MatchPath(matchID), domain.CellField(row, col))
	if errors.Is(err, repository.ErrNotFound) {
		exists, existsErr := s.store.Exists(ctx, domain.MatchPath(matchID))
		if existsErr != nil {
			return nil, existsErr
		}
		if !exists {
			return nil, ErrMatchNotFound
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cell domain.Cell
	if err := json.Unmarshal([]byte(raw), &cell); err != nil {
		return nil, fmt.Errorf("match %s: invalid cell %s: %w", matchID, domain.CellKey(row, col), err)
	}
	return &cell, nil
}

// ReadMatch 一次性读取整局快照
func (s *MatchService) ReadMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	fields, err := s.store.GetFields(ctx, domain.MatchPath(matchID))
	if err != nil {
		return nil, mapRepoError(err, ErrMatchNotFound)
	}
	return domain.MatchFromFields(matchID, fields)
}

// UpdateScore 写入玩家自己的分数。只有本人会写这个字段，因此不需要条件写入。
func (s *MatchService) UpdateScore(ctx context.Context, matchID, userID string, score int) error {
	raw, err := s.store.GetField(ctx, domain.MatchPath(matchID), domain.MatchFieldPlayers)
	if err != nil {
		return mapRepoError(err, ErrMatchNotFound)
	}
	players, err := domain.PlayersFromField(raw)
	if err != nil {
		return err
	}
	if !contains(players, userID) {
		return ErrNotParticipant
	}
	err = s.store.SetFieldIfExists(ctx, domain.MatchPath(matchID), domain.ScoreField(userID), strconv.Itoa(score))
	if err != nil {
		return mapRepoError(err, ErrMatchNotFound)
	}
	logrus.WithFields(logrus.Fields{"match_id": matchID, "user_id": userID, "score": score}).Debug("Score updated")
	return nil
}

// FinishMatch 将对局标记为结束。任何观察到棋盘填满的客户端都会调用，
// 重复调用是预期情况，已结束时直接返回成功。数据保留不删除。
func (s *MatchService) FinishMatch(ctx context.Context, matchID string) error {
	logCtx := logrus.WithField("match_id", matchID)
	finishedAt := strconv.FormatInt(s.now().UnixMilli(), 10)

	applied, err := s.store.Transact(ctx, domain.MatchPath(matchID), func(current map[string]string) (*repository.Mutation, error) {
		if len(current) == 0 {
			return nil, ErrMatchNotFound
		}
		if domain.MatchStatus(current[domain.MatchFieldStatus]) == domain.MatchFinished {
			return nil, nil
		}
		return &repository.Mutation{Set: map[string]string{
			domain.MatchFieldStatus:     string(domain.MatchFinished),
			domain.MatchFieldFinishedAt: finishedAt,
		}}, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to finish match")
		return err
	}
	if !applied {
		logCtx.Debug("Match already finished")
		return nil
	}
	logCtx.Info("Match finished")

	if s.archiver != nil {
		// 归档失败不影响对局结束本身
		if err := s.archiver.EnqueueMatchArchive(ctx, matchID); err != nil {
			logCtx.WithError(err).Error("Failed to enqueue match archive task")
		}
	}
	return nil
}

// WatchMatch 订阅对局变化，语义同 WatchLobby
func (s *MatchService) WatchMatch(ctx context.Context, matchID string, handler func(*domain.Match)) (repository.Subscription, error) {
	var mu sync.Mutex
	emit := func(ctx context.Context) {
		match, err := s.ReadMatch(ctx, matchID)
		if err != nil && !errors.Is(err, ErrMatchNotFound) {
			logrus.WithError(err).WithField("match_id", matchID).Warn("WatchMatch: failed to read match")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		handler(match)
	}
	sub, err := s.store.Subscribe(ctx, domain.MatchPath(matchID), func(ctx context.Context, _ repository.Event) {
		emit(ctx)
	})
	if err != nil {
		return nil, err
	}
	emit(ctx)
	return sub, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

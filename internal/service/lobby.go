package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	// 去掉了容易混淆的 0/O、1/I/L
	inviteCodeLetters  = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	inviteCodeLength   = 6
	inviteCodeAttempts = 10
)

var errInviteCodeTaken = errors.New("invite code already in use")

// LobbyService 负责赛前房间的创建、加入、离开和查询。
// 席位数上限通过条件写入保证，不依赖外部鉴权层。
type LobbyService struct {
	store repository.StateStore
	now   func() time.Time
}

// NewLobbyService 创建 LobbyService 实例。
func NewLobbyService(store repository.StateStore) *LobbyService {
	if store == nil {
		panic("StateStore cannot be nil for LobbyService")
	}
	return &LobbyService{store: store, now: time.Now}
}

// NormalizeCode 统一房间码格式，方便用户手动输入
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom 创建一个只有房主一个席位的新房间，返回房间码。
func (s *LobbyService) CreateRoom(ctx context.Context, hostID, hostName string) (string, error) {
	if hostID == "" {
		return "", ErrInvalidInput
	}
	logCtx := logrus.WithField("host_id", hostID)

	now := s.now().UnixMilli()
	slot, err := domain.EncodeJSON(domain.LobbyPlayer{DisplayName: hostName, JoinedAt: now})
	if err != nil {
		return "", fmt.Errorf("encode host slot: %w", err)
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate invite code")
			return "", ErrInternalServer
		}
		_, err = s.store.Transact(ctx, domain.LobbyPath(code), func(current map[string]string) (*repository.Mutation, error) {
			if len(current) > 0 {
				return nil, errInviteCodeTaken
			}
			return &repository.Mutation{Set: map[string]string{
				domain.LobbyFieldHost:             hostID,
				domain.LobbyFieldStatus:           string(domain.LobbyWaiting),
				domain.LobbyFieldCreatedAt:        fmt.Sprint(now),
				domain.LobbyPlayerPrefix + hostID: slot,
			}}, nil
		})
		if errors.Is(err, errInviteCodeTaken) {
			logCtx.WithField("lobby_code", code).Warnf("Generated invite code already exists, retrying (attempt %d)...", attempt+1)
			continue
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to create lobby")
			return "", err
		}
		logCtx.WithField("lobby_code", code).Info("Lobby created successfully")
		return code, nil
	}
	logCtx.Errorf("Failed to generate a unique invite code after %d attempts", inviteCodeAttempts)
	return "", fmt.Errorf("failed to generate a unique invite code after %d attempts: %w", inviteCodeAttempts, ErrInternalServer)
}

// JoinRoom 占用房间的一个空席位。已在房间内的玩家重复加入视为成功。
func (s *LobbyService) JoinRoom(ctx context.Context, code, userID, name string) (*domain.Lobby, error) {
	code = NormalizeCode(code)
	if code == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	logCtx := logrus.WithFields(logrus.Fields{"lobby_code": code, "user_id": userID})

	slot, err := domain.EncodeJSON(domain.LobbyPlayer{DisplayName: name, JoinedAt: s.now().UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("encode player slot: %w", err)
	}
	field := domain.LobbyPlayerPrefix + userID

	var after map[string]string
	_, err = s.store.Transact(ctx, domain.LobbyPath(code), func(current map[string]string) (*repository.Mutation, error) {
		if len(current) == 0 {
			return nil, ErrLobbyNotFound
		}
		after = current
		if _, already := current[field]; already {
			return nil, nil
		}
		count := domain.CountPlayerFields(current)
		if count >= domain.MaxLobbyPlayers {
			return nil, ErrLobbyFull
		}
		set := map[string]string{
			field:                   slot,
			domain.LobbyFieldStatus: string(domain.StatusFor(count + 1)),
		}
		after = mergeFields(current, set)
		return &repository.Mutation{Set: set}, nil
	})
	if err != nil {
		if errors.Is(err, ErrLobbyNotFound) || errors.Is(err, ErrLobbyFull) {
			logCtx.WithError(err).Warn("Join rejected")
		} else {
			logCtx.WithError(err).Error("Failed to join lobby")
		}
		return nil, err
	}
	logCtx.Info("User joined lobby successfully")
	return domain.LobbyFromFields(code, after)
}

// RemovePlayer 释放用户的席位，房间空了就删除房间。
// 用户或房间本就不存在时同样返回成功。
func (s *LobbyService) RemovePlayer(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	if code == "" || userID == "" {
		return ErrInvalidInput
	}
	logCtx := logrus.WithFields(logrus.Fields{"lobby_code": code, "user_id": userID})
	field := domain.LobbyPlayerPrefix + userID

	removedLobby := false
	applied, err := s.store.Transact(ctx, domain.LobbyPath(code), func(current map[string]string) (*repository.Mutation, error) {
		removedLobby = false
		if _, ok := current[field]; !ok {
			return nil, nil
		}
		remaining := domain.CountPlayerFields(current) - 1
		if remaining <= 0 {
			removedLobby = true
			return &repository.Mutation{Remove: true}, nil
		}
		m := &repository.Mutation{
			Set:    map[string]string{domain.LobbyFieldStatus: string(domain.StatusFor(remaining))},
			Delete: []string{field, domain.LobbyVotePrefix + userID},
		}
		// 房主离开时把房主转给留下的玩家
		if current[domain.LobbyFieldHost] == userID {
			if next := otherPlayer(current, userID); next != "" {
				m.Set[domain.LobbyFieldHost] = next
			}
		}
		return m, nil
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to remove player from lobby")
		return err
	}
	switch {
	case !applied:
		logCtx.Debug("Player already absent, nothing to remove")
	case removedLobby:
		logCtx.Info("Last player left, lobby deleted")
	default:
		logCtx.Info("Player removed from lobby")
	}
	return nil
}

// ReadLobby 一次性读取房间快照
func (s *LobbyService) ReadLobby(ctx context.Context, code string) (*domain.Lobby, error) {
	code = NormalizeCode(code)
	fields, err := s.store.GetFields(ctx, domain.LobbyPath(code))
	if err != nil {
		return nil, mapRepoError(err, ErrLobbyNotFound)
	}
	return domain.LobbyFromFields(code, fields)
}

// WatchLobby 订阅房间变化。handler 立即收到一次当前快照，之后每次变化收到最新快照；
// 房间被删除时收到 nil。回调逐个执行。
func (s *LobbyService) WatchLobby(ctx context.Context, code string, handler func(*domain.Lobby)) (repository.Subscription, error) {
	code = NormalizeCode(code)
	var mu sync.Mutex
	emit := func(ctx context.Context) {
		lobby, err := s.ReadLobby(ctx, code)
		if err != nil && !errors.Is(err, ErrLobbyNotFound) {
			logrus.WithError(err).WithField("lobby_code", code).Warn("WatchLobby: failed to read lobby")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		handler(lobby)
	}
	sub, err := s.store.Subscribe(ctx, domain.LobbyPath(code), func(ctx context.Context, _ repository.Event) {
		emit(ctx)
	})
	if err != nil {
		return nil, err
	}
	emit(ctx)
	return sub, nil
}

// --- 私有辅助函数 ---

// generateInviteCode 生成随机房间码
func generateInviteCode() (string, error) {
	b := make([]byte, inviteCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = inviteCodeLetters[int(b[i])%len(inviteCodeLetters)]
	}
	return string(b), nil
}

func otherPlayer(fields map[string]string, userID string) string {
	for field := range fields {
		if strings.HasPrefix(field, domain.LobbyPlayerPrefix) {
			if id := strings.TrimPrefix(field, domain.LobbyPlayerPrefix); id != userID {
				return id
			}
		}
	}
	return ""
}

func mergeFields(current, set map[string]string) map[string]string {
	merged := make(map[string]string, len(current)+len(set))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range set {
		merged[k] = v
	}
	return merged
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPresenceTTL = 60 * time.Second
	defaultResyncEvery = 15 * time.Second
)

// PresenceService 维护用户在线记录。
// 记录带 TTL 写入：连接停止刷新后由存储自动删除，相当于断线时执行的清理意图。
type PresenceService struct {
	store       repository.StateStore
	ttl         time.Duration
	resyncEvery time.Duration
	now         func() time.Time
}

// NewPresenceService 创建 PresenceService。ttl <= 0 时使用默认值。
func NewPresenceService(store repository.StateStore, ttl time.Duration) *PresenceService {
	if store == nil {
		panic("StateStore cannot be nil for PresenceService")
	}
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	resync := defaultResyncEvery
	if ttl/2 < resync {
		resync = ttl / 2
	}
	return &PresenceService{store: store, ttl: ttl, resyncEvery: resync, now: time.Now}
}

// TTL 返回在线记录的存活时间，连接应以更短的间隔调用 Refresh
func (s *PresenceService) TTL() time.Duration { return s.ttl }

// Announce 写入在线记录
func (s *PresenceService) Announce(ctx context.Context, userID, displayName string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	raw, err := domain.EncodeJSON(domain.Presence{
		UserID:      userID,
		DisplayName: displayName,
		ConnectedAt: s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	if err := s.store.SetValue(ctx, domain.PresencePath(userID), raw, s.ttl); err != nil {
		return err
	}
	logrus.WithField("user_id", userID).Debug("Presence announced")
	return nil
}

// Refresh 延长在线记录的 TTL。记录已过期时重新写入。
func (s *PresenceService) Refresh(ctx context.Context, userID, displayName string) error {
	ok, err := s.store.Touch(ctx, domain.PresencePath(userID), s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return s.Announce(ctx, userID, displayName)
	}
	return nil
}

// Clear 显式删除在线记录，不存在也视为成功
func (s *PresenceService) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	return s.store.Delete(ctx, domain.PresencePath(userID))
}

// Snapshot 读取当前在线用户，按 connectedAt 排序
func (s *PresenceService) Snapshot(ctx context.Context) ([]domain.Presence, error) {
	values, err := s.store.ListValues(ctx, domain.PresenceRoot)
	if err != nil {
		return nil, err
	}
	list := make([]domain.Presence, 0, len(values))
	for uid, raw := range values {
		var p domain.Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			logrus.WithError(err).WithField("user_id", uid).Warn("Skipping malformed presence record")
			continue
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ConnectedAt != list[j].ConnectedAt {
			return list[i].ConnectedAt < list[j].ConnectedAt
		}
		return list[i].UserID < list[j].UserID
	})
	return list, nil
}

// List 返回一个持续更新的在线列表。每次在线记录变化以及定期重新同步时推送完整列表，
// ctx 取消后 channel 关闭。读取失败只记录日志，视图保持上一次的值。
func (s *PresenceService) List(ctx context.Context) (<-chan []domain.Presence, error) {
	updates := make(chan []domain.Presence, 1)
	changed := make(chan struct{}, 1)

	sub, err := s.store.Subscribe(ctx, domain.PresenceRoot, func(_ context.Context, _ repository.Event) {
		select {
		case changed <- struct{}{}:
		default: // 已有待处理的刷新
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(updates)
		defer sub.Close()

		ticker := time.NewTicker(s.resyncEvery)
		defer ticker.Stop()

		emit := func() bool {
			list, err := s.Snapshot(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logrus.WithError(err).Warn("Presence resync failed, keeping stale view")
				}
				return true
			}
			// 只保留最新的列表
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- list:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-changed:
			case <-ticker.C:
			}
			if !emit() {
				return
			}
		}
	}()
	return updates, nil
}

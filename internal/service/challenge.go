package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"

	"github.com/sirupsen/logrus"
)

// ChallengeHandler 处理投递到收件箱的一条挑战。返回错误不会阻止该条目被消费。
type ChallengeHandler func(ctx context.Context, challenge domain.Challenge) error

// ChallengeService 实现点对点的挑战握手，握手成功后产生一个房间。
type ChallengeService struct {
	store   repository.StateStore
	lobbies *LobbyService
	now     func() time.Time
}

// NewChallengeService 创建 ChallengeService 实例
func NewChallengeService(store repository.StateStore, lobbies *LobbyService) *ChallengeService {
	if store == nil || lobbies == nil {
		panic("StateStore and LobbyService must be non-nil for ChallengeService")
	}
	return &ChallengeService{store: store, lobbies: lobbies, now: time.Now}
}

// Send 在 (toID, fromID) 写入一条待处理的挑战，同一对用户重复发送会覆盖之前的挑战。
func (s *ChallengeService) Send(ctx context.Context, fromID, fromName, toID string) error {
	if fromID == "" || toID == "" || fromID == toID {
		return ErrInvalidInput
	}
	challenge := domain.Challenge{
		Type:      domain.ChallengeType,
		From:      fromID,
		FromName:  fromName,
		To:        toID,
		Timestamp: s.now().UnixMilli(),
		Status:    domain.ChallengePending,
	}
	if err := s.writeEntry(ctx, challenge); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"from": fromID, "to": toID}).Info("Challenge sent")
	return nil
}

// Listen 订阅用户的收件箱。已有条目和之后到达的条目都会交给 handler，
// 随后无条件删除：handler 失败同样消费该条目。
func (s *ChallengeService) Listen(ctx context.Context, userID string, handler ChallengeHandler) (repository.Subscription, error) {
	if userID == "" || handler == nil {
		return nil, ErrInvalidInput
	}
	inbox := domain.InboxPath(userID)
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "operation": "ListenChallenges"})

	// 重放与实时事件可能在不同 goroutine 中触发，逐条串行投递
	var mu sync.Mutex
	deliver := func(ctx context.Context, fromID string) {
		mu.Lock()
		defer mu.Unlock()
		raw, err := s.store.GetField(ctx, inbox, fromID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logCtx.WithError(err).Warn("Failed to read inbox entry")
			}
			return // 已被消费
		}
		var challenge domain.Challenge
		if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
			logCtx.WithError(err).WithField("from", fromID).Warn("Discarding malformed inbox entry")
		} else if err := handler(ctx, challenge); err != nil {
			logCtx.WithError(err).WithField("from", fromID).Warn("Challenge handler failed, entry consumed anyway")
		}
		if err := s.store.DeleteField(ctx, inbox, fromID); err != nil {
			logCtx.WithError(err).WithField("from", fromID).Warn("Failed to delete consumed inbox entry")
		}
	}
	deliverAll := func(ctx context.Context) {
		fields, err := s.store.GetFields(ctx, inbox)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logCtx.WithError(err).Warn("Failed to read inbox")
			}
			return
		}
		for fromID := range fields {
			deliver(ctx, fromID)
		}
	}

	sub, err := s.store.Subscribe(ctx, inbox, func(ctx context.Context, ev repository.Event) {
		if ev.Op != repository.OpSet {
			return
		}
		if ev.Field == "" {
			deliverAll(ctx)
			return
		}
		deliver(ctx, ev.Field)
	})
	if err != nil {
		return nil, err
	}
	deliverAll(ctx)
	logCtx.Debug("Listening for challenges")
	return sub, nil
}

// Accept 以接受者为房主创建房间，把 accepted 状态和房间码写回挑战者的收件箱，
// 并在接受者自己的收件箱中写入同样的状态。返回房间码。
func (s *ChallengeService) Accept(ctx context.Context, accepterID, accepterName, challengerID string) (string, error) {
	if accepterID == "" || challengerID == "" || accepterID == challengerID {
		return "", ErrInvalidInput
	}
	logCtx := logrus.WithFields(logrus.Fields{"accepter": accepterID, "challenger": challengerID})

	code, err := s.lobbies.CreateRoom(ctx, accepterID, accepterName)
	if err != nil {
		return "", err
	}
	now := s.now().UnixMilli()

	reply := domain.Challenge{
		Type:      domain.ChallengeType,
		From:      accepterID,
		FromName:  accepterName,
		To:        challengerID,
		Timestamp: now,
		Status:    domain.ChallengeAccepted,
		RoomCode:  code,
	}
	if err := s.writeEntry(ctx, reply); err != nil {
		logCtx.WithError(err).Error("Failed to notify challenger of acceptance")
		return "", err
	}

	mirror := domain.Challenge{
		Type:      domain.ChallengeType,
		From:      challengerID,
		To:        accepterID,
		Timestamp: now,
		Status:    domain.ChallengeAccepted,
		RoomCode:  code,
	}
	if err := s.writeEntry(ctx, mirror); err != nil {
		logCtx.WithError(err).Warn("Failed to mirror accepted status into own inbox")
	}

	logCtx.WithField("lobby_code", code).Info("Challenge accepted")
	return code, nil
}

// Decline 删除接受者收件箱中的挑战，并把 declined 状态写入挑战者的收件箱。
func (s *ChallengeService) Decline(ctx context.Context, accepterID, accepterName, challengerID string) error {
	if accepterID == "" || challengerID == "" || accepterID == challengerID {
		return ErrInvalidInput
	}
	logCtx := logrus.WithFields(logrus.Fields{"accepter": accepterID, "challenger": challengerID})

	if err := s.store.DeleteField(ctx, domain.InboxPath(accepterID), challengerID); err != nil {
		logCtx.WithError(err).Warn("Failed to clear declined challenge from own inbox")
	}
	reply := domain.Challenge{
		Type:      domain.ChallengeType,
		From:      accepterID,
		FromName:  accepterName,
		To:        challengerID,
		Timestamp: s.now().UnixMilli(),
		Status:    domain.ChallengeDeclined,
	}
	if err := s.writeEntry(ctx, reply); err != nil {
		logCtx.WithError(err).Error("Failed to notify challenger of decline")
		return err
	}
	logCtx.Info("Challenge declined")
	return nil
}

// SweepStale 删除早于 olderThan 的待处理挑战，返回删除数量。
// 条件写入保证不会误删在扫描期间重新发送的挑战。
func (s *ChallengeService) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	inboxes, err := s.store.ListChildren(ctx, domain.InboxRoot)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, userID := range inboxes {
		var stale []string
		applied, err := s.store.Transact(ctx, domain.InboxPath(userID), func(current map[string]string) (*repository.Mutation, error) {
			stale = stale[:0]
			for fromID, raw := range current {
				var c domain.Challenge
				if err := json.Unmarshal([]byte(raw), &c); err != nil {
					continue
				}
				if c.Status == domain.ChallengePending && c.Timestamp < cutoff {
					stale = append(stale, fromID)
				}
			}
			if len(stale) == 0 {
				return nil, nil
			}
			return &repository.Mutation{Delete: stale}, nil
		})
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("Failed to sweep inbox")
			continue
		}
		if applied {
			removed += len(stale)
		}
	}
	if removed > 0 {
		logrus.WithField("removed", removed).Info("Stale challenges swept")
	}
	return removed, nil
}

func (s *ChallengeService) writeEntry(ctx context.Context, c domain.Challenge) error {
	raw, err := domain.EncodeJSON(c)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	return s.store.SetField(ctx, domain.InboxPath(c.To), c.From, raw)
}

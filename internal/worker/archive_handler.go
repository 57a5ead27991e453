package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"
	"puzzle-duel/internal/service"
	"puzzle-duel/internal/tasks"
)

// MatchReader 读取共享存储中的对局快照
type MatchReader interface {
	ReadMatch(ctx context.Context, matchID string) (*domain.Match, error)
}

// MatchArchiveHandler 处理对局归档任务
type MatchArchiveHandler struct {
	matches MatchReader
	records repository.MatchRecordRepository
}

// NewMatchArchiveHandler 创建 Handler 实例
func NewMatchArchiveHandler(matches MatchReader, records repository.MatchRecordRepository) *MatchArchiveHandler {
	if matches == nil || records == nil {
		panic("MatchReader and MatchRecordRepository cannot be nil for MatchArchiveHandler")
	}
	return &MatchArchiveHandler{matches: matches, records: records}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *MatchArchiveHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseMatchArchivePayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("match_id", payload.MatchID)

	match, err := h.matches.ReadMatch(ctx, payload.MatchID)
	if err != nil {
		if errors.Is(err, service.ErrMatchNotFound) {
			logCtx.Warn("Match to archive no longer exists")
			return fmt.Errorf("match %s not found: %w", payload.MatchID, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to read match %s: %w", payload.MatchID, err)
	}
	if match.Status != domain.MatchFinished {
		logCtx.WithField("status", match.Status).Warn("Refusing to archive a match that is not finished")
		return fmt.Errorf("match %s is %s: %w", payload.MatchID, match.Status, asynq.SkipRetry)
	}

	record, err := NewMatchRecord(match)
	if err != nil {
		return fmt.Errorf("failed to build record for match %s: %v: %w", payload.MatchID, err, asynq.SkipRetry)
	}
	if err := h.records.Save(ctx, record); err != nil {
		logCtx.WithError(err).Error("Failed to save match record")
		return fmt.Errorf("failed to save match record %s: %w", payload.MatchID, err)
	}

	logCtx.WithField("winner", record.Winner).Info("Match archived successfully")
	return nil
}

// NewMatchRecord 把对局快照转换为归档记录
func NewMatchRecord(match *domain.Match) (*domain.MatchRecord, error) {
	players, err := json.Marshal(match.Players)
	if err != nil {
		return nil, err
	}
	scores, err := json.Marshal(match.Scores)
	if err != nil {
		return nil, err
	}
	finishedAt := match.FinishedAt
	if finishedAt == 0 {
		finishedAt = time.Now().UnixMilli()
	}
	return &domain.MatchRecord{
		MatchID:     match.ID,
		LobbyCode:   match.LobbyCode,
		Players:     string(players),
		Scores:      string(scores),
		Winner:      match.Winner(),
		FilledCells: match.FilledCount(),
		StartedAt:   time.UnixMilli(match.CreatedAt).UTC(),
		FinishedAt:  time.UnixMilli(finishedAt).UTC(),
	}, nil
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	queue, _ := asynq.GetQueueName(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"queue":     queue,
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// 定义任务类型常量
const (
	TypeMatchArchive   = "match:archive"   // 已结束对局归档到数据库
	TypeChallengeSweep = "challenge:sweep" // 周期性清理过期的待处理挑战
)

// MatchArchivePayload 定义了对局归档任务的数据结构。
// 只传递对局 ID，Worker 端从共享存储读取最终状态。
type MatchArchivePayload struct {
	MatchID string `json:"matchId"`
}

// NewMatchArchiveTask 创建对局归档任务。
// 任务 ID 由对局 ID 派生，重复结束同一对局不会产生第二个任务。
func NewMatchArchiveTask(matchID string) (*asynq.Task, []asynq.Option, error) {
	if matchID == "" {
		return nil, nil, errors.New("match id is required")
	}
	payloadBytes, err := json.Marshal(MatchArchivePayload{MatchID: matchID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(TypeMatchArchive + ":" + matchID),
		asynq.Queue("low"),
		asynq.MaxRetry(5),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TypeMatchArchive, payloadBytes), opts, nil
}

// ParseMatchArchivePayload 解析对局归档任务的 payload
func ParseMatchArchivePayload(payload []byte) (MatchArchivePayload, error) {
	var p MatchArchivePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	if p.MatchID == "" {
		return p, errors.New("payload has no match id")
	}
	return p, nil
}

// NewChallengeSweepTask 创建挑战清理任务，本身不需要 payload
func NewChallengeSweepTask() *asynq.Task {
	return asynq.NewTask(TypeChallengeSweep, nil)
}

// Enqueuer 把业务层的后台工作投递到 asynq 队列
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer 创建 Enqueuer
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	if client == nil {
		panic("asynq client cannot be nil for Enqueuer")
	}
	return &Enqueuer{client: client}
}

// EnqueueMatchArchive 安排对局归档。同一对局的任务已存在时视为成功。
func (e *Enqueuer) EnqueueMatchArchive(ctx context.Context, matchID string) error {
	task, opts, err := NewMatchArchiveTask(matchID)
	if err != nil {
		return fmt.Errorf("failed to create match archive task: %w", err)
	}
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logrus.WithField("match_id", matchID).Debug("Match archive task already enqueued")
			return nil
		}
		return fmt.Errorf("failed to enqueue match archive task: %w", err)
	}
	logrus.WithFields(logrus.Fields{"match_id": matchID, "task_id": info.ID, "queue": info.Queue}).Info("Match archive task enqueued")
	return nil
}

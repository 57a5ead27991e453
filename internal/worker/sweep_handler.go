package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ChallengeSweeper 删除过期的待处理挑战
type ChallengeSweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// ChallengeSweepHandler 处理周期性的挑战清理任务
type ChallengeSweepHandler struct {
	sweeper ChallengeSweeper
	ttl     time.Duration
}

// NewChallengeSweepHandler 创建 Handler 实例
func NewChallengeSweepHandler(sweeper ChallengeSweeper, ttl time.Duration) *ChallengeSweepHandler {
	if sweeper == nil {
		panic("ChallengeSweeper cannot be nil for ChallengeSweepHandler")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ChallengeSweepHandler{sweeper: sweeper, ttl: ttl}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ChallengeSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	// 使用带有超时的 context，避免任务卡死
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := h.sweeper.SweepStale(sweepCtx, h.ttl)
	if err != nil {
		logCtx.WithError(err).Error("Challenge sweep failed")
		return fmt.Errorf("challenge sweep: %w", err)
	}
	logCtx.WithField("removed", removed).Debug("Periodic challenge sweep completed")
	return nil
}

package repository

import (
	"context"

	"puzzle-duel/internal/domain"
)

// MatchRecordRepository 定义了已结束对局归档的存储操作。
type MatchRecordRepository interface {
	// Save 保存归档记录。同一 MatchID 重复保存时覆盖旧记录，保证任务重试幂等。
	Save(ctx context.Context, record *domain.MatchRecord) error

	// FindByMatchID 根据对局 ID 查找归档记录。
	FindByMatchID(ctx context.Context, matchID string) (*domain.MatchRecord, error)

	// ListByPlayer 返回某玩家最近的归档记录，按结束时间倒序。
	ListByPlayer(ctx context.Context, userID string, limit int) ([]domain.MatchRecord, error)
}

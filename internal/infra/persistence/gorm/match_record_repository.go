package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"
)

const maxRecordPageSize = 100

// GormMatchRecordRepository 是 MatchRecordRepository 接口的 GORM 实现
type GormMatchRecordRepository struct {
	db *gorm.DB
}

// NewGormMatchRecordRepository 创建 GormMatchRecordRepository 实例
func NewGormMatchRecordRepository(db *gorm.DB) *GormMatchRecordRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMatchRecordRepository")
	}
	return &GormMatchRecordRepository{db: db}
}

// Save 按 match_id 做 upsert，归档任务重试时不会产生重复记录
func (r *GormMatchRecordRepository) Save(ctx context.Context, record *domain.MatchRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "match_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"lobby_code", "players", "scores", "winner", "filled_cells", "started_at", "finished_at",
		}),
	}).Create(record).Error
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save match record %s: %w", record.MatchID, err)
	}
	return nil
}

// FindByMatchID 根据对局 ID 查找归档记录
func (r *GormMatchRecordRepository) FindByMatchID(ctx context.Context, matchID string) (*domain.MatchRecord, error) {
	var record domain.MatchRecord
	err := r.db.WithContext(ctx).Where("match_id = ?", matchID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMatchRecordNotFound
		}
		return nil, fmt.Errorf("gorm: find match record %s: %w", matchID, err)
	}
	return &record, nil
}

// ListByPlayer 返回玩家最近的归档记录。players 列保存的是 JSON 数组，用带引号的 LIKE 匹配完整 ID。
func (r *GormMatchRecordRepository) ListByPlayer(ctx context.Context, userID string, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 || limit > maxRecordPageSize {
		limit = maxRecordPageSize
	}
	var records []domain.MatchRecord
	err := r.db.WithContext(ctx).
		Where("players LIKE ?", `%"`+userID+`"%`).
		Order("finished_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list match records for %s: %w", userID, err)
	}
	return records, nil
}

var _ repository.MatchRecordRepository = (*GormMatchRecordRepository)(nil)

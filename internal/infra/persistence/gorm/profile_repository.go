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

// GormProfileRepository 是 ProfileRepository 接口的 GORM 实现
type GormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository 创建 GormProfileRepository 实例
func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	if db == nil {
		panic("database connection cannot be nil for GormProfileRepository")
	}
	return &GormProfileRepository{db: db}
}

// FindByID 根据用户 ID 查找资料
func (r *GormProfileRepository) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrProfileNotFound
		}
		return nil, fmt.Errorf("gorm: find profile by id '%s': %w", id, err)
	}
	return &profile, nil
}

// Save 插入资料，ID 已存在时只更新显示名
func (r *GormProfileRepository) Save(ctx context.Context, profile *domain.Profile) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(profile).Error
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save profile (id: %s): %w", profile.ID, err)
	}
	return nil
}

var _ repository.ProfileRepository = (*GormProfileRepository)(nil)

package repository

import (
	"context"

	"puzzle-duel/internal/domain"
)

// ProfileRepository 定义了用户资料的存储和检索操作。
type ProfileRepository interface {
	// FindByID 根据用户 ID 查找资料，不存在时返回 ErrProfileNotFound。
	FindByID(ctx context.Context, id string) (*domain.Profile, error)

	// Save 保存用户资料 (存在则更新)。
	Save(ctx context.Context, profile *domain.Profile) error
}

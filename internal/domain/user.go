package domain

import "time"

// Profile 是身份服务维护的用户资料，核心逻辑只读取显示名。
type Profile struct {
	ID          string    `gorm:"primaryKey;size:36"`        // 不透明的用户 ID (uuid)
	DisplayName string    `gorm:"type:varchar(64);not null"` // 显示名
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

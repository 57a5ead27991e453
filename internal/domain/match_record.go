package domain

import "time"

// MatchRecord 是已结束对局的归档记录，由后台任务写入数据库。
type MatchRecord struct {
	ID          uint      `gorm:"primaryKey"`
	MatchID     string    `gorm:"type:varchar(191);uniqueIndex;not null"`
	LobbyCode   string    `gorm:"type:varchar(16);index"`
	Players     string    `gorm:"type:text;not null"` // JSON 数组
	Scores      string    `gorm:"type:text;not null"` // JSON 对象 uid -> score
	Winner      string    `gorm:"type:varchar(64)"`   // 平局为空
	FilledCells int       `gorm:"not null"`
	StartedAt   time.Time `gorm:"not null"`
	FinishedAt  time.Time `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

package model

import (
	"time"

	"gorm.io/gorm"
)

// PublicLink 公共分享链接 由外部协作方创建 核心只读
type PublicLink struct {
	gorm.Model
	Token        string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"token"`
	FileID       string     `gorm:"type:varchar(100);not null;index" json:"file_id"`
	Export       bool       `json:"export"`
	PasswordHash string     `gorm:"type:varchar(128)" json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	StorageType  string     `gorm:"type:varchar(32);not null" json:"storage_type"`
}

// IsExpired 判断链接是否已过期
func (l *PublicLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

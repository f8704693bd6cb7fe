package model

import "gorm.io/gorm"

// Subscription 用户对文件变更的订阅
// Token非空表示通过分享链接产生的受限订阅
type Subscription struct {
	gorm.Model
	FileID string `gorm:"type:varchar(100);not null;index;uniqueIndex:idx_file_user_token" json:"file_id"`
	UserID uint   `gorm:"not null;index;uniqueIndex:idx_file_user_token" json:"user_id"`
	Token  string `gorm:"type:varchar(64);uniqueIndex:idx_file_user_token" json:"token,omitempty"`
	// 订阅范围 JSON编码的标识列表 空列表表示整个文件
	Scope string `gorm:"type:text" json:"scope"`
}

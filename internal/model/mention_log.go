package model

import "gorm.io/gorm"

// MentionLog 每次提及的审计记录
type MentionLog struct {
	gorm.Model
	FileID       string `gorm:"type:varchar(100);not null;index" json:"file_id"`
	StorageType  string `gorm:"type:varchar(32)" json:"storage_type"`
	MentionedID  uint   `gorm:"not null;index" json:"mentioned_id"`
	ActorID      uint   `gorm:"not null" json:"actor_id"`
	Device       string `gorm:"type:varchar(64)" json:"device"`
	Org          string `gorm:"type:varchar(100)" json:"org,omitempty"`
	AnnotationID string `gorm:"type:varchar(64);index" json:"annotation_id"`
	CommentID    string `gorm:"type:varchar(64)" json:"comment_id,omitempty"`
}

package model

import (
	"time"

	"gorm.io/gorm"
)

// Comment 批注下的一条消息 根评论commentID为"root"
type Comment struct {
	gorm.Model
	FileID       string          `gorm:"type:varchar(100);not null;index" json:"file_id"`
	AnnotationID string          `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_annotation_comment" json:"annotation_id"`
	CommentID    string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_annotation_comment" json:"comment_id"`
	AuthorID     uint            `gorm:"not null;index" json:"author_id"`
	Device       string          `gorm:"type:varchar(64)" json:"device"`
	Text         string          `gorm:"type:text" json:"text"`
	State        AnnotationState `gorm:"type:varchar(16);not null" json:"state"`
	// 文档内定位信息 JSON编码 可选
	Loc            string    `gorm:"type:text" json:"loc,omitempty"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
}

// IsRoot 判断是否为根评论
func (c *Comment) IsRoot() bool {
	return c.CommentID == RootCommentID
}

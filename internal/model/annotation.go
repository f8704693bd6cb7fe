package model

import (
	"time"

	"gorm.io/gorm"
)

// 批注状态 闭合集合 边界处拒绝未知输入
type AnnotationState string

const (
	StateActive   AnnotationState = "ACTIVE"
	StateResolved AnnotationState = "RESOLVED"
	StateDeleted  AnnotationState = "DELETED"
)

// ValidState 判断是否为已知状态
func ValidState(s AnnotationState) bool {
	switch s {
	case StateActive, StateResolved, StateDeleted:
		return true
	}
	return false
}

type AnnotationKind string

const (
	KindThread AnnotationKind = "THREAD"
	KindMarkup AnnotationKind = "MARKUP"
)

// Annotation 表示附着在文档上的评论线程或标记
// DELETED为终态 记录从不物理删除
type Annotation struct {
	gorm.Model
	FileID       string          `gorm:"type:varchar(100);not null;index;uniqueIndex:idx_file_annotation" json:"file_id"`
	AnnotationID string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_file_annotation" json:"annotation_id"`
	Kind         AnnotationKind  `gorm:"type:varchar(16);not null" json:"kind"`
	State        AnnotationState `gorm:"type:varchar(16);not null;index" json:"state"`
	AuthorID     uint            `gorm:"not null;index" json:"author_id"`
	Device       string          `gorm:"type:varchar(64)" json:"device"`
	Title        string          `gorm:"type:varchar(255)" json:"title,omitempty"`
	// JSON编码的实体句柄列表
	EntityHandles string `gorm:"type:text" json:"entity_handles,omitempty"`
	SpaceID       string `gorm:"type:varchar(64)" json:"space_id,omitempty"`
	ViewportID    string `gorm:"type:varchar(64)" json:"viewport_id,omitempty"`
	// 标记类型（图章/实体标签/语音/图片等） 仅MARKUP使用
	MarkupType string `gorm:"type:varchar(32)" json:"markup_type,omitempty"`
	// 类型相关负载 JSON编码
	Payload        string    `gorm:"type:text" json:"payload,omitempty"`
	StorageType    string    `gorm:"type:varchar(32);index" json:"storage_type"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
}

// 根评论的固定commentID 与父批注逻辑合并表达“首条消息”
const RootCommentID = "root"

package event

import "time"

// 生命周期事件名 外部通知分发方按名字路由
const (
	NewCommentThread = "newCommentThread"
	NewMarkup        = "newMarkup"
	NewComment       = "newComment"
	ThreadResolved   = "threadResolved"
	ThreadReopened   = "threadReopened"
	ThreadDeleted    = "threadDeleted"
	MarkupResolved   = "markupResolved"
	MarkupDeleted    = "markupDeleted"
	ModifiedComment  = "modifiedComment"
	DeletedComment   = "deletedComment"
	EntitiesChanged  = "entitiesChanged"
	Mention          = "mention"
)

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Broadcast 推送给websocket在线客户端的变更通知
// 始终在状态变更落库之后才发出
type Broadcast struct {
	FileID             string     `json:"file_id"`
	Timestamp          time.Time  `json:"timestamp"`
	AnnotationID       string     `json:"annotation_id"`
	CommentID          string     `json:"comment_id,omitempty"`
	ActorID            uint       `json:"actor_id"`
	AuthorID           uint       `json:"author_id"`
	ChangeType         ChangeType `json:"change_type"`
	SessionIDToExclude string     `json:"-"`
}

// Lifecycle 发往外部通知分发方的命名事件
type Lifecycle struct {
	Name         string    `json:"name"`
	FileID       string    `json:"file_id"`
	StorageType  string    `json:"storage_type"`
	ActorID      uint      `json:"actor_id"`
	AnnotationID string    `json:"annotation_id"`
	CommentID    string    `json:"comment_id,omitempty"`
	// 提及事件的目标用户
	TargetUserID uint   `json:"target_user_id,omitempty"`
	OldTitle     string `json:"old_title,omitempty"`
	NewTitle     string `json:"new_title,omitempty"`
	OldText      string `json:"old_text,omitempty"`
	NewText      string `json:"new_text,omitempty"`
	// 实体句柄增删 JSON编码
	EntitiesAdded   []string  `json:"entities_added,omitempty"`
	EntitiesRemoved []string  `json:"entities_removed,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

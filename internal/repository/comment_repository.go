package repository

import (
	"errors"
	"time"

	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/db"

	"gorm.io/gorm"
)

// CommentRepository 处理批注下的评论持久化
type CommentRepository struct {
	db *gorm.DB
}

func NewCommentRepository() *CommentRepository {
	return &CommentRepository{db: db.DB}
}

func (r *CommentRepository) Create(comment *model.Comment) error {
	return r.db.Create(comment).Error
}

// 按评论ID查找 不存在返回nil
func (r *CommentRepository) FindByCommentID(annotationID, commentID string) (*model.Comment, error) {
	var comment model.Comment
	err := r.db.Where("annotation_id = ? AND comment_id = ?", annotationID, commentID).First(&comment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &comment, nil
}

// 获取批注下的全部评论 按创建时间升序
func (r *CommentRepository) FindByAnnotation(annotationID string) ([]model.Comment, error) {
	var comments []model.Comment
	err := r.db.Where("annotation_id = ?", annotationID).
		Order("created_at ASC").
		Find(&comments).Error
	return comments, err
}

// 更新评论文本并推进活动时间
func (r *CommentRepository) UpdateText(annotationID, commentID, text string, at time.Time) error {
	return r.db.Model(&model.Comment{}).
		Where("annotation_id = ? AND comment_id = ?", annotationID, commentID).
		Updates(map[string]interface{}{
			"text":             text,
			"last_activity_at": at,
		}).Error
}

// 条件删除 同批注的删除一样用时间戳比较防止覆盖更新的写入
func (r *CommentRepository) MarkDeleted(annotationID, commentID string, knownActivity, at time.Time) (bool, error) {
	result := r.db.Model(&model.Comment{}).
		Where("annotation_id = ? AND comment_id = ? AND state <> ? AND last_activity_at <= ?",
			annotationID, commentID, model.StateDeleted, knownActivity).
		Updates(map[string]interface{}{
			"state":            model.StateDeleted,
			"last_activity_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// 批注整体删除时把全部子评论一并置为DELETED
func (r *CommentRepository) MarkAllDeleted(annotationID string, at time.Time) error {
	return r.db.Model(&model.Comment{}).
		Where("annotation_id = ? AND state <> ?", annotationID, model.StateDeleted).
		Updates(map[string]interface{}{
			"state":            model.StateDeleted,
			"last_activity_at": at,
		}).Error
}

// 判断用户是否在该批注下发表过评论 放宽的协作编辑检查使用
func (r *CommentRepository) ExistsByAuthor(annotationID string, authorID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.Comment{}).
		Where("annotation_id = ? AND author_id = ?", annotationID, authorID).
		Count(&count).Error
	return count > 0, err
}

package repository

import (
	"errors"
	"time"

	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/db"

	"gorm.io/gorm"
)

// AnnotationRepository 处理批注（线程/标记）持久化 按文件分区
type AnnotationRepository struct {
	db *gorm.DB
}

func NewAnnotationRepository() *AnnotationRepository {
	return &AnnotationRepository{db: db.DB}
}

func (r *AnnotationRepository) Create(annotation *model.Annotation) error {
	return r.db.Create(annotation).Error
}

// 按批注ID查找 不存在返回nil
func (r *AnnotationRepository) FindByAnnotationID(fileID, annotationID string) (*model.Annotation, error) {
	var annotation model.Annotation
	err := r.db.Where("file_id = ? AND annotation_id = ?", fileID, annotationID).First(&annotation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &annotation, nil
}

// 获取文件的全部批注 按创建时间升序
// since非空时只返回该水位之后有活动的记录 用于客户端增量轮询
func (r *AnnotationRepository) FindByFile(fileID string, since *time.Time) ([]model.Annotation, error) {
	var annotations []model.Annotation
	query := r.db.Where("file_id = ?", fileID)
	if since != nil {
		query = query.Where("last_activity_at > ?", *since)
	}
	err := query.Order("created_at ASC").Find(&annotations).Error
	return annotations, err
}

// 更新指定字段并推进活动时间
func (r *AnnotationRepository) UpdateFields(fileID, annotationID string, fields map[string]interface{}) error {
	return r.db.Model(&model.Annotation{}).
		Where("file_id = ? AND annotation_id = ?", fileID, annotationID).
		Updates(fields).Error
}

// 子评论增改时推进批注的活动时间
func (r *AnnotationRepository) TouchActivity(fileID, annotationID string, at time.Time) error {
	return r.db.Model(&model.Annotation{}).
		Where("file_id = ? AND annotation_id = ?", fileID, annotationID).
		Update("last_activity_at", at).Error
}

// 条件删除 存储的活动时间比客户端已知时间新则不生效
// 返回是否真的发生了状态变更 用时间戳比较代替锁检测并发脏写
func (r *AnnotationRepository) MarkDeleted(fileID, annotationID string, knownActivity, at time.Time) (bool, error) {
	result := r.db.Model(&model.Annotation{}).
		Where("file_id = ? AND annotation_id = ? AND state <> ? AND last_activity_at <= ?",
			fileID, annotationID, model.StateDeleted, knownActivity).
		Updates(map[string]interface{}{
			"state":            model.StateDeleted,
			"last_activity_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

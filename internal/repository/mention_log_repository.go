package repository

import (
	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/db"

	"gorm.io/gorm"
)

// MentionLogRepository 提及审计记录持久化
type MentionLogRepository struct {
	db *gorm.DB
}

func NewMentionLogRepository() *MentionLogRepository {
	return &MentionLogRepository{db: db.DB}
}

func (r *MentionLogRepository) Create(entry *model.MentionLog) error {
	return r.db.Create(entry).Error
}

func (r *MentionLogRepository) ListByFile(fileID string, limit int) ([]model.MentionLog, error) {
	var entries []model.MentionLog
	err := r.db.Where("file_id = ?", fileID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

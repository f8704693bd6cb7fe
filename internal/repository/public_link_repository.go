package repository

import (
	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/db"

	"gorm.io/gorm"
)

// PublicLinkRepository 公共分享链接的只读查询面
// 链接的创建/撤销属于外部协作方
type PublicLinkRepository struct {
	db *gorm.DB
}

func NewPublicLinkRepository() *PublicLinkRepository {
	return &PublicLinkRepository{db: db.DB}
}

// 按token查找链接 不存在时返回gorm.ErrRecordNotFound
func (r *PublicLinkRepository) FindByToken(token string) (*model.PublicLink, error) {
	var link model.PublicLink
	if err := r.db.Where("token = ?", token).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// 测试和本地联调用
func (r *PublicLinkRepository) Create(link *model.PublicLink) error {
	return r.db.Create(link).Error
}

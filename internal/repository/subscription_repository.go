package repository

import (
	"encoding/json"
	"errors"

	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/db"

	"gorm.io/gorm"
)

// SubscriptionRepository 处理文件订阅持久化
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{db: db.DB}
}

// 查找用户对文件的订阅 不存在返回nil
func (r *SubscriptionRepository) Find(fileID string, userID uint, token string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("file_id = ? AND user_id = ? AND token = ?", fileID, userID, token).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) Create(sub *model.Subscription) error {
	return r.db.Create(sub).Error
}

// 完整权限用户的scope整体重写
func (r *SubscriptionRepository) RewriteScope(fileID string, userID uint, scope []string) error {
	data, err := json.Marshal(scope)
	if err != nil {
		return err
	}
	return r.db.Model(&model.Subscription{}).
		Where("file_id = ? AND user_id = ? AND token = ''", fileID, userID).
		Update("scope", string(data)).Error
}

// token订阅的scope追加语义 已有条目保留
func (r *SubscriptionRepository) AppendScope(fileID string, userID uint, token string, entries []string) error {
	sub, err := r.Find(fileID, userID, token)
	if err != nil {
		return err
	}
	if sub == nil {
		data, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return r.Create(&model.Subscription{FileID: fileID, UserID: userID, Token: token, Scope: string(data)})
	}

	var scope []string
	if sub.Scope != "" {
		if err := json.Unmarshal([]byte(sub.Scope), &scope); err != nil {
			scope = nil
		}
	}
	existing := make(map[string]struct{}, len(scope))
	for _, s := range scope {
		existing[s] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := existing[e]; !ok {
			scope = append(scope, e)
		}
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return err
	}
	return r.db.Model(&model.Subscription{}).
		Where("id = ?", sub.ID).
		Update("scope", string(data)).Error
}

// 文件的全部订阅者
func (r *SubscriptionRepository) ListByFile(fileID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.Where("file_id = ?", fileID).Find(&subs).Error
	return subs, err
}

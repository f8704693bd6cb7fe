package repository

import (
	"testing"

	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/config"
	"go-annotation-service/pkg/db"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func setupTestSubscriptions(t *testing.T) *SubscriptionRepository {
	if err := config.InitTest(); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if err := db.InitDB(); err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	cleanupSubscriptionTable(t)
	return NewSubscriptionRepository()
}

func TestSubscriptionRepository_FindAndCreate(t *testing.T) {
	subRepo := setupTestSubscriptions(t)

	missing, err := subRepo.Find("file1", 1, "")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	assert.NoError(t, subRepo.Create(&model.Subscription{FileID: "file1", UserID: 1, Scope: "[]"}))

	found, err := subRepo.Find("file1", 1, "")
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, "[]", found.Scope)
}

func TestSubscriptionRepository_RewriteScope(t *testing.T) {
	subRepo := setupTestSubscriptions(t)

	assert.NoError(t, subRepo.Create(&model.Subscription{FileID: "file1", UserID: 1, Scope: `["ann1"]`}))

	// 完整权限用户的scope整体替换
	assert.NoError(t, subRepo.RewriteScope("file1", 1, []string{"ann2", "ann3"}))

	found, err := subRepo.Find("file1", 1, "")
	assert.NoError(t, err)
	assert.Equal(t, `["ann2","ann3"]`, found.Scope)
}

func TestSubscriptionRepository_AppendScope(t *testing.T) {
	subRepo := setupTestSubscriptions(t)

	// 不存在时创建
	assert.NoError(t, subRepo.AppendScope("file1", 1, "tok1", []string{"ann1"}))
	found, err := subRepo.Find("file1", 1, "tok1")
	assert.NoError(t, err)
	assert.Equal(t, `["ann1"]`, found.Scope)

	// token订阅只追加 不丢已有条目 重复条目不再加
	assert.NoError(t, subRepo.AppendScope("file1", 1, "tok1", []string{"ann2", "ann1"}))
	found, err = subRepo.Find("file1", 1, "tok1")
	assert.NoError(t, err)
	assert.Equal(t, `["ann1","ann2"]`, found.Scope)
}

func TestSubscriptionRepository_ListByFile(t *testing.T) {
	subRepo := setupTestSubscriptions(t)

	assert.NoError(t, subRepo.Create(&model.Subscription{FileID: "file1", UserID: 1, Scope: "[]"}))
	assert.NoError(t, subRepo.Create(&model.Subscription{FileID: "file1", UserID: 2, Scope: "[]"}))
	assert.NoError(t, subRepo.Create(&model.Subscription{FileID: "file2", UserID: 1, Scope: "[]"}))

	subs, err := subRepo.ListByFile("file1")
	assert.NoError(t, err)
	assert.Len(t, subs, 2)
}

// 帮助函数：清空 Subscriptions 表中的所有数据
func cleanupSubscriptionTable(t *testing.T) {
	if err := db.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&model.Subscription{}).Error; err != nil {
		t.Logf("Failed to cleanup subscriptions table: %v", err)
	}
}

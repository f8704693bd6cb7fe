package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go-annotation-service/internal/event"
	"go-annotation-service/internal/model"
	"go-annotation-service/internal/repository"
	"go-annotation-service/internal/storage"
	"go-annotation-service/internal/worker"
	"go-annotation-service/pkg/logger"

	"go.uber.org/zap"
)

// 文本中的提及写法: @{userID}
var mentionPattern = regexp.MustCompile(`@\{(\d+)\}`)

// 区分"没有提及可处理"和真正的失败
var ErrNoMentions = errors.New("no mentions to resolve")

// MentionedUser 单次管道运行的瞬时分类结果 不持久化
type MentionedUser struct {
	UserID    uint
	Email     string
	HasAccess bool
}

// MentionJob 一次提及处理任务 编辑时带上旧文本做差量
type MentionJob struct {
	FileID       string
	StorageType  string
	Actor        Actor
	AnnotationID string
	CommentID    string
	OldText      string
	NewText      string
}

// MentionService 提及扇出管道
// 在请求应答之后跑在工作池上 所有副作用尽力而为
type MentionService struct {
	users    *repository.UserRepository
	subs     *repository.SubscriptionRepository
	logs     *repository.MentionLogRepository
	storage  storage.Client
	notifier *NotificationService
	pool     *worker.Pool
}

func NewMentionService(
	users *repository.UserRepository,
	subs *repository.SubscriptionRepository,
	logs *repository.MentionLogRepository,
	storageClient storage.Client,
	notifier *NotificationService,
	pool *worker.Pool,
) *MentionService {
	return &MentionService{
		users:    users,
		subs:     subs,
		logs:     logs,
		storage:  storageClient,
		notifier: notifier,
		pool:     pool,
	}
}

// ExtractMentions 从文本中提取被提及的用户ID 去重保序
func ExtractMentions(text string) []uint {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[uint]struct{}, len(matches))
	var ids []uint
	for _, m := range matches {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil || id == 0 {
			continue
		}
		if _, ok := seen[uint(id)]; ok {
			continue
		}
		seen[uint(id)] = struct{}{}
		ids = append(ids, uint(id))
	}
	return ids
}

// NewMentions 差量提取 编辑时只处理新引入的提及 不重复打扰老的
func NewMentions(oldText, newText string) []uint {
	old := make(map[uint]struct{})
	for _, id := range ExtractMentions(oldText) {
		old[id] = struct{}{}
	}
	var ids []uint
	for _, id := range ExtractMentions(newText) {
		if _, ok := old[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecentMentions 文件最近的提及审计记录
func (s *MentionService) RecentMentions(fileID string, limit int) ([]model.MentionLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.logs.ListByFile(fileID, limit)
}

// Enqueue 把提及处理提交到工作池 调用方不等待
func (s *MentionService) Enqueue(job MentionJob) {
	err := s.pool.Submit(func() {
		if err := s.Process(context.Background(), job); err != nil && !errors.Is(err, ErrNoMentions) {
			// 原请求早已应答 这里只记录 绝不回头让它失败
			logger.L.Warn("mention pipeline failed",
				zap.String("fileID", job.FileID),
				zap.String("annotationID", job.AnnotationID),
				zap.Error(err))
		}
	})
	if err != nil {
		logger.L.Warn("mention job dropped, worker queue full", zap.String("fileID", job.FileID))
	}
}

// Process 分类被提及用户 自动分享/订阅 写审计 发通知
func (s *MentionService) Process(ctx context.Context, job MentionJob) error {
	mentioned := NewMentions(job.OldText, job.NewText)
	if len(mentioned) == 0 {
		return ErrNoMentions
	}

	info, err := s.storage.GetInfo(ctx, job.FileID, job.StorageType)
	if err != nil {
		return err
	}

	// 协作者邮箱集合 含所有者
	accessible := make(map[string]struct{}, len(info.Share.Viewer)+len(info.Share.Editor)+1)
	for _, email := range info.Share.Viewer {
		accessible[email] = struct{}{}
	}
	for _, email := range info.Share.Editor {
		accessible[email] = struct{}{}
	}
	if info.OwnerEmail != "" {
		accessible[info.OwnerEmail] = struct{}{}
	}

	users := s.classify(mentioned, accessible)

	s.shareWithInaccessible(ctx, job, users)
	s.subscribeAccessible(job, users)
	s.recordAndNotify(ctx, job, users)

	return nil
}

func (s *MentionService) classify(ids []uint, accessible map[string]struct{}) []MentionedUser {
	result := make([]MentionedUser, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.FindByID(id)
		if err != nil {
			logger.L.Warn("mentioned user lookup failed", zap.Uint("userID", id), zap.Error(err))
			continue
		}
		if user == nil {
			logger.L.Debug("mentioned user does not exist", zap.Uint("userID", id))
			continue
		}
		_, hasAccess := accessible[user.Email]
		result = append(result, MentionedUser{UserID: id, Email: user.Email, HasAccess: hasAccess})
	}
	return result
}

// 对无权限的被提及用户发起只读分享 失败只记录 分享是尽力而为的
func (s *MentionService) shareWithInaccessible(ctx context.Context, job MentionJob, users []MentionedUser) {
	var viewers []string
	for _, u := range users {
		if !u.HasAccess {
			viewers = append(viewers, u.Email)
		}
	}
	if len(viewers) == 0 {
		return
	}
	sort.Strings(viewers)
	err := s.storage.ShareFile(ctx, job.FileID, job.StorageType, storage.Share{Viewer: viewers}, job.Actor.ID)
	if err != nil {
		logger.L.Warn("auto-share for mentioned users failed",
			zap.String("fileID", job.FileID),
			zap.Strings("viewers", viewers),
			zap.Error(err))
	}
}

// 对有权限但未订阅的用户创建文件级订阅
func (s *MentionService) subscribeAccessible(job MentionJob, users []MentionedUser) {
	for _, u := range users {
		if !u.HasAccess {
			continue
		}
		sub, err := s.subs.Find(job.FileID, u.UserID, "")
		if err != nil {
			logger.L.Warn("subscription lookup failed", zap.Uint("userID", u.UserID), zap.Error(err))
			continue
		}
		if sub != nil {
			continue
		}
		// 空scope表示订阅整个文件
		err = s.subs.Create(&model.Subscription{
			FileID: job.FileID,
			UserID: u.UserID,
			Scope:  "[]",
		})
		if err != nil {
			logger.L.Warn("auto-subscribe failed", zap.Uint("userID", u.UserID), zap.Error(err))
		}
	}
}

// 写提及缓存与审计记录 并对除发起者之外的每个被提及用户发通知
func (s *MentionService) recordAndNotify(ctx context.Context, job MentionJob, users []MentionedUser) {
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	if err := s.storage.UpdateMentionCache(ctx, job.FileID, job.StorageType, ids); err != nil {
		logger.L.Warn("mention cache update failed", zap.String("fileID", job.FileID), zap.Error(err))
	}

	now := time.Now()
	for _, u := range users {
		err := s.logs.Create(&model.MentionLog{
			FileID:       job.FileID,
			StorageType:  job.StorageType,
			MentionedID:  u.UserID,
			ActorID:      job.Actor.ID,
			Device:       job.Actor.Device,
			Org:          job.Actor.Org,
			AnnotationID: job.AnnotationID,
			CommentID:    job.CommentID,
		})
		if err != nil {
			logger.L.Warn("mention audit log failed", zap.Uint("userID", u.UserID), zap.Error(err))
		}

		// 自己提及自己不通知
		if u.UserID == job.Actor.ID {
			continue
		}
		s.notifier.Dispatch(nil, event.Lifecycle{
			Name:         event.Mention,
			FileID:       job.FileID,
			StorageType:  job.StorageType,
			ActorID:      job.Actor.ID,
			AnnotationID: job.AnnotationID,
			CommentID:    job.CommentID,
			TargetUserID: u.UserID,
			NewText:      job.NewText,
			Timestamp:    now,
		})
	}
}

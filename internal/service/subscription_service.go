package service

import (
	"context"

	"go-annotation-service/internal/model"
	"go-annotation-service/internal/repository"
	"go-annotation-service/internal/storage"
	"go-annotation-service/internal/worker"
	"go-annotation-service/pkg/logger"

	"go.uber.org/zap"
)

// SubscriptionService 参与行为产生的订阅
// 完整权限用户发言即订阅整个文件 token访客只按参与的批注追加
type SubscriptionService struct {
	subs    *repository.SubscriptionRepository
	storage storage.Client
	pool    *worker.Pool
}

func NewSubscriptionService(
	subs *repository.SubscriptionRepository,
	storageClient storage.Client,
	pool *worker.Pool,
) *SubscriptionService {
	return &SubscriptionService{subs: subs, storage: storageClient, pool: pool}
}

// SubscribeParticipant 发言者订阅所参与的内容 请求应答之后在工作池上执行
func (s *SubscriptionService) SubscribeParticipant(rc RequestContext, annotationID string) {
	actor := rc.Actor
	err := s.pool.Submit(func() {
		if actor.TokenScoped {
			s.appendTokenScope(rc, actor, annotationID)
			return
		}
		s.subscribeWholeFile(rc, actor)
	})
	if err != nil {
		logger.L.Warn("subscription update dropped, worker queue full",
			zap.String("fileID", rc.FileID), zap.Uint("userID", actor.ID))
	}
}

// token订阅追加语义 其他访客会话加宽过的scope绝不缩窄
func (s *SubscriptionService) appendTokenScope(rc RequestContext, actor Actor, annotationID string) {
	if err := s.subs.AppendScope(rc.FileID, actor.ID, actor.Token, []string{annotationID}); err != nil {
		logger.L.Warn("token subscription append failed",
			zap.String("fileID", rc.FileID), zap.Uint("userID", actor.ID), zap.Error(err))
		return
	}
	s.notifyStorage(rc, actor, []string{annotationID}, "append")
}

func (s *SubscriptionService) subscribeWholeFile(rc RequestContext, actor Actor) {
	sub, err := s.subs.Find(rc.FileID, actor.ID, "")
	if err != nil {
		logger.L.Warn("subscription lookup failed",
			zap.String("fileID", rc.FileID), zap.Uint("userID", actor.ID), zap.Error(err))
		return
	}
	switch {
	case sub == nil:
		// 空scope表示订阅整个文件
		if err := s.subs.Create(&model.Subscription{FileID: rc.FileID, UserID: actor.ID, Scope: "[]"}); err != nil {
			logger.L.Warn("subscription create failed",
				zap.String("fileID", rc.FileID), zap.Uint("userID", actor.ID), zap.Error(err))
			return
		}
	case sub.Scope != "[]" && sub.Scope != "":
		// 已有窄scope的完整权限用户 参与后加宽为整个文件
		if err := s.subs.RewriteScope(rc.FileID, actor.ID, []string{}); err != nil {
			logger.L.Warn("subscription rewrite failed",
				zap.String("fileID", rc.FileID), zap.Uint("userID", actor.ID), zap.Error(err))
			return
		}
	default:
		return
	}
	s.notifyStorage(rc, actor, []string{}, "rewrite")
}

// 同步给存储后端协作方 即发即弃
func (s *SubscriptionService) notifyStorage(rc RequestContext, actor Actor, scope []string, scopeUpdate string) {
	err := s.storage.AddSubscription(context.Background(), rc.FileID, actor.ID, scope, scopeUpdate, actor.Token)
	if err != nil {
		logger.L.Warn("storage subscription sync failed",
			zap.String("fileID", rc.FileID), zap.Uint("userID", actor.ID), zap.Error(err))
	}
}

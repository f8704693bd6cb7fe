package service

import (
	"encoding/json"
	"fmt"
	"time"

	"go-annotation-service/internal/event"
	"go-annotation-service/internal/model"
	"go-annotation-service/internal/repository"
	"go-annotation-service/pkg/apperr"
	"go-annotation-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestContext 经过访问门禁后的请求上下文
type RequestContext struct {
	FileID      string
	StorageType string
	Actor       Actor
}

// AnnotationService 批注/评论生命周期的唯一写入方
type AnnotationService struct {
	annotations   *repository.AnnotationRepository
	comments      *repository.CommentRepository
	notifier      *NotificationService
	mentions      *MentionService
	subscriptions *SubscriptionService
}

func NewAnnotationService(
	annotations *repository.AnnotationRepository,
	comments *repository.CommentRepository,
	notifier *NotificationService,
	mentions *MentionService,
	subscriptions *SubscriptionService,
) *AnnotationService {
	return &AnnotationService{
		annotations:   annotations,
		comments:      comments,
		notifier:      notifier,
		mentions:      mentions,
		subscriptions: subscriptions,
	}
}

type ThreadCreateRequest struct {
	Title         string   `json:"title"`
	Text          string   `json:"text" binding:"required"`
	SpaceID       string   `json:"space_id"`
	ViewportID    string   `json:"viewport_id"`
	EntityHandles []string `json:"entity_handles"`
	Loc           string   `json:"loc"`
}

type MarkupCreateRequest struct {
	MarkupType    string   `json:"markup_type" binding:"required"`
	Text          string   `json:"text"`
	Payload       string   `json:"payload"`
	SpaceID       string   `json:"space_id"`
	ViewportID    string   `json:"viewport_id"`
	EntityHandles []string `json:"entity_handles"`
}

type AnnotationUpdateRequest struct {
	Title          *string  `json:"title"`
	State          *string  `json:"state"`
	AddEntities    []string `json:"add_entities"`
	RemoveEntities []string `json:"remove_entities"`
	SpaceID        *string  `json:"space_id"`
	ViewportID     *string  `json:"viewport_id"`
}

type CommentCreateRequest struct {
	Text string `json:"text" binding:"required"`
	Loc  string `json:"loc"`
}

type CommentUpdateRequest struct {
	Text string `json:"text" binding:"required"`
}

func encodeHandles(handles []string) string {
	if len(handles) == 0 {
		return "[]"
	}
	data, err := json.Marshal(handles)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeHandles(raw string) []string {
	if raw == "" {
		return nil
	}
	var handles []string
	if err := json.Unmarshal([]byte(raw), &handles); err != nil {
		logger.L.Warn("corrupted entity handle list", zap.Error(err))
		return nil
	}
	return handles
}

// CreateThread 创建评论线程 根评论与批注同时落库
func (s *AnnotationService) CreateThread(rc RequestContext, req ThreadCreateRequest) (*model.Annotation, error) {
	now := time.Now()
	annotation := &model.Annotation{
		FileID:         rc.FileID,
		AnnotationID:   uuid.NewString(),
		Kind:           model.KindThread,
		State:          model.StateActive,
		AuthorID:       rc.Actor.ID,
		Device:         rc.Actor.Device,
		Title:          req.Title,
		EntityHandles:  encodeHandles(req.EntityHandles),
		SpaceID:        req.SpaceID,
		ViewportID:     req.ViewportID,
		StorageType:    rc.StorageType,
		LastActivityAt: now,
	}
	if err := s.annotations.Create(annotation); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	root := &model.Comment{
		FileID:         rc.FileID,
		AnnotationID:   annotation.AnnotationID,
		CommentID:      model.RootCommentID,
		AuthorID:       rc.Actor.ID,
		Device:         rc.Actor.Device,
		Text:           req.Text,
		State:          model.StateActive,
		Loc:            req.Loc,
		LastActivityAt: now,
	}
	if err := s.comments.Create(root); err != nil {
		return nil, fmt.Errorf("failed to create root comment: %w", err)
	}

	// 应答在落库后即可返回 通知与提及处理在请求路径之外
	s.notifier.Dispatch(
		&event.Broadcast{
			FileID:             rc.FileID,
			Timestamp:          now,
			AnnotationID:       annotation.AnnotationID,
			CommentID:          model.RootCommentID,
			ActorID:            rc.Actor.ID,
			AuthorID:           annotation.AuthorID,
			ChangeType:         event.ChangeAdd,
			SessionIDToExclude: rc.Actor.SessionID,
		},
		event.Lifecycle{
			Name:         event.NewCommentThread,
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			ActorID:      rc.Actor.ID,
			AnnotationID: annotation.AnnotationID,
			NewTitle:     req.Title,
			NewText:      req.Text,
			Timestamp:    now,
		},
	)
	s.mentions.Enqueue(MentionJob{
		FileID:       rc.FileID,
		StorageType:  rc.StorageType,
		Actor:        rc.Actor,
		AnnotationID: annotation.AnnotationID,
		CommentID:    model.RootCommentID,
		NewText:      req.Text,
	})
	s.subscriptions.SubscribeParticipant(rc, annotation.AnnotationID)

	return annotation, nil
}

// CreateMarkup 创建标记（图章/实体标签/语音/图片等）
func (s *AnnotationService) CreateMarkup(rc RequestContext, req MarkupCreateRequest) (*model.Annotation, error) {
	now := time.Now()
	annotation := &model.Annotation{
		FileID:         rc.FileID,
		AnnotationID:   uuid.NewString(),
		Kind:           model.KindMarkup,
		State:          model.StateActive,
		AuthorID:       rc.Actor.ID,
		Device:         rc.Actor.Device,
		EntityHandles:  encodeHandles(req.EntityHandles),
		SpaceID:        req.SpaceID,
		ViewportID:     req.ViewportID,
		MarkupType:     req.MarkupType,
		Payload:        req.Payload,
		StorageType:    rc.StorageType,
		LastActivityAt: now,
	}
	if err := s.annotations.Create(annotation); err != nil {
		return nil, fmt.Errorf("failed to create markup: %w", err)
	}

	if req.Text != "" {
		root := &model.Comment{
			FileID:         rc.FileID,
			AnnotationID:   annotation.AnnotationID,
			CommentID:      model.RootCommentID,
			AuthorID:       rc.Actor.ID,
			Device:         rc.Actor.Device,
			Text:           req.Text,
			State:          model.StateActive,
			LastActivityAt: now,
		}
		if err := s.comments.Create(root); err != nil {
			return nil, fmt.Errorf("failed to create root comment: %w", err)
		}
	}

	s.notifier.Dispatch(
		&event.Broadcast{
			FileID:             rc.FileID,
			Timestamp:          now,
			AnnotationID:       annotation.AnnotationID,
			ActorID:            rc.Actor.ID,
			AuthorID:           annotation.AuthorID,
			ChangeType:         event.ChangeAdd,
			SessionIDToExclude: rc.Actor.SessionID,
		},
		event.Lifecycle{
			Name:         event.NewMarkup,
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			ActorID:      rc.Actor.ID,
			AnnotationID: annotation.AnnotationID,
			NewText:      req.Text,
			Timestamp:    now,
		},
	)
	if req.Text != "" {
		s.mentions.Enqueue(MentionJob{
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			Actor:        rc.Actor,
			AnnotationID: annotation.AnnotationID,
			CommentID:    model.RootCommentID,
			NewText:      req.Text,
		})
	}
	s.subscriptions.SubscribeParticipant(rc, annotation.AnnotationID)

	return annotation, nil
}

// GetAnnotation 单个批注 已删除的视为不存在
func (s *AnnotationService) GetAnnotation(rc RequestContext, annotationID string) (*model.Annotation, error) {
	annotation, err := s.annotations.FindByAnnotationID(rc.FileID, annotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation: %w", err)
	}
	if annotation == nil || annotation.State == model.StateDeleted {
		return nil, apperr.NotFound("annotation not found or deleted")
	}
	return annotation, nil
}

// ListAnnotations 文件的全部批注 升序 附带活动水位供增量轮询
func (s *AnnotationService) ListAnnotations(fileID string, since *time.Time) ([]model.Annotation, time.Time, error) {
	annotations, err := s.annotations.FindByFile(fileID, since)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to list annotations: %w", err)
	}
	var watermark time.Time
	for _, a := range annotations {
		if a.LastActivityAt.After(watermark) {
			watermark = a.LastActivityAt
		}
	}
	return annotations, watermark, nil
}

// UpdateAnnotation 状态转移与字段级更新
func (s *AnnotationService) UpdateAnnotation(rc RequestContext, annotationID string, req AnnotationUpdateRequest) (*model.Annotation, error) {
	annotation, err := s.annotations.FindByAnnotationID(rc.FileID, annotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation: %w", err)
	}

	patch := &AnnotationPatch{
		Title:          req.Title,
		AddEntities:    req.AddEntities,
		RemoveEntities: req.RemoveEntities,
		SpaceID:        req.SpaceID,
		ViewportID:     req.ViewportID,
	}
	if req.State != nil {
		state := model.AnnotationState(*req.State)
		patch.State = &state
	}

	// 放宽的协作编辑检查 只在需要时查询
	hasCommented := false
	if annotation != nil && patch.touchesStructure() && annotation.AuthorID != rc.Actor.ID {
		hasCommented, err = s.comments.ExistsByAuthor(annotationID, rc.Actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check comment authorship: %w", err)
		}
	}

	if appErr := AuthorizeUpdate(annotation, patch, rc.Actor, hasCommented); appErr != nil {
		return nil, appErr
	}

	now := time.Now()
	fields := map[string]interface{}{"last_activity_at": now}
	var events []event.Lifecycle

	oldState := annotation.State
	if patch.State != nil && *patch.State != oldState {
		fields["state"] = *patch.State
		if name := stateEventName(annotation.Kind, oldState, *patch.State); name != "" {
			events = append(events, event.Lifecycle{
				Name:         name,
				FileID:       rc.FileID,
				StorageType:  rc.StorageType,
				ActorID:      rc.Actor.ID,
				AnnotationID: annotationID,
				Timestamp:    now,
			})
		}
		annotation.State = *patch.State
	}

	if patch.Title != nil && *patch.Title != annotation.Title {
		fields["title"] = *patch.Title
		annotation.Title = *patch.Title
	}
	if patch.SpaceID != nil {
		fields["space_id"] = *patch.SpaceID
		annotation.SpaceID = *patch.SpaceID
	}
	if patch.ViewportID != nil {
		fields["viewport_id"] = *patch.ViewportID
		annotation.ViewportID = *patch.ViewportID
	}

	if len(patch.AddEntities) > 0 || len(patch.RemoveEntities) > 0 {
		handles := decodeHandles(annotation.EntityHandles)
		handles = applyEntityDelta(handles, patch.AddEntities, patch.RemoveEntities)
		annotation.EntityHandles = encodeHandles(handles)
		fields["entity_handles"] = annotation.EntityHandles
		events = append(events, event.Lifecycle{
			Name:            event.EntitiesChanged,
			FileID:          rc.FileID,
			StorageType:     rc.StorageType,
			ActorID:         rc.Actor.ID,
			AnnotationID:    annotationID,
			EntitiesAdded:   patch.AddEntities,
			EntitiesRemoved: patch.RemoveEntities,
			Timestamp:       now,
		})
	}

	if err := s.annotations.UpdateFields(rc.FileID, annotationID, fields); err != nil {
		return nil, fmt.Errorf("failed to update annotation: %w", err)
	}
	annotation.LastActivityAt = now

	s.notifier.Dispatch(&event.Broadcast{
		FileID:             rc.FileID,
		Timestamp:          now,
		AnnotationID:       annotationID,
		ActorID:            rc.Actor.ID,
		AuthorID:           annotation.AuthorID,
		ChangeType:         event.ChangeUpdate,
		SessionIDToExclude: rc.Actor.SessionID,
	}, events...)

	return annotation, nil
}

// DeleteAnnotation 作者限定 携带客户端已知时间戳做脏写保护
func (s *AnnotationService) DeleteAnnotation(rc RequestContext, annotationID string, knownActivity time.Time) error {
	annotation, err := s.annotations.FindByAnnotationID(rc.FileID, annotationID)
	if err != nil {
		return fmt.Errorf("failed to load annotation: %w", err)
	}
	if appErr := AuthorizeDelete(annotation, rc.Actor); appErr != nil {
		return appErr
	}
	if annotation.LastActivityAt.After(knownActivity) {
		return apperr.Conflict("annotation changed since the client last saw it")
	}

	now := time.Now()
	changed, err := s.annotations.MarkDeleted(rc.FileID, annotationID, knownActivity, now)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	if !changed {
		// 条件更新未命中 说明其他写入赢了
		return apperr.Conflict("annotation changed since the client last saw it")
	}
	if err := s.comments.MarkAllDeleted(annotationID, now); err != nil {
		logger.L.Error("failed to cascade comment deletion",
			zap.String("annotationID", annotationID), zap.Error(err))
	}

	name := event.ThreadDeleted
	if annotation.Kind == model.KindMarkup {
		name = event.MarkupDeleted
	}
	s.notifier.Dispatch(
		&event.Broadcast{
			FileID:             rc.FileID,
			Timestamp:          now,
			AnnotationID:       annotationID,
			ActorID:            rc.Actor.ID,
			AuthorID:           annotation.AuthorID,
			ChangeType:         event.ChangeDelete,
			SessionIDToExclude: rc.Actor.SessionID,
		},
		event.Lifecycle{
			Name:         name,
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			ActorID:      rc.Actor.ID,
			AnnotationID: annotationID,
			Timestamp:    now,
		},
	)
	return nil
}

// AddComment 在非删除、非归档的批注下追加评论
func (s *AnnotationService) AddComment(rc RequestContext, annotationID string, req CommentCreateRequest) (*model.Comment, error) {
	annotation, err := s.annotations.FindByAnnotationID(rc.FileID, annotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation: %w", err)
	}
	if appErr := AuthorizeAddComment(annotation); appErr != nil {
		return nil, appErr
	}

	now := time.Now()
	comment := &model.Comment{
		FileID:         rc.FileID,
		AnnotationID:   annotationID,
		CommentID:      uuid.NewString(),
		AuthorID:       rc.Actor.ID,
		Device:         rc.Actor.Device,
		Text:           req.Text,
		State:          model.StateActive,
		Loc:            req.Loc,
		LastActivityAt: now,
	}
	if err := s.comments.Create(comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	// 子评论变化推进批注活动时间
	if err := s.annotations.TouchActivity(rc.FileID, annotationID, now); err != nil {
		logger.L.Error("failed to bump annotation activity",
			zap.String("annotationID", annotationID), zap.Error(err))
	}

	s.notifier.Dispatch(
		&event.Broadcast{
			FileID:             rc.FileID,
			Timestamp:          now,
			AnnotationID:       annotationID,
			CommentID:          comment.CommentID,
			ActorID:            rc.Actor.ID,
			AuthorID:           comment.AuthorID,
			ChangeType:         event.ChangeAdd,
			SessionIDToExclude: rc.Actor.SessionID,
		},
		event.Lifecycle{
			Name:         event.NewComment,
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			ActorID:      rc.Actor.ID,
			AnnotationID: annotationID,
			CommentID:    comment.CommentID,
			NewText:      req.Text,
			Timestamp:    now,
		},
	)
	s.mentions.Enqueue(MentionJob{
		FileID:       rc.FileID,
		StorageType:  rc.StorageType,
		Actor:        rc.Actor,
		AnnotationID: annotationID,
		CommentID:    comment.CommentID,
		NewText:      req.Text,
	})
	s.subscriptions.SubscribeParticipant(rc, annotationID)

	return comment, nil
}

// ListComments 批注下的评论 升序 水位取所有扫描记录的最大活动时间
func (s *AnnotationService) ListComments(rc RequestContext, annotationID string) ([]model.Comment, time.Time, error) {
	annotation, err := s.annotations.FindByAnnotationID(rc.FileID, annotationID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load annotation: %w", err)
	}
	if annotation == nil {
		return nil, time.Time{}, apperr.NotFound("annotation not found")
	}
	comments, err := s.comments.FindByAnnotation(annotationID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to list comments: %w", err)
	}
	watermark := annotation.LastActivityAt
	for _, c := range comments {
		if c.LastActivityAt.After(watermark) {
			watermark = c.LastActivityAt
		}
	}
	return comments, watermark, nil
}

// UpdateComment 评论文本只能由其作者修改
func (s *AnnotationService) UpdateComment(rc RequestContext, annotationID, commentID string, req CommentUpdateRequest) (*model.Comment, error) {
	annotation, err := s.annotations.FindByAnnotationID(rc.FileID, annotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation: %w", err)
	}
	if annotation == nil || annotation.State == model.StateDeleted {
		return nil, apperr.NotFound("annotation not found or deleted")
	}

	comment, err := s.comments.FindByCommentID(annotationID, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comment: %w", err)
	}
	if appErr := AuthorizeCommentEdit(comment, rc.Actor); appErr != nil {
		return nil, appErr
	}

	oldText := comment.Text
	now := time.Now()
	if err := s.comments.UpdateText(annotationID, commentID, req.Text, now); err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}
	comment.Text = req.Text
	comment.LastActivityAt = now
	if err := s.annotations.TouchActivity(rc.FileID, annotationID, now); err != nil {
		logger.L.Error("failed to bump annotation activity",
			zap.String("annotationID", annotationID), zap.Error(err))
	}

	s.notifier.Dispatch(
		&event.Broadcast{
			FileID:             rc.FileID,
			Timestamp:          now,
			AnnotationID:       annotationID,
			CommentID:          commentID,
			ActorID:            rc.Actor.ID,
			AuthorID:           comment.AuthorID,
			ChangeType:         event.ChangeUpdate,
			SessionIDToExclude: rc.Actor.SessionID,
		},
		event.Lifecycle{
			Name:         event.ModifiedComment,
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			ActorID:      rc.Actor.ID,
			AnnotationID: annotationID,
			CommentID:    commentID,
			OldText:      oldText,
			NewText:      req.Text,
			Timestamp:    now,
		},
	)
	// 编辑只处理新引入的提及
	s.mentions.Enqueue(MentionJob{
		FileID:       rc.FileID,
		StorageType:  rc.StorageType,
		Actor:        rc.Actor,
		AnnotationID: annotationID,
		CommentID:    commentID,
		OldText:      oldText,
		NewText:      req.Text,
	})

	return comment, nil
}

// DeleteComment 作者限定 根评论的删除级联删除整个批注
func (s *AnnotationService) DeleteComment(rc RequestContext, annotationID, commentID string, knownActivity time.Time) error {
	comment, err := s.comments.FindByCommentID(annotationID, commentID)
	if err != nil {
		return fmt.Errorf("failed to load comment: %w", err)
	}
	if appErr := AuthorizeCommentEdit(comment, rc.Actor); appErr != nil {
		return appErr
	}
	if comment.LastActivityAt.After(knownActivity) {
		return apperr.Conflict("comment changed since the client last saw it")
	}

	if comment.IsRoot() {
		// 根评论与批注逻辑合并 删根即删整个批注
		return s.DeleteAnnotation(rc, annotationID, knownActivity)
	}

	now := time.Now()
	changed, err := s.comments.MarkDeleted(annotationID, commentID, knownActivity, now)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	if !changed {
		return apperr.Conflict("comment changed since the client last saw it")
	}
	if err := s.annotations.TouchActivity(rc.FileID, annotationID, now); err != nil {
		logger.L.Error("failed to bump annotation activity",
			zap.String("annotationID", annotationID), zap.Error(err))
	}

	s.notifier.Dispatch(
		&event.Broadcast{
			FileID:             rc.FileID,
			Timestamp:          now,
			AnnotationID:       annotationID,
			CommentID:          commentID,
			ActorID:            rc.Actor.ID,
			AuthorID:           comment.AuthorID,
			ChangeType:         event.ChangeDelete,
			SessionIDToExclude: rc.Actor.SessionID,
		},
		event.Lifecycle{
			Name:         event.DeletedComment,
			FileID:       rc.FileID,
			StorageType:  rc.StorageType,
			ActorID:      rc.Actor.ID,
			AnnotationID: annotationID,
			CommentID:    commentID,
			OldText:      comment.Text,
			Timestamp:    now,
		},
	)
	return nil
}

// 状态转移对应的生命周期事件名 无对应事件时返回空串
func stateEventName(kind model.AnnotationKind, from, to model.AnnotationState) string {
	switch {
	case to == model.StateResolved && kind == model.KindThread:
		return event.ThreadResolved
	case to == model.StateResolved && kind == model.KindMarkup:
		return event.MarkupResolved
	case from == model.StateResolved && to == model.StateActive && kind == model.KindThread:
		return event.ThreadReopened
	}
	return ""
}

// 实体句柄增删 保序去重
func applyEntityDelta(handles, add, remove []string) []string {
	removed := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		removed[r] = struct{}{}
	}
	existing := make(map[string]struct{}, len(handles))
	result := make([]string, 0, len(handles)+len(add))
	for _, h := range handles {
		if _, drop := removed[h]; drop {
			continue
		}
		existing[h] = struct{}{}
		result = append(result, h)
	}
	for _, a := range add {
		if _, drop := removed[a]; drop {
			continue
		}
		if _, dup := existing[a]; dup {
			continue
		}
		existing[a] = struct{}{}
		result = append(result, a)
	}
	return result
}

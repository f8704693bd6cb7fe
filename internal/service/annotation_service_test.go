package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go-annotation-service/internal/event"
	"go-annotation-service/internal/model"
	"go-annotation-service/internal/repository"
	"go-annotation-service/internal/storage"
	"go-annotation-service/internal/worker"
	"go-annotation-service/pkg/apperr"
	"go-annotation-service/pkg/config"
	"go-annotation-service/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 录制生命周期事件 供断言
type recordingEmitter struct {
	mu     sync.Mutex
	events []event.Lifecycle
}

func (e *recordingEmitter) Emit(ev event.Lifecycle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		names = append(names, ev.Name)
	}
	return names
}

func (e *recordingEmitter) byName(name string) []event.Lifecycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []event.Lifecycle
	for _, ev := range e.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type recordingBroadcaster struct {
	mu         sync.Mutex
	broadcasts []event.Broadcast
}

func (b *recordingBroadcaster) BroadcastToFile(broadcast *event.Broadcast) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, *broadcast)
	return nil
}

// 可编排的存储协作方
type fakeStorageClient struct {
	mu          sync.Mutex
	info        *storage.FileInfo
	infoErr     error
	shares      []storage.Share
	cacheIDs    [][]uint
	subscribeTo []uint
}

func (f *fakeStorageClient) GetTrashStatus(ctx context.Context, fileID, storageType string) (*storage.TrashStatus, error) {
	return &storage.TrashStatus{Status: storage.StatusOK}, nil
}

func (f *fakeStorageClient) GetInfo(ctx context.Context, fileID, storageType string) (*storage.FileInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if f.info != nil {
		return f.info, nil
	}
	return &storage.FileInfo{Status: storage.StatusOK}, nil
}

func (f *fakeStorageClient) ShareFile(ctx context.Context, fileID, storageType string, share storage.Share, actorID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shares = append(f.shares, share)
	return nil
}

func (f *fakeStorageClient) AddSubscription(ctx context.Context, fileID string, userID uint, scope []string, scopeUpdate, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeTo = append(f.subscribeTo, userID)
	return nil
}

func (f *fakeStorageClient) UpdateMentionCache(ctx context.Context, fileID, storageType string, userIDs []uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheIDs = append(f.cacheIDs, userIDs)
	return nil
}

func (f *fakeStorageClient) VerifyOwnership(ctx context.Context, fileID string, userID uint) error {
	return nil
}

type serviceFixture struct {
	service  *AnnotationService
	mentions *MentionService
	emitter  *recordingEmitter
	hub      *recordingBroadcaster
	storage  *fakeStorageClient
	pool     *worker.Pool
	users    *repository.UserRepository
	subs     *repository.SubscriptionRepository
	logs     *repository.MentionLogRepository
	comments *repository.CommentRepository
}

// 等待池中在途的扇出任务结束后再断言
func (fx *serviceFixture) drain() {
	fx.pool.Stop()
}

func setupAnnotationService(t *testing.T) *serviceFixture {
	if err := config.InitTest(); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if err := db.InitDB(); err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	cleanupServiceTables(t)

	emitter := &recordingEmitter{}
	hub := &recordingBroadcaster{}
	storageClient := &fakeStorageClient{}
	pool := worker.NewPool(2, 64)

	userRepo := repository.NewUserRepository()
	subRepo := repository.NewSubscriptionRepository()
	logRepo := repository.NewMentionLogRepository()
	annotationRepo := repository.NewAnnotationRepository()
	commentRepo := repository.NewCommentRepository()

	notifier := NewNotificationService(hub, emitter, pool)
	mentions := NewMentionService(userRepo, subRepo, logRepo, storageClient, notifier, pool)
	subscriptions := NewSubscriptionService(subRepo, storageClient, pool)
	svc := NewAnnotationService(annotationRepo, commentRepo, notifier, mentions, subscriptions)

	t.Cleanup(pool.Stop)

	return &serviceFixture{
		service:  svc,
		mentions: mentions,
		emitter:  emitter,
		hub:      hub,
		storage:  storageClient,
		pool:     pool,
		users:    userRepo,
		subs:     subRepo,
		logs:     logRepo,
		comments: commentRepo,
	}
}

// 帮助函数：清空测试涉及的所有表
func cleanupServiceTables(t *testing.T) {
	tables := []interface{}{
		&model.Annotation{},
		&model.Comment{},
		&model.Subscription{},
		&model.MentionLog{},
		&model.User{},
	}
	for _, table := range tables {
		if err := db.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(table).Error; err != nil {
			t.Logf("Failed to cleanup table %T: %v", table, err)
		}
	}
}

func testRequestContext(actorID uint) RequestContext {
	return RequestContext{
		FileID:      "file1",
		StorageType: "drive",
		Actor:       Actor{ID: actorID, SessionID: "sess1", Device: "web"},
	}
}

func TestAnnotationService_CreateThread(t *testing.T) {
	fx := setupAnnotationService(t)
	rc := testRequestContext(1)

	annotation, err := fx.service.CreateThread(rc, ThreadCreateRequest{
		Title:         "Check this wall",
		Text:          "looks off to me",
		EntityHandles: []string{"h1", "h2"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, annotation.AnnotationID)
	assert.Equal(t, model.KindThread, annotation.Kind)
	assert.Equal(t, model.StateActive, annotation.State)

	// 根评论随线程一起创建
	root, err := fx.comments.FindByCommentID(annotation.AnnotationID, model.RootCommentID)
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "looks off to me", root.Text)

	annotations, watermark, err := fx.service.ListAnnotations(rc.FileID, nil)
	require.NoError(t, err)
	require.Len(t, annotations, 1)
	assert.False(t, watermark.IsZero())

	fx.drain()
	assert.Contains(t, fx.emitter.names(), event.NewCommentThread)
	require.Len(t, fx.hub.broadcasts, 1)
	assert.Equal(t, event.ChangeAdd, fx.hub.broadcasts[0].ChangeType)
	assert.Equal(t, "sess1", fx.hub.broadcasts[0].SessionIDToExclude)
}

func TestAnnotationService_CreateMarkupWithoutText(t *testing.T) {
	fx := setupAnnotationService(t)
	rc := testRequestContext(1)

	annotation, err := fx.service.CreateMarkup(rc, MarkupCreateRequest{
		MarkupType: "stamp",
		Payload:    `{"x":1,"y":2}`,
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindMarkup, annotation.Kind)

	// 无文本的标记没有根评论
	root, err := fx.comments.FindByCommentID(annotation.AnnotationID, model.RootCommentID)
	require.NoError(t, err)
	assert.Nil(t, root)

	fx.drain()
	assert.Contains(t, fx.emitter.names(), event.NewMarkup)
}

func TestAnnotationService_TokenActorRules(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)

	guest := testRequestContext(2)
	guest.Actor.TokenScoped = true

	// 口令/链接访问者可以追加评论
	comment, err := fx.service.AddComment(guest, annotation.AnnotationID, CommentCreateRequest{Text: "from a guest"})
	require.NoError(t, err)
	assert.Equal(t, uint(2), comment.AuthorID)

	// 但不能动别人的标题
	title := "hijacked"
	_, err = fx.service.UpdateAnnotation(guest, annotation.AnnotationID, AnnotationUpdateRequest{Title: &title})
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstForbidden))
}

func TestAnnotationService_ResolvedRejectsComments(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)

	// 非作者也可以归档
	resolver := testRequestContext(2)
	state := string(model.StateResolved)
	updated, err := fx.service.UpdateAnnotation(resolver, annotation.AnnotationID, AnnotationUpdateRequest{State: &state})
	require.NoError(t, err)
	assert.Equal(t, model.StateResolved, updated.State)

	_, err = fx.service.AddComment(author, annotation.AnnotationID, CommentCreateRequest{Text: "too late"})
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstConflict))

	// 重新激活并顺带改标题
	active := string(model.StateActive)
	title := "still open"
	updated, err = fx.service.UpdateAnnotation(author, annotation.AnnotationID, AnnotationUpdateRequest{State: &active, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, updated.State)
	assert.Equal(t, "still open", updated.Title)

	fx.drain()
	names := fx.emitter.names()
	assert.Contains(t, names, event.ThreadResolved)
	assert.Contains(t, names, event.ThreadReopened)
}

func TestAnnotationService_StaleDeleteConflict(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)
	createdAt := annotation.LastActivityAt

	// 追加评论推进活动时间
	time.Sleep(10 * time.Millisecond)
	_, err = fx.service.AddComment(author, annotation.AnnotationID, CommentCreateRequest{Text: "more"})
	require.NoError(t, err)

	// 客户端拿着旧时间戳删除 必须失败
	err = fx.service.DeleteAnnotation(author, annotation.AnnotationID, createdAt)
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstConflict))

	// 拿着最新时间戳删除成功 子评论级联删除
	err = fx.service.DeleteAnnotation(author, annotation.AnnotationID, time.Now())
	require.NoError(t, err)

	comments, err := fx.comments.FindByAnnotation(annotation.AnnotationID)
	require.NoError(t, err)
	for _, c := range comments {
		assert.Equal(t, model.StateDeleted, c.State)
	}

	// 已删除的再删一次视为不存在
	err = fx.service.DeleteAnnotation(author, annotation.AnnotationID, time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstNotFound))
}

func TestAnnotationService_DeleteIsAuthorOnly(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)

	other := testRequestContext(2)
	err = fx.service.DeleteAnnotation(other, annotation.AnnotationID, time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstForbidden))
}

func TestAnnotationService_RootCommentDeleteCascades(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)

	err = fx.service.DeleteComment(author, annotation.AnnotationID, model.RootCommentID, time.Now())
	require.NoError(t, err)

	// 删根即删整个批注
	_, err = fx.service.AddComment(author, annotation.AnnotationID, CommentCreateRequest{Text: "ghost"})
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstNotFound))

	fx.drain()
	assert.Contains(t, fx.emitter.names(), event.ThreadDeleted)
}

func TestAnnotationService_UpdateCommentAuthorOnly(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)
	comment, err := fx.service.AddComment(author, annotation.AnnotationID, CommentCreateRequest{Text: "original"})
	require.NoError(t, err)

	other := testRequestContext(2)
	_, err = fx.service.UpdateComment(other, annotation.AnnotationID, comment.CommentID, CommentUpdateRequest{Text: "edited"})
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstForbidden))

	updated, err := fx.service.UpdateComment(author, annotation.AnnotationID, comment.CommentID, CommentUpdateRequest{Text: "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Text)

	fx.drain()
	modified := fx.emitter.byName(event.ModifiedComment)
	require.Len(t, modified, 1)
	assert.Equal(t, "original", modified[0].OldText)
	assert.Equal(t, "edited", modified[0].NewText)
}

func TestAnnotationService_EntityDelta(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{
		Title:         "title",
		Text:          "body",
		EntityHandles: []string{"h1", "h2"},
	})
	require.NoError(t, err)

	updated, err := fx.service.UpdateAnnotation(author, annotation.AnnotationID, AnnotationUpdateRequest{
		AddEntities:    []string{"h3"},
		RemoveEntities: []string{"h1"},
	})
	require.NoError(t, err)
	assert.Equal(t, `["h2","h3"]`, updated.EntityHandles)

	fx.drain()
	changed := fx.emitter.byName(event.EntitiesChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, []string{"h3"}, changed[0].EntitiesAdded)
	assert.Equal(t, []string{"h1"}, changed[0].EntitiesRemoved)
}

func TestAnnotationService_ParticipationSubscriptions(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)

	guest := testRequestContext(2)
	guest.Actor.Token = "tok1"
	guest.Actor.TokenScoped = true
	_, err = fx.service.AddComment(guest, annotation.AnnotationID, CommentCreateRequest{Text: "guest comment"})
	require.NoError(t, err)

	fx.drain()

	// 作者得到整个文件的订阅
	authorSub, err := fx.subs.Find("file1", 1, "")
	require.NoError(t, err)
	require.NotNil(t, authorSub)
	assert.Equal(t, "[]", authorSub.Scope)

	// token访客只订阅参与过的批注
	guestSub, err := fx.subs.Find("file1", 2, "tok1")
	require.NoError(t, err)
	require.NotNil(t, guestSub)
	assert.Equal(t, `["`+annotation.AnnotationID+`"]`, guestSub.Scope)
}

func TestAnnotationService_GetAnnotation(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{Title: "title", Text: "body"})
	require.NoError(t, err)

	got, err := fx.service.GetAnnotation(author, annotation.AnnotationID)
	require.NoError(t, err)
	assert.Equal(t, annotation.AnnotationID, got.AnnotationID)

	_, err = fx.service.GetAnnotation(author, "no-such")
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstNotFound))

	// 删除后视为不存在
	require.NoError(t, fx.service.DeleteAnnotation(author, annotation.AnnotationID, time.Now()))
	_, err = fx.service.GetAnnotation(author, annotation.AnnotationID)
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstNotFound))
}

func TestAnnotationService_CoEditorCanEditEntities(t *testing.T) {
	fx := setupAnnotationService(t)
	author := testRequestContext(1)

	annotation, err := fx.service.CreateThread(author, ThreadCreateRequest{
		Title:         "title",
		Text:          "body",
		EntityHandles: []string{"h1"},
	})
	require.NoError(t, err)

	// 没参与过的协作者不能动实体句柄
	other := testRequestContext(2)
	_, err = fx.service.UpdateAnnotation(other, annotation.AnnotationID, AnnotationUpdateRequest{AddEntities: []string{"h2"}})
	require.Error(t, err)
	assert.True(t, apperr.IsConstant(err, apperr.ConstForbidden))

	// 评论过之后就可以
	_, err = fx.service.AddComment(other, annotation.AnnotationID, CommentCreateRequest{Text: "my take"})
	require.NoError(t, err)
	updated, err := fx.service.UpdateAnnotation(other, annotation.AnnotationID, AnnotationUpdateRequest{AddEntities: []string{"h2"}})
	require.NoError(t, err)
	assert.Equal(t, `["h1","h2"]`, updated.EntityHandles)
}

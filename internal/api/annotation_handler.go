package api

import (
	"net/http"
	"strconv"
	"time"

	"go-annotation-service/internal/access"
	"go-annotation-service/internal/service"
	"go-annotation-service/pkg/apperr"
	"go-annotation-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 处理批注/评论相关的HTTP请求
type AnnotationHandler struct {
	gate     *access.Gate
	cache    *access.Cache
	service  *service.AnnotationService
	mentions *service.MentionService
}

func NewAnnotationHandler(gate *access.Gate, cache *access.Cache, annotationService *service.AnnotationService, mentionService *service.MentionService) *AnnotationHandler {
	return &AnnotationHandler{
		gate:     gate,
		cache:    cache,
		service:  annotationService,
		mentions: mentionService,
	}
}

// 从认证中间件与请求参数组装访问检查输入
func (h *AnnotationHandler) accessRequest(c *gin.Context) (access.Request, bool) {
	userIDValue, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return access.Request{}, false
	}
	userID, ok := userIDValue.(uint)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid userID in context"})
		return access.Request{}, false
	}
	sessionID := c.GetString("sessionID")

	return access.Request{
		FileID:       c.Param("file_id"),
		SessionID:    sessionID,
		UserID:       userID,
		Token:        c.Query("token"),
		StorageType:  c.DefaultQuery("storage_type", "drive"),
		LinkPassword: c.GetHeader("X-Link-Password"),
		LinkSession:  c.GetHeader("X-Link-Session"),
	}, true
}

// 门禁检查 拒绝时直接写应答
func (h *AnnotationHandler) authorize(c *gin.Context) (service.RequestContext, bool) {
	req, ok := h.accessRequest(c)
	if !ok {
		return service.RequestContext{}, false
	}

	verdict := h.gate.HasAccess(c.Request.Context(), req)
	if !verdict.Allowed() {
		appErr := verdict.Err
		if appErr == nil {
			appErr = apperr.FileNotAccessible("file is not accessible")
		}
		c.JSON(appErr.Code, appErr)
		return service.RequestContext{}, false
	}

	return service.RequestContext{
		FileID:      req.FileID,
		StorageType: verdict.StorageType,
		Actor: service.Actor{
			ID:          req.UserID,
			SessionID:   req.SessionID,
			Device:      c.GetHeader("X-Device"),
			Org:         c.GetHeader("X-Org"),
			Token:       req.Token,
			TokenScoped: verdict.TokenOnly(),
		},
	}, true
}

func respondError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Code >= http.StatusInternalServerError {
		logger.L.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(appErr.Code, appErr)
}

// 创建评论线程
func (h *AnnotationHandler) CreateThread(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	var req service.ThreadCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid request body: "+err.Error()))
		return
	}
	annotation, err := h.service.CreateThread(rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"annotation": annotation,
		"timestamp":  annotation.LastActivityAt.UnixMilli(),
	})
}

// 创建标记
func (h *AnnotationHandler) CreateMarkup(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	var req service.MarkupCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid request body: "+err.Error()))
		return
	}
	annotation, err := h.service.CreateMarkup(rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"annotation": annotation,
		"timestamp":  annotation.LastActivityAt.UnixMilli(),
	})
}

// 获取文件的批注列表 since为毫秒时间戳 用于增量轮询
func (h *AnnotationHandler) ListAnnotations(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid since parameter"))
			return
		}
		t := time.UnixMilli(ms)
		since = &t
	}

	annotations, watermark, err := h.service.ListAnnotations(rc.FileID, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"annotations": annotations,
		"timestamp":   watermark.UnixMilli(),
	})
}

// 获取单个批注
func (h *AnnotationHandler) GetAnnotation(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	annotation, err := h.service.GetAnnotation(rc, c.Param("annotation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"annotation": annotation,
		"timestamp":  annotation.LastActivityAt.UnixMilli(),
	})
}

// 更新批注（标题/状态/实体句柄/空间/视口）
func (h *AnnotationHandler) UpdateAnnotation(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	var req service.AnnotationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid request body: "+err.Error()))
		return
	}
	annotation, err := h.service.UpdateAnnotation(rc, c.Param("annotation_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"annotation": annotation,
		"timestamp":  annotation.LastActivityAt.UnixMilli(),
	})
}

// 删除批注 需携带客户端最后已知的活动时间戳
func (h *AnnotationHandler) DeleteAnnotation(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	knownActivity, ok := parseTimestamp(c)
	if !ok {
		return
	}
	if err := h.service.DeleteAnnotation(rc, c.Param("annotation_id"), knownActivity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "annotation deleted"})
}

// 追加评论
func (h *AnnotationHandler) AddComment(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	var req service.CommentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid request body: "+err.Error()))
		return
	}
	comment, err := h.service.AddComment(rc, c.Param("annotation_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"comment":   comment,
		"timestamp": comment.LastActivityAt.UnixMilli(),
	})
}

// 获取批注下的评论列表
func (h *AnnotationHandler) ListComments(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	comments, watermark, err := h.service.ListComments(rc, c.Param("annotation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"comments":  comments,
		"timestamp": watermark.UnixMilli(),
	})
}

// 修改评论文本
func (h *AnnotationHandler) UpdateComment(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	var req service.CommentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid request body: "+err.Error()))
		return
	}
	comment, err := h.service.UpdateComment(rc, c.Param("annotation_id"), c.Param("comment_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"comment":   comment,
		"timestamp": comment.LastActivityAt.UnixMilli(),
	})
}

// 删除评论 根评论的删除级联删除整个批注
func (h *AnnotationHandler) DeleteComment(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	knownActivity, ok := parseTimestamp(c)
	if !ok {
		return
	}
	if err := h.service.DeleteComment(rc, c.Param("annotation_id"), c.Param("comment_id"), knownActivity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "comment deleted"})
}

// 文件最近的提及审计记录
func (h *AnnotationHandler) ListMentions(c *gin.Context) {
	rc, ok := h.authorize(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid limit parameter"))
			return
		}
		limit = n
	}
	entries, err := h.mentions.RecentMentions(rc.FileID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mentions": entries})
}

// 分享关系变化后由外部触发 清掉该文件的全部访问结论
func (h *AnnotationHandler) ClearAccessCache(c *gin.Context) {
	fileID := c.Param("file_id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("fileId is required"))
		return
	}
	h.cache.ClearAll(c.Request.Context(), fileID)
	c.JSON(http.StatusOK, gin.H{"message": "access cache cleared"})
}

func parseTimestamp(c *gin.Context) (time.Time, bool) {
	raw := c.Query("timestamp")
	if raw == "" {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("timestamp is required"))
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperr.NotEnoughParams("invalid timestamp parameter"))
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

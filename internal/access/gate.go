package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-annotation-service/internal/model"
	"go-annotation-service/internal/storage"
	"go-annotation-service/pkg/apperr"
	"go-annotation-service/pkg/logger"
	"go-annotation-service/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// LinkStore 公共链接查询面 外部协作方拥有链接数据 核心只读
type LinkStore interface {
	FindByToken(token string) (*model.PublicLink, error)
}

// Request 一次访问检查的全部输入
type Request struct {
	FileID      string
	SessionID   string
	UserID      uint
	Token       string
	StorageType string
	// 链接口令 仅token路径使用
	LinkPassword string
	// 链接跨会话令牌 仅token路径使用
	LinkSession string
}

// Gate 编排缓存查询、存储后端回源和链接校验 产出归一化的访问结论
type Gate struct {
	cache   *Cache
	links   LinkStore
	storage storage.Client
}

func NewGate(cache *Cache, links LinkStore, storageClient storage.Client) *Gate {
	return &Gate{cache: cache, links: links, storage: storageClient}
}

// HasAccess 每个读写操作进入前的统一入口
func (g *Gate) HasAccess(ctx context.Context, req Request) Verdict {
	// 样例库无token时同步校验所有权 失败对本次请求致命 不进缓存
	if req.StorageType == storage.TypeSamples && req.Token == "" {
		if err := g.storage.VerifyOwnership(ctx, req.FileID, req.UserID); err != nil {
			logger.L.Warn("samples ownership check failed",
				zap.String("fileID", req.FileID), zap.Uint("userID", req.UserID), zap.Error(err))
			return Verdict{
				Status:      StatusError,
				StorageType: req.StorageType,
				Err:         apperr.CommentingNotAccessible("commenting is not accessible for this sample file"),
			}
		}
		return Verdict{Status: StatusOK, StorageType: req.StorageType}
	}

	// 参数缺失属于客户端错误 不缓存
	if req.SessionID == "" || req.FileID == "" {
		return Verdict{
			Status: StatusNoAccess,
			Err:    apperr.NotEnoughParams("sessionId and fileId are required"),
		}
	}

	if req.Token != "" {
		return g.hasTokenAccess(ctx, req)
	}

	// 缓存的OK/NO_ACCESS在TTL窗口内可信 ERROR定义为可重试 强制回源
	if entry, ok := g.cache.Get(ctx, req.FileID, req.SessionID, ""); ok && entry.Status != StatusError {
		v := Verdict{Status: entry.Status, StorageType: entry.StorageType}
		if entry.Status == StatusNoAccess {
			v.Err = apperr.FileNotAccessible("file is not accessible")
		}
		return v
	}

	return g.checkTrashStatus(ctx, req)
}

// 会话路径回源 调用存储后端的回收站状态接口
func (g *Gate) checkTrashStatus(ctx context.Context, req Request) (verdict Verdict) {
	// 任何意外故障都收敛为结构化的ERROR 不向上抛
	defer func() {
		if r := recover(); r != nil {
			logger.L.Error("panic during trash status check",
				zap.String("fileID", req.FileID), zap.Any("panic", r))
			g.cache.Set(ctx, req.FileID, req.SessionID, "", StatusError, req.StorageType)
			verdict = Verdict{
				Status:      StatusError,
				StorageType: req.StorageType,
				Err:         apperr.TrashStatusException(fmt.Sprintf("unexpected failure: %v", r)),
			}
		}
	}()

	ts, err := g.storage.GetTrashStatus(ctx, req.FileID, req.StorageType)
	if err != nil {
		logger.L.Warn("trash status request failed",
			zap.String("fileID", req.FileID), zap.String("storageType", req.StorageType), zap.Error(err))
		// ERROR也写缓存 TTL内的后续请求仍会回源重试
		g.cache.Set(ctx, req.FileID, req.SessionID, "", StatusError, req.StorageType)
		return Verdict{
			Status:      StatusError,
			StorageType: req.StorageType,
			Err:         apperr.UnableToGetTrashStatus("unable to get trash status"),
		}
	}

	if ts.IsDeleted || ts.Status != storage.StatusOK {
		g.cache.Set(ctx, req.FileID, req.SessionID, "", StatusNoAccess, req.StorageType)
		return Verdict{
			Status:      StatusNoAccess,
			StorageType: req.StorageType,
			Err:         apperr.FileNotAccessible("file is deleted or not accessible"),
		}
	}

	g.cache.Set(ctx, req.FileID, req.SessionID, "", StatusOK, req.StorageType)
	return Verdict{Status: StatusOK, StorageType: req.StorageType}
}

// token路径 公共链接校验
func (g *Gate) hasTokenAccess(ctx context.Context, req Request) Verdict {
	if req.SessionID == "" || req.Token == "" || req.FileID == "" {
		return Verdict{
			Status: StatusNoAccess,
			Err:    apperr.NotEnoughParams("sessionId, token and fileId are required"),
		}
	}

	// token命中直接返回 结论连同记录时的存储类型一起回放
	if entry, ok := g.cache.Get(ctx, req.FileID, req.SessionID, req.Token); ok {
		v := Verdict{Status: entry.Status, StorageType: entry.StorageType}
		if entry.Status == StatusNoAccess {
			v.Err = apperr.FileNotAccessible("file is not accessible")
		}
		return v
	}

	link, err := g.links.FindByToken(req.Token)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			// 链接解析异常转换为NO_ACCESS 异常负载并入应答
			logger.L.Warn("public link resolution failed", zap.String("token", req.Token), zap.Error(err))
		}
		g.cache.Set(ctx, req.FileID, req.SessionID, req.Token, StatusNoAccess, req.StorageType)
		return Verdict{
			Status:      StatusNoAccess,
			StorageType: req.StorageType,
			Err:         apperr.FileNotAccessible("public link is not valid"),
		}
	}

	// 链接自带的存储类型覆盖调用方声明 防止伪造
	storageType := link.StorageType

	status := StatusNoAccess
	if link.FileID == req.FileID && !link.IsExpired(time.Now()) && g.linkChecksPass(link, req) {
		status = StatusToken
	}

	g.cache.Set(ctx, req.FileID, req.SessionID, req.Token, status, storageType)

	v := Verdict{Status: status, StorageType: storageType}
	if status == StatusNoAccess {
		v.Err = apperr.FileNotAccessible("public link is not valid")
	}
	return v
}

// 跨会话令牌或口令校验 二者其一通过即可
func (g *Gate) linkChecksPass(link *model.PublicLink, req Request) bool {
	if req.LinkSession != "" && utils.ValidateLinkSession(req.LinkSession, link.Token) {
		return true
	}
	if link.PasswordHash == "" {
		return true
	}
	if req.LinkPassword == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(req.LinkPassword)) == nil
}

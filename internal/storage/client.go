package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-annotation-service/pkg/config"
)

// 样例库存储类型 无token时需要同步校验所有权
const TypeSamples = "samples"

// 协作方应答中的成功状态
const StatusOK = "ok"

type TrashStatus struct {
	Status    string `json:"status"`
	IsDeleted bool   `json:"is_deleted"`
}

type Share struct {
	Viewer []string `json:"viewer"`
	Editor []string `json:"editor"`
}

type FileInfo struct {
	Status     string `json:"status"`
	OwnerEmail string `json:"owner_email"`
	Share      Share  `json:"share"`
}

// Client 存储后端协作方的请求/应答契约
// 物理存储适配器在核心之外 这里只约定消息面
type Client interface {
	// 查询文件回收站/删除状态
	GetTrashStatus(ctx context.Context, fileID, storageType string) (*TrashStatus, error)
	// 查询文件所有者与协作者列表
	GetInfo(ctx context.Context, fileID, storageType string) (*FileInfo, error)
	// 请求把文件分享给指定用户 即发即弃 调用方只记录失败
	ShareFile(ctx context.Context, fileID, storageType string, share Share, actorID uint) error
	// 注册文件订阅 scopeUpdate为"rewrite"或"append"
	AddSubscription(ctx context.Context, fileID string, userID uint, scope []string, scopeUpdate, token string) error
	// 样例库所有权校验
	VerifyOwnership(ctx context.Context, fileID string, userID uint) error
	// 刷新文件/存储维度的提及缓存 即发即弃
	UpdateMentionCache(ctx context.Context, fileID, storageType string, userIDs []uint) error
}

// HTTPClient 按storageType路由到对应协作方端点
type HTTPClient struct {
	endpoints map[string]string
	client    *http.Client
	timeout   time.Duration
}

func NewHTTPClient() *HTTPClient {
	cfg := config.GlobalConfig.Storage
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		endpoints: cfg.Endpoints,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
	}
}

func (c *HTTPClient) baseURL(storageType string) (string, error) {
	base, ok := c.endpoints[storageType]
	if !ok {
		return "", fmt.Errorf("no endpoint configured for storage type %q", storageType)
	}
	return base, nil
}

// 带超时的GET 把卡死的依赖转换为快速失败
func (c *HTTPClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collaborator returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, rawURL string, body interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("collaborator returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) GetTrashStatus(ctx context.Context, fileID, storageType string) (*TrashStatus, error) {
	base, err := c.baseURL(storageType)
	if err != nil {
		return nil, err
	}
	var out TrashStatus
	u := base + "/files/" + url.PathEscape(fileID) + "/trash-status"
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetInfo(ctx context.Context, fileID, storageType string) (*FileInfo, error) {
	base, err := c.baseURL(storageType)
	if err != nil {
		return nil, err
	}
	var out FileInfo
	u := base + "/files/" + url.PathEscape(fileID) + "/info"
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ShareFile(ctx context.Context, fileID, storageType string, share Share, actorID uint) error {
	base, err := c.baseURL(storageType)
	if err != nil {
		return err
	}
	u := base + "/files/" + url.PathEscape(fileID) + "/share"
	return c.postJSON(ctx, u, map[string]interface{}{
		"share":    share,
		"actor_id": actorID,
	})
}

func (c *HTTPClient) AddSubscription(ctx context.Context, fileID string, userID uint, scope []string, scopeUpdate, token string) error {
	base, err := c.baseURL("drive")
	if err != nil {
		return err
	}
	u := base + "/files/" + url.PathEscape(fileID) + "/subscriptions"
	return c.postJSON(ctx, u, map[string]interface{}{
		"user_id":      userID,
		"scope":        scope,
		"scope_update": scopeUpdate,
		"token":        token,
	})
}

func (c *HTTPClient) UpdateMentionCache(ctx context.Context, fileID, storageType string, userIDs []uint) error {
	base, err := c.baseURL(storageType)
	if err != nil {
		return err
	}
	u := base + "/files/" + url.PathEscape(fileID) + "/mentions"
	return c.postJSON(ctx, u, map[string]interface{}{
		"user_ids": userIDs,
	})
}

func (c *HTTPClient) VerifyOwnership(ctx context.Context, fileID string, userID uint) error {
	base, err := c.baseURL(TypeSamples)
	if err != nil {
		return err
	}
	var out struct {
		Status string `json:"status"`
	}
	u := base + "/samples/" + url.PathEscape(fileID) + "/owner?user_id=" + strconv.FormatUint(uint64(userID), 10)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return err
	}
	if out.Status != StatusOK {
		return fmt.Errorf("sample file %s is not owned by user %d", fileID, userID)
	}
	return nil
}

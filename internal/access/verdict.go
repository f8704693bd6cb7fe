package access

import "go-annotation-service/pkg/apperr"

// 访问检查结论
type Status string

const (
	// 完整协作者访问
	StatusOK Status = "OK"
	// 通过分享链接的受限访问
	StatusToken Status = "TOKEN"
	// 权威拒绝 在TTL窗口内可信
	StatusNoAccess Status = "NO_ACCESS"
	// 依赖失败 定义为可重试 缓存命中时不可信
	StatusError Status = "ERROR"
)

type Verdict struct {
	Status      Status        `json:"status"`
	StorageType string        `json:"storage_type,omitempty"`
	Err         *apperr.Error `json:"error,omitempty"`
}

// Allowed 判断该结论是否放行请求
func (v Verdict) Allowed() bool {
	return v.Status == StatusOK || v.Status == StatusToken
}

// TokenOnly 判断是否为链接受限访问
func (v Verdict) TokenOnly() bool {
	return v.Status == StatusToken
}

package apperr

import (
	"errors"
	"net/http"
)

// 业务错误三元组 客户端依赖Constant区分可重试与永久失败
type Error struct {
	Message  string `json:"message"`
	Constant string `json:"constant"`
	Code     int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Constant + ": " + e.Message
}

// 错误常量 对应协作方和客户端约定的机器可读标识
const (
	ConstNotEnoughParams         = "NOT_ENOUGH_PARAMS"
	ConstFileNotAccessible       = "FILE_IS_NOT_ACCESSIBLE"
	ConstUnableToGetTrashStatus  = "UNABLE_TO_GET_TRASH_STATUS"
	ConstTrashStatusException    = "EXCEPTION_DURING_GET_TRASH_STATUS"
	ConstCommentingNotAccessible = "COMMENTING_IS_NOT_ACCESSIBLE"
	ConstForbidden               = "FORBIDDEN"
	ConstConflict                = "CONFLICT"
	ConstBadRequest              = "BAD_REQUEST"
	ConstNotFound                = "NOT_FOUND"
)

func New(message, constant string, code int) *Error {
	return &Error{Message: message, Constant: constant, Code: code}
}

func NotEnoughParams(message string) *Error {
	return New(message, ConstNotEnoughParams, http.StatusBadRequest)
}

func FileNotAccessible(message string) *Error {
	return New(message, ConstFileNotAccessible, http.StatusBadRequest)
}

func UnableToGetTrashStatus(message string) *Error {
	return New(message, ConstUnableToGetTrashStatus, http.StatusBadRequest)
}

func TrashStatusException(message string) *Error {
	return New(message, ConstTrashStatusException, http.StatusBadRequest)
}

func CommentingNotAccessible(message string) *Error {
	return New(message, ConstCommentingNotAccessible, http.StatusBadRequest)
}

func Forbidden(message string) *Error {
	return New(message, ConstForbidden, http.StatusForbidden)
}

func Conflict(message string) *Error {
	return New(message, ConstConflict, http.StatusConflict)
}

func BadRequest(message string) *Error {
	return New(message, ConstBadRequest, http.StatusBadRequest)
}

func NotFound(message string) *Error {
	return New(message, ConstNotFound, http.StatusNotFound)
}

// 从错误链中取出业务错误 不是业务错误时包装为500
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(err.Error(), "INTERNAL_ERROR", http.StatusInternalServerError)
}

// 判断错误链中的业务错误常量
func IsConstant(err error, constant string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Constant == constant
	}
	return false
}

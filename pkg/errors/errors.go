package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError // 默认返回服务器错误
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeAuthRequired = 10001
	CodeTokenInvalid = 10002
	CodeTokenExpired = 10003
	CodeTokenReplaced = 10004

	// 参数相关 11000-11999
	CodeInvalidParams    = 11001
	CodeTextRequired     = 11002
	CodeReceiverRequired = 11003

	// 会话/消息相关 13000-13999
	CodeConversationNotFound = 13001
	CodeMessageNotFound      = 13002
	CodeNotMember            = 13003
	CodeNotSender            = 13004
	CodeConversationClosed   = 13005
	CodeSelfConversation     = 13006
	CodeNotRecipient         = 13007

	// 系统错误 50000-50999
	CodeServerError   = 50001
	CodeDBError       = 50002
	CodeTooManyReqest = 50003
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrAuthRequired  = NewError(CodeAuthRequired, "连接未认证")
	ErrTokenInvalid  = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired  = NewError(CodeTokenExpired, "Token 已过期")
	ErrTokenReplaced = NewError(CodeTokenReplaced, "Token 已在其他设备登录失效")
)

// 参数相关
var (
	ErrInvalidParams    = NewError(CodeInvalidParams, "参数校验失败")
	ErrTextRequired     = NewError(CodeTextRequired, "消息内容不能为空")
	ErrReceiverRequired = NewError(CodeReceiverRequired, "必须指定接收者或会话")
)

// 会话/消息相关
var (
	ErrConversationNotFound = NewError(CodeConversationNotFound, "会话不存在")
	ErrMessageNotFound      = NewError(CodeMessageNotFound, "消息不存在")
	ErrNotMember            = NewError(CodeNotMember, "不是该会话的成员")
	ErrNotSender            = NewError(CodeNotSender, "只能对自己发送的消息执行此操作")
	ErrConversationClosed   = NewError(CodeConversationClosed, "会话已被拒绝，无法继续发送")
	ErrSelfConversation     = NewError(CodeSelfConversation, "不能给自己发送消息")
	ErrNotRecipient         = NewError(CodeNotRecipient, "只有接收方可以处理会话请求")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "服务器内部错误")
	ErrDBError        = NewError(CodeDBError, "数据库错误")
	ErrTooManyRequest = NewError(CodeTooManyReqest, "请求过于频繁，请稍后再试")
)

package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.social.dm/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 从业务错误生成响应，HTTP 状态码按错误类别映射
func Error(c *gin.Context, err error) {
	code := errors.GetCode(err)
	c.JSON(httpStatus(code), Response{
		Code:    code,
		Message: errors.GetMessage(err),
		Data:    nil,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(httpStatus(code), Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    errors.CodeTokenInvalid,
		Message: errors.GetMessage(errors.ErrTokenInvalid),
		Data:    nil,
	})
}

// httpStatus 业务错误码到 HTTP 状态码的映射
func httpStatus(code int) int {
	switch {
	case code == errors.CodeSuccess:
		return http.StatusOK
	case code >= 10001 && code <= 10999:
		return http.StatusUnauthorized
	case code >= 11001 && code <= 11999:
		return http.StatusBadRequest
	case code == errors.CodeConversationNotFound, code == errors.CodeMessageNotFound:
		return http.StatusNotFound
	case code == errors.CodeNotMember, code == errors.CodeNotSender,
		code == errors.CodeConversationClosed, code == errors.CodeNotRecipient:
		return http.StatusForbidden
	case code == errors.CodeSelfConversation:
		return http.StatusBadRequest
	case code == errors.CodeTooManyReqest:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

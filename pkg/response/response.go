package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 托管业务错误码
const (
	CodeInsufficientAmount     = 1001 // 入金低于最低托管额
	CodeEscrowUnauthorized     = 1002 // 调用方不具备该操作的角色
	CodeInvalidStateTransition = 1003 // 托管已离开待交付状态
	CodeNotYetExpired          = 1004 // 未到期，卖方不能强制索取
	CodeSettlementFailure      = 1005 // 清算划转失败，操作整体回滚
	CodeBalanceNotEnough       = 1006 // 买方余额不足以入金
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

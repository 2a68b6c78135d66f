package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeServerError  = 500
)

const (
	CodeOrderNotFound       = 1001
	CodeBalanceNotEnough    = 1003
	CodeAlreadyPurchased    = 1004
	CodeMethodForbidden     = 1005
	CodePaymentFailed       = 1006
	CodeCompensationFailed  = 1007
	CodeContentNotFound     = 1008
	CodeContentUnavailable  = 1009
	CodeCheckoutBusy        = 1010
	CodeInvalidSignature    = 1011
	CodePackageNotFound     = 1012
	CodeIdempotencyConflict = 1013
)

// Response is the envelope of every API reply. Error carries the machine readable
// reason (e.g. INSUFFICIENT_BALANCE) next to the numeric code.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Failure(c, http.StatusBadRequest, CodeParamError, "INVALID_ARGUMENT", message)
}

func ServerError(c *gin.Context, message string) {
	Failure(c, http.StatusInternalServerError, CodeServerError, "SERVER_ERROR", message)
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
		Error:   "UNAUTHENTICATED",
	})
}

func Forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Response{
		Code:    CodeForbidden,
		Message: message,
		Error:   "FORBIDDEN",
	})
}

// Failure writes an error envelope with an explicit HTTP status.
func Failure(c *gin.Context, status, code int, reason, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Error:   reason,
	})
}

package handler

import (
	"net/http"

	"fandry/internal/service"
	"fandry/pkg/logger"
	"fandry/pkg/response"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	status int
	code   int
}

// Business outcomes keep HTTP 200 with a business code; malformed input and
// missing resources use the matching HTTP status.
var errorMappings = map[string]errorMapping{
	"INSUFFICIENT_BALANCE":           {http.StatusOK, response.CodeBalanceNotEnough},
	"ALREADY_PURCHASED":              {http.StatusOK, response.CodeAlreadyPurchased},
	"ADULT_CONTENT_METHOD_FORBIDDEN": {http.StatusOK, response.CodeMethodForbidden},
	"PROCESSOR_ERROR":                {http.StatusOK, response.CodePaymentFailed},
	"COMPENSATION_FAILED":            {http.StatusOK, response.CodeCompensationFailed},
	"CONTENT_NOT_PURCHASABLE":        {http.StatusOK, response.CodeContentUnavailable},
	"CONTENT_NOT_FOUND":              {http.StatusNotFound, response.CodeContentNotFound},
	"ORDER_NOT_FOUND":                {http.StatusNotFound, response.CodeOrderNotFound},
	"PACKAGE_NOT_FOUND":              {http.StatusNotFound, response.CodePackageNotFound},
	"CHECKOUT_BUSY":                  {http.StatusConflict, response.CodeCheckoutBusy},
	"IDEMPOTENCY_CONFLICT":           {http.StatusConflict, response.CodeIdempotencyConflict},
	"INVALID_SIGNATURE":              {http.StatusBadRequest, response.CodeInvalidSignature},
	"INVALID_AMOUNT":                 {http.StatusBadRequest, response.CodeParamError},
	"INVALID_PAYMENT_METHOD":         {http.StatusBadRequest, response.CodeParamError},
	"INVALID_TRANSACTION_TYPE":       {http.StatusBadRequest, response.CodeParamError},
	"UNAUTHENTICATED":                {http.StatusUnauthorized, response.CodeUnauthorized},
}

func writeError(c *gin.Context, err error) {
	code := service.Code(err)
	mapping, ok := errorMappings[code]
	if !ok {
		logger.Error("request failed", "path", c.FullPath(), "trace_id", c.GetString(ctxTraceID), "error", err)
		response.ServerError(c, "internal server error")
		return
	}
	response.Failure(c, mapping.status, mapping.code, code, err.Error())
}

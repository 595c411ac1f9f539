// Package httpx holds the JSON error envelope shared by the gateway's own
// endpoints and its proxy error paths.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "error" field.
const (
	CodeNotFound           = "not_found"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeRateLimited        = "rate_limited"
	CodeServiceUnavailable = "service_unavailable"
	CodeCircuitOpen        = "circuit_open"
	CodeGatewayTimeout     = "gateway_timeout"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal_error"
)

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Abort writes the envelope and stops the gin chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: code, Message: message})
}

// Write is the net/http flavour used from httputil.ReverseProxy's error
// handler, which has no gin context.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: code, Message: message})
}

// RetryAfter formats d as whole seconds, rounding up, minimum 1.
func RetryAfter(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

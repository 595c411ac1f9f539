package middlewares

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// NewEngine returns a gin engine that only honours X-Forwarded-For and
// X-Real-IP from the given proxies. With none, ClientIP is the TCP peer.
func NewEngine(trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(RequestID())
	return r, nil
}

package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/httpx"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/routes"
)

const (
	HeaderRequestID = "X-Request-ID"

	keyRoute     = "gateway.route"
	keyService   = "gateway.service"
	KeyRequestID = "request_id"
)

// RequestID reuses a sane incoming X-Request-ID or mints a new one, and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(KeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// ResolveRoute finds the downstream route for the cleaned request path and
// answers 404 when none matches.
func ResolveRoute(t *routes.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		clean := routes.CleanPath(c.Request.URL.Path)
		r, svc, ok := t.Match(clean)
		if !ok {
			httpx.Abort(c, http.StatusNotFound, httpx.CodeNotFound, "no route for "+clean)
			return
		}
		// forward exactly the path the auth decision was made on
		if clean != c.Request.URL.Path {
			c.Request.URL.Path = clean
			c.Request.URL.RawPath = ""
		}
		c.Set(keyRoute, r)
		c.Set(keyService, svc)
		c.Next()
	}
}

func RouteFrom(c *gin.Context) (routes.Route, bool) {
	v, ok := c.Get(keyRoute)
	if !ok {
		return routes.Route{}, false
	}
	r, ok := v.(routes.Route)
	return r, ok
}

func ServiceFrom(c *gin.Context) (*routes.Service, bool) {
	v, ok := c.Get(keyService)
	if !ok {
		return nil, false
	}
	s, ok := v.(*routes.Service)
	return s, ok
}

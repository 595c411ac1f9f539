// Package proxy forwards matched requests to downstream services through a
// per-service circuit breaker and retry transport.
package proxy

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/httputil"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/httpx"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/breaker"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/middlewares"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/retry"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/routes"
)

// Identity headers are owned by the gateway; client-supplied values are dropped.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

var identityHeaders = []string{HeaderUserID, HeaderUserRole, HeaderUserEmail}

type Proxy struct {
	proxies map[string]*httputil.ReverseProxy
}

// New builds one reverse proxy per service in t. base is the shared
// connection pool; nil uses a clone of http.DefaultTransport.
func New(t *routes.Table, breakers *breaker.Registry, policy retry.Policy, base http.RoundTripper) (*Proxy, error) {
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.MaxIdleConnsPerHost = 32
		base = tr
	}
	p := &Proxy{proxies: make(map[string]*httputil.ReverseProxy)}
	for _, svc := range t.Services() {
		b, ok := breakers.Get(svc.Name)
		if !ok {
			return nil, errors.New("proxy: no breaker for service " + svc.Name)
		}
		p.proxies[svc.Name] = newReverseProxy(svc, b, policy, base)
	}
	return p, nil
}

func newReverseProxy(svc *routes.Service, b *breaker.Breaker, policy retry.Policy, base http.RoundTripper) *httputil.ReverseProxy {
	target := svc.Base()
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: otelhttp.NewTransport(
			&guard{b: b, next: retry.New(base, policy)},
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return svc.Name + " " + r.Method
			}),
		),
		ErrorHandler: errorHandler(svc.Name),
	}
}

// Handle is the terminal gin handler of the proxy chain. It expects
// middlewares.ResolveRoute to have run.
func (p *Proxy) Handle(c *gin.Context) {
	svc, ok := middlewares.ServiceFrom(c)
	if !ok {
		httpx.Abort(c, http.StatusNotFound, httpx.CodeNotFound, "no route for "+c.Request.URL.Path)
		return
	}
	rp, ok := p.proxies[svc.Name]
	if !ok {
		httpx.Abort(c, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, svc.Name+" is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), svc.Timeout)
	defer cancel()
	req := c.Request.WithContext(ctx)
	setIdentity(c, req.Header)

	rp.ServeHTTP(c.Writer, req)
	// flush the status for bodiless responses so gin's NoRoute fallback
	// does not write its own 404 page
	c.Writer.WriteHeaderNow()
}

func setIdentity(c *gin.Context, h http.Header) {
	for _, k := range identityHeaders {
		h.Del(k)
	}
	if sub := c.GetString(middlewares.KeySub); sub != "" {
		h.Set(HeaderUserID, sub)
		h.Set(HeaderUserRole, c.GetString(middlewares.KeyRole))
		if email := c.GetString(middlewares.KeyEmail); email != "" {
			h.Set(HeaderUserEmail, email)
		}
	}
	if id := c.GetString(middlewares.KeyRequestID); id != "" {
		h.Set(middlewares.HeaderRequestID, id)
	}
}

// guard consults the breaker once per client request; the retry transport
// below it may make several attempts that count as one outcome.
type guard struct {
	b    *breaker.Breaker
	next http.RoundTripper
}

func (g *guard) RoundTrip(req *http.Request) (*http.Response, error) {
	permit, err := g.b.Allow(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := g.next.RoundTrip(req)

	// the request context may already be done; outcomes are recorded regardless
	ctx := context.WithoutCancel(req.Context())
	switch {
	case err != nil && errors.Is(req.Context().Err(), context.Canceled):
		permit.Cancel(ctx)
	case err != nil:
		permit.Failure(ctx)
	default:
		permit.Settle(ctx, resp.StatusCode < http.StatusInternalServerError)
	}
	return resp, err
}

func errorHandler(service string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		var rej *breaker.RejectedError
		switch {
		case errors.As(err, &rej):
			w.Header().Set("Retry-After", httpx.RetryAfter(rej.RetryAfter))
			httpx.Write(w, http.StatusServiceUnavailable, httpx.CodeCircuitOpen,
				service+" is temporarily unavailable")
		case errors.Is(r.Context().Err(), context.Canceled):
			// client went away
			w.WriteHeader(499)
		case timedOut(r.Context(), err):
			log.Printf("[proxy] %s %s %s: %v", service, r.Method, r.URL.Path, err)
			httpx.Write(w, http.StatusGatewayTimeout, httpx.CodeGatewayTimeout,
				service+" did not respond in time")
		default:
			log.Printf("[proxy] %s %s %s: %v", service, r.Method, r.URL.Path, err)
			httpx.Write(w, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable,
				service+" is unavailable")
		}
	}
}

func timedOut(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Package health aggregates the health of every downstream service into one
// gateway status.
package health

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/breaker"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/routes"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"

	ServiceUp   = "up"
	ServiceDown = "down"
)

type ServiceReport struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	LatencyMS int64         `json:"latency_ms"`
	Circuit   breaker.State `json:"circuit,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type Report struct {
	Status    string          `json:"status"`
	Services  []ServiceReport `json:"services"`
	CheckedAt time.Time       `json:"checked_at"`
}

// HTTPStatus is 503 only when every service is down.
func (r Report) HTTPStatus() int {
	if r.Status == StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

type Checker struct {
	services []*routes.Service
	breakers *breaker.Registry
	client   *http.Client
	timeout  time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached *Report
}

// NewChecker probes services directly with client, bypassing breakers and
// retries. breakers may be nil.
func NewChecker(services []*routes.Service, breakers *breaker.Registry, client *http.Client, timeout, ttl time.Duration) *Checker {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		services: services,
		breakers: breakers,
		client:   client,
		timeout:  timeout,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Check returns the cached report while it is fresh, otherwise probes all
// services concurrently. Probes are bounded by the per-probe timeout only, so
// a caller that goes away cannot poison the cached report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil && c.ttl > 0 && c.now().Sub(c.cached.CheckedAt) < c.ttl {
		return *c.cached
	}
	r := c.probeAll(context.WithoutCancel(ctx))
	c.cached = &r
	return r
}

func (c *Checker) probeAll(ctx context.Context) Report {
	reports := make([]ServiceReport, len(c.services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range c.services {
		i, svc := i, svc
		g.Go(func() error {
			reports[i] = c.probe(gctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	up := 0
	for _, r := range reports {
		if r.Status == ServiceUp {
			up++
		}
	}
	status := StatusDegraded
	switch up {
	case len(reports):
		status = StatusOK
	case 0:
		status = StatusDown
	}
	return Report{Status: status, Services: reports, CheckedAt: c.now()}
}

func (c *Checker) probe(ctx context.Context, svc *routes.Service) ServiceReport {
	rep := ServiceReport{Name: svc.Name, Status: ServiceDown}
	if c.breakers != nil {
		if b, ok := c.breakers.Get(svc.Name); ok {
			if st, err := b.State(ctx); err == nil {
				rep.Circuit = st
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *svc.Base()
	u.Path = strings.TrimRight(u.Path, "/") + svc.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	rep.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		log.Printf("[health] %s: %v", svc.Name, err)
		rep.Error = err.Error()
		return rep
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		rep.Status = ServiceUp
	} else {
		rep.Error = fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
	}
	return rep
}

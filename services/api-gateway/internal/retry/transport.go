// Package retry provides an http.RoundTripper that replays transient
// failures with exponential backoff.
package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrBodyTooLarge = errors.New("request body too large to buffer for retry")

type Policy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// MaxBodyBytes bounds how much of a request body is buffered for replay.
	MaxBodyBytes int64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxBodyBytes:        10 << 20,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.RandomizationFactor < 0 {
		p.RandomizationFactor = 0
	}
	if p.MaxBodyBytes <= 0 {
		p.MaxBodyBytes = d.MaxBodyBytes
	}
	return p
}

type Transport struct {
	Base   http.RoundTripper
	Policy Policy
	// Sleep is swapped in tests; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(base http.RoundTripper, p Policy) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Policy: p.withDefaults()}
}

// retryableStatus is the set of downstream statuses treated as transient.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Idempotent reports whether req may be sent more than once.
func Idempotent(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	}
	return req.Header.Get("Idempotency-Key") != ""
}

// Transient reports whether err is worth another attempt: timeouts, refused
// or reset connections.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	p := t.Policy.withDefaults()
	if p.MaxAttempts == 1 || !Idempotent(req) {
		return t.Base.RoundTrip(req)
	}
	if err := bufferBody(req, p.MaxBodyBytes); err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return t.Base.RoundTrip(req)
		}
		return nil, err
	}

	ctx := req.Context()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = p.RandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	var (
		resp *http.Response
		err  error
	)
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if err := rewind(req); err != nil {
				return nil, err
			}
		}
		resp, err = t.Base.RoundTrip(req)
		if attempt >= p.MaxAttempts || ctx.Err() != nil {
			break
		}
		var wait time.Duration
		switch {
		case err != nil:
			if !Transient(err) {
				return nil, err
			}
			wait = bo.NextBackOff()
		case retryableStatus(resp.StatusCode):
			wait = bo.NextBackOff()
			if ra, ok := retryAfter(resp); ok && ra < p.MaxInterval {
				wait = ra
			}
			drain(resp)
		default:
			return resp, nil
		}
		log.Printf("[retry] %s %s attempt=%d/%d wait=%s cause=%s",
			req.Method, req.URL.Host, attempt, p.MaxAttempts, wait, cause(resp, err))
		if serr := t.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}
	return resp, err
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// bufferBody makes req.Body replayable through req.GetBody.
func bufferBody(req *http.Request, limit int64) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	if req.ContentLength > limit {
		return ErrBodyTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}
	_ = req.Body.Close()
	if int64(len(b)) > limit {
		// already consumed: hand the bytes back so the single attempt still works
		req.Body = io.NopCloser(bytes.NewReader(b))
		return ErrBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("rewind request body: %w", err)
	}
	req.Body = body
	return nil
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func cause(resp *http.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return resp.Status
}

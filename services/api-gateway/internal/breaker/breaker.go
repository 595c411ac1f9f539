// Package breaker implements a per-service circuit breaker whose state lives
// in the shared cache, so every gateway replica trips and recovers together.
//
// States:
//
//	closed    requests flow; consecutive failures are counted inside
//	          FailureWindow and reaching FailureThreshold opens the circuit.
//	open      requests are rejected until OpenTimeout has elapsed since the
//	          circuit opened.
//	half_open up to HalfOpenMaxProbes requests are in flight at once; any
//	          failure reopens, SuccessThreshold successes close.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/cache"
)

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

var (
	ErrOpen          = errors.New("circuit open")
	ErrTooManyProbes = errors.New("circuit half-open: probe limit reached")
)

// RejectedError carries how long the caller should wait before retrying.
type RejectedError struct {
	Service    string
	State      State
	RetryAfter time.Duration
	err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.err)
}

func (e *RejectedError) Unwrap() error { return e.err }

type Settings struct {
	FailureThreshold  int
	FailureWindow     time.Duration
	OpenTimeout       time.Duration
	HalfOpenMaxProbes int
	SuccessThreshold  int
}

func DefaultSettings() Settings {
	return Settings{
		FailureThreshold:  5,
		FailureWindow:     60 * time.Second,
		OpenTimeout:       30 * time.Second,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  2,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.FailureWindow <= 0 {
		s.FailureWindow = d.FailureWindow
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = d.OpenTimeout
	}
	if s.HalfOpenMaxProbes <= 0 {
		s.HalfOpenMaxProbes = d.HalfOpenMaxProbes
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	return s
}

type Transition struct {
	Service  string
	From     State
	To       State
	Failures int64
	At       time.Time
}

type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

type Option func(*Breaker)

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithObserver(o Observer) Option {
	return func(b *Breaker) { b.obs = o }
}

type Breaker struct {
	name  string
	store cache.Store
	s     Settings
	now   func() time.Time
	obs   Observer
}

func New(name string, store cache.Store, s Settings, opts ...Option) *Breaker {
	b := &Breaker{name: name, store: store, s: s.withDefaults(), now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Breaker) Name() string       { return b.name }
func (b *Breaker) Settings() Settings { return b.s }

func (b *Breaker) key(suffix string) string { return "cb:" + b.name + ":" + suffix }

// Permit is handed out by Allow and must be settled with exactly one of
// Success, Failure or Cancel.
type Permit struct {
	b     *Breaker
	probe bool
}

// Allow decides whether a request may go to the service. Cache errors fail
// open: the request is allowed and the error logged.
func (b *Breaker) Allow(ctx context.Context) (*Permit, error) {
	st, err := b.State(ctx)
	if err != nil {
		log.Printf("[breaker] %s: read state: %v (allowing)", b.name, err)
		return &Permit{b: b}, nil
	}
	switch st {
	case Open:
		openedAt, err := b.openedAt(ctx)
		if err != nil {
			log.Printf("[breaker] %s: read opened_at: %v (allowing)", b.name, err)
			return &Permit{b: b}, nil
		}
		if wait := b.s.OpenTimeout - b.now().Sub(openedAt); wait > 0 {
			return nil, &RejectedError{Service: b.name, State: Open, RetryAfter: wait, err: ErrOpen}
		}
		if err := b.toHalfOpen(ctx, openedAt); err != nil {
			log.Printf("[breaker] %s: half-open transition: %v (allowing)", b.name, err)
			return &Permit{b: b}, nil
		}
		return b.admitProbe(ctx)
	case HalfOpen:
		return b.admitProbe(ctx)
	default:
		return &Permit{b: b}, nil
	}
}

// toHalfOpen moves open -> half_open once per opening. The SetNX marker is
// keyed by the opening timestamp so only one replica wins and notifies.
func (b *Breaker) toHalfOpen(ctx context.Context, openedAt time.Time) error {
	marker := b.key("half_open_from:" + strconv.FormatInt(openedAt.UnixMilli(), 10))
	won, err := b.store.SetNX(ctx, marker, "1", 2*b.s.OpenTimeout+b.s.FailureWindow)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	// probe and success counters were cleared by trip; resetting them here
	// would race with probes admitted by replicas that lost the marker
	if err := b.store.Set(ctx, b.key("state"), string(HalfOpen), 0); err != nil {
		return err
	}
	b.notify(ctx, Open, HalfOpen, 0)
	return nil
}

func (b *Breaker) admitProbe(ctx context.Context) (*Permit, error) {
	n, err := b.store.Incr(ctx, b.key("probes"), b.s.OpenTimeout)
	if err != nil {
		log.Printf("[breaker] %s: admit probe: %v (allowing)", b.name, err)
		return &Permit{b: b}, nil
	}
	if n > int64(b.s.HalfOpenMaxProbes) {
		if _, err := b.store.Decr(ctx, b.key("probes")); err != nil {
			log.Printf("[breaker] %s: release probe slot: %v", b.name, err)
		}
		return nil, &RejectedError{Service: b.name, State: HalfOpen, RetryAfter: time.Second, err: ErrTooManyProbes}
	}
	return &Permit{b: b, probe: true}, nil
}

func (p *Permit) Success(ctx context.Context) {
	b := p.b
	if !p.probe {
		if err := b.store.Del(ctx, b.key("failures")); err != nil {
			log.Printf("[breaker] %s: reset failures: %v", b.name, err)
		}
		return
	}
	b.releaseProbe(ctx)
	if st, err := b.State(ctx); err != nil || st != HalfOpen {
		return
	}
	n, err := b.store.Incr(ctx, b.key("successes"), b.s.OpenTimeout+b.s.FailureWindow)
	if err != nil {
		log.Printf("[breaker] %s: count success: %v", b.name, err)
		return
	}
	// == so exactly one concurrent probe performs the close
	if n == int64(b.s.SuccessThreshold) {
		b.close(ctx, HalfOpen)
	}
}

func (p *Permit) Failure(ctx context.Context) {
	b := p.b
	if p.probe {
		b.releaseProbe(ctx)
		if st, err := b.State(ctx); err == nil && st == HalfOpen {
			b.trip(ctx, HalfOpen, 0)
		}
		return
	}
	n, err := b.store.Incr(ctx, b.key("failures"), b.s.FailureWindow)
	if err != nil {
		log.Printf("[breaker] %s: count failure: %v", b.name, err)
		return
	}
	if n >= int64(b.s.FailureThreshold) {
		if st, err := b.State(ctx); err == nil && st == Closed {
			b.trip(ctx, Closed, n)
		}
	}
}

// Cancel settles a permit whose request was abandoned by the caller. Nothing
// is recorded; a half-open probe slot is handed back.
func (p *Permit) Cancel(ctx context.Context) {
	if p.probe {
		p.b.releaseProbe(ctx)
	}
}

// Settle records ok as Success and anything else as Failure.
func (p *Permit) Settle(ctx context.Context, ok bool) {
	if ok {
		p.Success(ctx)
		return
	}
	p.Failure(ctx)
}

func (b *Breaker) releaseProbe(ctx context.Context) {
	if _, err := b.store.Decr(ctx, b.key("probes")); err != nil {
		log.Printf("[breaker] %s: release probe: %v", b.name, err)
	}
}

func (b *Breaker) trip(ctx context.Context, from State, failures int64) {
	now := b.now()
	// opened_at first: a reader that sees "open" must see the new timestamp
	if err := b.store.Set(ctx, b.key("opened_at"), strconv.FormatInt(now.UnixMilli(), 10), 0); err != nil {
		log.Printf("[breaker] %s: set opened_at: %v", b.name, err)
		return
	}
	if err := b.store.Set(ctx, b.key("state"), string(Open), 0); err != nil {
		log.Printf("[breaker] %s: set state: %v", b.name, err)
		return
	}
	if err := b.store.Del(ctx, b.key("failures"), b.key("successes"), b.key("probes")); err != nil {
		log.Printf("[breaker] %s: clear counters: %v", b.name, err)
	}
	b.notify(ctx, from, Open, failures)
}

func (b *Breaker) close(ctx context.Context, from State) {
	if err := b.store.Set(ctx, b.key("state"), string(Closed), 0); err != nil {
		log.Printf("[breaker] %s: set state: %v", b.name, err)
		return
	}
	if err := b.store.Del(ctx, b.key("failures"), b.key("successes"), b.key("probes"), b.key("opened_at")); err != nil {
		log.Printf("[breaker] %s: clear counters: %v", b.name, err)
	}
	b.notify(ctx, from, Closed, 0)
}

// Reset forces the circuit closed.
func (b *Breaker) Reset(ctx context.Context) error {
	st, err := b.State(ctx)
	if err != nil {
		return err
	}
	if err := b.store.Del(ctx,
		b.key("state"), b.key("failures"), b.key("successes"), b.key("probes"), b.key("opened_at"),
	); err != nil {
		return fmt.Errorf("reset %s: %w", b.name, err)
	}
	if st != Closed {
		b.notify(ctx, st, Closed, 0)
	}
	return nil
}

func (b *Breaker) State(ctx context.Context) (State, error) {
	v, err := b.store.Get(ctx, b.key("state"))
	if errors.Is(err, cache.ErrNotFound) {
		return Closed, nil
	}
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	switch State(v) {
	case Open, HalfOpen:
		return State(v), nil
	default:
		return Closed, nil
	}
}

func (b *Breaker) openedAt(ctx context.Context) (time.Time, error) {
	v, err := b.store.Get(ctx, b.key("opened_at"))
	if errors.Is(err, cache.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse opened_at %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}

func (b *Breaker) counter(ctx context.Context, suffix string) int64 {
	v, err := b.store.Get(ctx, b.key(suffix))
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

type Snapshot struct {
	Service    string     `json:"service"`
	State      State      `json:"state"`
	Failures   int64      `json:"failures"`
	Successes  int64      `json:"successes,omitempty"`
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	RetryAfter string     `json:"retry_after,omitempty"`
}

func (b *Breaker) Snapshot(ctx context.Context) (Snapshot, error) {
	st, err := b.State(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Service:   b.name,
		State:     st,
		Failures:  b.counter(ctx, "failures"),
		Successes: b.counter(ctx, "successes"),
	}
	if st == Closed {
		return snap, nil
	}
	at, err := b.openedAt(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if !at.IsZero() {
		at = at.UTC()
		snap.OpenedAt = &at
		if st == Open {
			if wait := b.s.OpenTimeout - b.now().Sub(at); wait > 0 {
				snap.RetryAfter = wait.Round(time.Second).String()
			}
		}
	}
	return snap, nil
}

func (b *Breaker) notify(ctx context.Context, from, to State, failures int64) {
	log.Printf("[breaker] %s: %s -> %s (failures=%d)", b.name, from, to, failures)
	if b.obs == nil {
		return
	}
	b.obs.OnTransition(ctx, Transition{Service: b.name, From: from, To: to, Failures: failures, At: b.now().UTC()})
}

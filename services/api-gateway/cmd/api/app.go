package main

import (
	"context"
	"log"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/cache"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/config"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/mq"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/breaker"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/events"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/routes"
)

// gateway is the state shared by every subcommand.
type gateway struct {
	cfg      config.App
	store    cache.Store
	table    *routes.Table
	breakers *breaker.Registry
	closers  []func() error
}

// bootstrap loads config and connects the shared cache. publish wires the
// circuit event publisher into the breakers.
func bootstrap(ctx context.Context, publish bool) (*gateway, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	g := &gateway{cfg: cfg}

	if cfg.RedisURL != "" {
		rs, err := cache.DialRedis(ctx, cfg.RedisURL, "gateway:")
		if err != nil {
			return nil, err
		}
		g.store = rs
		g.closers = append(g.closers, rs.Close)
	} else {
		log.Println("[gateway] REDIS_URL not set, circuit and rate limit state is local to this process")
		g.store = cache.NewMemory()
	}

	if cfg.RoutesFile != "" {
		g.table, err = routes.Load(cfg.RoutesFile, cfg.ServiceTimeout)
	} else {
		g.table, err = routes.Default(cfg)
	}
	if err != nil {
		g.Close()
		return nil, err
	}

	var opts []breaker.Option
	if publish && cfg.RabbitURL != "" {
		pub, err := mq.NewPublisher(cfg.RabbitURL, cfg.GatewayExchange, "api-gateway")
		if err != nil {
			// circuit events are best effort; the gateway still serves
			log.Printf("[gateway] rabbitmq unavailable, circuit events disabled: %v", err)
		} else {
			n := events.NewCircuitNotifier(pub, 0)
			// closers run in reverse: drain the notifier before the connection goes
			g.closers = append(g.closers, pub.Close, n.Close)
			opts = append(opts, breaker.WithObserver(n))
		}
	}
	g.breakers = breaker.NewRegistry(g.store, breakerSettings(cfg), g.table.ServiceNames(), opts...)
	return g, nil
}

func breakerSettings(cfg config.App) breaker.Settings {
	return breaker.Settings{
		FailureThreshold:  cfg.BreakerFailureThreshold,
		FailureWindow:     cfg.BreakerFailureWindow,
		OpenTimeout:       cfg.BreakerOpenTimeout,
		HalfOpenMaxProbes: cfg.BreakerHalfOpenProbes,
		SuccessThreshold:  cfg.BreakerSuccessThreshold,
	}
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			log.Printf("[gateway] close: %v", err)
		}
	}
}

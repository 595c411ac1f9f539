package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	a "github.com/DanielEsLoH/MediConnect-sub004/pkg/auth"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/obs"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/handlers"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/health"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/middlewares"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/proxy"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/ratelimit"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/retry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	g, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer g.Close()
	cfg := g.cfg

	shutdownTracer, err := obs.InitTracer("api-gateway", Version, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("[gateway] tracer shutdown: %v", err)
		}
	}()

	p, err := proxy.New(g.table, g.breakers, retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}, nil)
	if err != nil {
		return err
	}
	verifier := a.NewVerifier(cfg.JWTSecret)
	limiter := ratelimit.New(g.store, cfg.RateLimitWindow)
	checker := health.NewChecker(g.table.Services(), g.breakers, nil, cfg.HealthTimeout, cfg.HealthCacheTTL)

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r, err := middlewares.NewEngine(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	r.Use(gin.Logger(), gin.Recovery(), otelgin.Middleware("api-gateway"))

	hh := handlers.NewHealthHandler(checker)
	r.GET("/health", hh.Health)
	r.GET("/health/live", hh.Live)

	ch := handlers.NewCircuitHandler(g.breakers)
	admin := r.Group("/api/v1/admin/circuits")
	admin.Use(middlewares.JWTAuth(verifier), middlewares.RequireRole("ADMIN"))
	{
		admin.GET("", ch.List)
		admin.POST("/:service/reset", ch.Reset)
	}

	// everything else is proxied by longest-prefix match
	r.NoRoute(
		middlewares.ResolveRoute(g.table),
		middlewares.Authenticate(verifier),
		middlewares.RateLimit(limiter, middlewares.RateLimits{PerIP: cfg.RateLimitPerIP, PerUser: cfg.RateLimitPerUser}),
		p.Handle,
	)

	srv := &http.Server{Addr: cfg.GatewayHTTPAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Println("api-gateway on", cfg.GatewayHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("api-gateway shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

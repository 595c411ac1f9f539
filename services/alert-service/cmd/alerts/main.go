package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/config"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/db"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/mq"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/obs"
	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/notifier"
	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/repository"
	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/worker"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "alerts",
		Short:         "Consume gateway circuit events and alert operators",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx)
		},
	}
	rootCmd.AddCommand(incidentsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openRepo loads config and returns a migrated incident repository.
func openRepo() (config.Alerts, *repository.IncidentRepo, error) {
	_ = godotenv.Load()
	cfg, err := config.LoadAlerts()
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return cfg, nil, err
	}
	repo := repository.NewIncidentRepo(gdb)
	if err := repo.Migrate(); err != nil {
		return cfg, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, repo, nil
}

func runWorker(ctx context.Context) error {
	cfg, repo, err := openRepo()
	if err != nil {
		return err
	}

	shutdown, err := obs.InitTracer("alert-service", Version, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	var cons *mq.Consumer
	for {
		cons, err = mq.NewConsumer(mq.ConsumerConfig{
			URL:      cfg.RabbitURL,
			Exchange: cfg.Exchange,
			Queue:    cfg.Queue,
			Keys:     cfg.Bindings,
			Prefetch: cfg.Prefetch,
			DLX:      cfg.DLX,
			DLQ:      cfg.DLQ,
		})
		if err == nil {
			break
		}
		log.Printf("[alerts] connect failed: %v; retry in 2s", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
	defer cons.Close()

	msgs, err := cons.Deliveries(ctx, "alert-service")
	if err != nil {
		return err
	}
	log.Printf("[alerts] started. queue=%s exchange=%s bindings=%v", cfg.Queue, cfg.Exchange, cfg.Bindings)

	w := worker.New(repo, notifier.NewConsole())
	if err := w.Run(ctx, msgs); err != nil {
		return err
	}
	log.Println("[alerts] stopped")
	return nil
}

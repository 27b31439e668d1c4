package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/outbox"
	"github.com/54b3r/connectq/internal/search"
	"github.com/54b3r/connectq/internal/server"
)

// runnerDrainTimeout bounds how long shutdown waits for in-flight embed jobs.
const runnerDrainTimeout = 30 * time.Second

// NewServeCmd constructs the `connectq serve` command, which starts the HTTP
// API together with the outbox consumer that keeps the index in sync.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ConnectQ HTTP API and outbox consumer",
		Long: `Start the ConnectQ HTTP API.

The server exposes company search, on-demand re-embedding, index stats and
company CRUD. Company writes are recorded in an outbox table and applied to
the vector index by a background consumer, so the API never waits on the
embedding provider for a write.

Examples:
  connectq serve
  connectq serve --port 9090
  EMBEDDING_PROVIDER=ollama VECTOR_BACKEND=memory connectq serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Env (possibly set from YAML) applies only when the flag was not given.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("CONNECTQ_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("CONNECTQ_PORT", port)
			}

			reg := prometheus.DefaultRegisterer

			d, err := buildDeps(ctx, log, search.NewMetrics(reg))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer d.close(log)

			runner, err := search.NewRunner(getEnvInt("OUTBOX_WORKERS", 4))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), runnerDrainTimeout)
				defer cancel()
				if err := runner.Close(drainCtx); err != nil {
					log.Warn("serve: embed jobs still running at shutdown", slog.Any("error", err))
				}
			}()

			consumer, err := outbox.NewConsumer(d.store, d.service, runner, outbox.Config{
				PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
				MaxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 5),
				Registerer:   reg,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			consumerDone := make(chan struct{})
			go func() {
				defer close(consumerDone)
				_ = consumer.Run(ctx)
			}()

			pingers := []server.Pinger{server.NewStorePinger(d.store)}
			if d.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(d.qdrant))
			}

			srv, err := server.New(d.service, runner, d.store, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				APIKey:    os.Getenv("CONNECTQ_API_KEY"),
				RateLimit: getEnvFloat("CONNECTQ_RATE_LIMIT", 0),
				RateBurst: getEnvInt("CONNECTQ_RATE_BURST", 0),
				Outbox:    consumer,
			})
			if err != nil {
				stop()
				<-consumerDone
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			err = srv.Start(ctx)
			stop()
			<-consumerDone
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env CONNECTQ_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env CONNECTQ_PORT)")

	return cmd
}

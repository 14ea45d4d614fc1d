package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/activestorage/s3-active-storage/internal/config"
	"github.com/activestorage/s3-active-storage/internal/fetch"
	"github.com/activestorage/s3-active-storage/internal/metrics"
	"github.com/activestorage/s3-active-storage/internal/pipeline"
	"github.com/activestorage/s3-active-storage/internal/reduce"
	storage "github.com/activestorage/s3-active-storage/internal/storage/s3"
	"github.com/activestorage/s3-active-storage/pkg/api"
	"github.com/activestorage/s3-active-storage/pkg/health"
	"github.com/activestorage/s3-active-storage/pkg/utils"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Address string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		Long: `Run the active storage proxy in front of the configured S3 endpoint.

Configuration is read from --config, S3_ACTIVE_STORAGE_CONFIG or
/etc/s3-active-storage/config.yaml, then overridden by S3_ACTIVE_STORAGE_*
environment variables.

Example:
  s3-active-storage serve --config ./config.yaml
  S3_ACTIVE_STORAGE_S3_ENDPOINT=http://minio:9000 s3-active-storage serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "listen address (overrides configuration)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return err
	}
	if opts.Address != "" {
		cfg.Server.Address = opts.Address
	}

	logger, closer, err := utils.SetupLogging(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	collector, err := metrics.NewCollector(cfg.MetricsConfig())
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}

	cm, err := storage.NewClientManager(ctx, cfg.StorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create S3 client manager: %w", err)
	}
	defer cm.Close()

	passthrough := storage.NewPassthrough(cm, cfg.Upstream.S3Endpoint)
	tracker := health.NewTracker(health.DefaultConfig())
	tracker.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("Upstream health changed",
			"endpoint", component,
			"from", oldState.String(),
			"to", newState.String(),
			"error", err)
	})

	svc := pipeline.New(reduce.NewRegistry(), fetch.New(cfg.FetchOptions(), collector, logger), collector, logger)
	srv := api.NewServer(api.ServerConfig{
		Address:           cfg.Server.Address,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorFormat:       cfg.Server.ErrorFormat,
	}, api.Dependencies{
		Pipeline:    svc,
		Storage:     cm,
		Passthrough: passthrough,
		Health:      tracker,
		Metrics:     collector,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Upstream.HealthCheckInterval; interval > 0 {
		go tracker.StartHealthChecks(ctx, interval, func(ctx context.Context, _ string) error {
			if timeout := cfg.Upstream.ConnectTimeout; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return passthrough.Probe(ctx)
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

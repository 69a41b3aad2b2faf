package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/bridge"
	"github.com/amoylab/pushgate/internal/broker"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/internal/common/redisx"
	"github.com/amoylab/pushgate/internal/ratelimit"
	"github.com/amoylab/pushgate/internal/server"
	"github.com/amoylab/pushgate/pkg/logger"
	"github.com/amoylab/pushgate/pkg/metrics"
	"github.com/amoylab/pushgate/pkg/trace"
	"github.com/amoylab/pushgate/pkg/version"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pushgate",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "pushgate",
		Short: "Pusher compatible WebSocket broker",
		Long:  `pushgate accepts Pusher protocol WebSocket clients and fans out events published through its HTTP API`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "pushgate.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("Starting pushgate", zap.String("version", version.Get()), zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, lg, cfg); err != nil {
		lg.Fatal("pushgate stopped", zap.Error(err))
	}
	lg.Info("pushgate stopped")
}

// serve wires every component and blocks until ctx is done or one of the
// supervised tasks fails.
func serve(ctx context.Context, lg *zap.Logger, cfg *config.BrokerConfig) error {
	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			lg.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	m := metrics.New(cfg.Metrics)

	apps, err := app.NewManager(ctx, lg, &cfg.AppManager)
	if err != nil {
		return fmt.Errorf("init app manager: %w", err)
	}
	if closer, ok := apps.(io.Closer); ok {
		defer closer.Close()
	}

	var client redis.UniversalClient
	if cfg.RateLimiter.Driver == config.DriverRedis {
		if client, err = redisx.Connect(ctx, &cfg.Redis); err != nil {
			return err
		}
	}
	limiter, err := ratelimit.NewLimiter(lg, &cfg.RateLimiter, client, clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}

	br, err := bridge.NewBridge(ctx, lg, &cfg.Bridge, &cfg.Redis, bridge.WithObserver(m))
	if err != nil {
		_ = limiter.Disconnect()
		return fmt.Errorf("init bridge: %w", err)
	}

	b := broker.New(lg, cfg, apps, limiter, br, broker.WithRecorder(m))
	defer func() {
		if err := b.Close(); err != nil {
			lg.Warn("failed to release broker resources", zap.Error(err))
		}
	}()
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	srv := server.NewServer(lg, cfg, b, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		select {
		case err := <-br.Fatal():
			return fmt.Errorf("bridge: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cmd/nexusmem/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imReese/NexusMem/pkg/admin"
	"github.com/imReese/NexusMem/pkg/config"
	"github.com/imReese/NexusMem/pkg/flusher"
	"github.com/imReese/NexusMem/pkg/log"
	"github.com/imReese/NexusMem/pkg/metrics"
	"github.com/imReese/NexusMem/pkg/server"
	"github.com/imReese/NexusMem/pkg/sink"
	"github.com/imReese/NexusMem/pkg/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const configPollInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and admin servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, configPath)
	},
}

func loadConfig(path string, logger *zap.Logger) (*config.ServerConfig, error) {
	cfg, err := config.LoadConfig(path, logger)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("Config file not found, using defaults", zap.String("config_path", path))
		return config.Default(), nil
	}
	return cfg, err
}

func newSink(cfg config.SinkConfig, logger *zap.Logger) (*sink.FileSink, error) {
	compression, err := sink.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return sink.NewFileSink(cfg.Dir, logger,
		sink.WithCompression(compression),
		sink.WithBloomFPRate(cfg.BloomFPRate))
}

func serve(ctx context.Context, path string) (err error) {
	bootLogger := log.NewConsoleLogger("info")
	defer bootLogger.Sync()

	cfg, err := loadConfig(path, bootLogger.Logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := log.SetupLoggerFromConfig(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logger.Sync()

	metrics.Init()

	engine := storage.NewCoordinator(storage.WithLogger(logger.Named("storage")))
	segments, err := newSink(cfg.Sink, logger.Named("sink"))
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	f := flusher.New(engine, segments, flusher.ConfigFrom(cfg.Flush), logger.Named("flusher"))

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	adminLis, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen admin: %w", err)
	}

	grpcServer := server.New(engine, logger.Named("grpc"))
	adminServer := admin.NewServer(engine, f, logger.Named("admin"))

	runCtx, cancelRun := context.WithCancel(context.Background())
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		_ = f.Run(runCtx)
	}()

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("Starting gRPC server", zap.String("address", grpcLis.Addr().String()))
		serveErr <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		serveErr <- adminServer.Serve(adminLis)
	}()

	watcher := config.NewConfigWatcher(path, logger.Logger, configPollInterval)
	watcher.Register(log.NewLevelReloadHandler(logger))
	watcher.Register(flusher.NewReloadHandler(f, logger.Named("flusher")))
	watcher.Start()
	defer watcher.Stop()

	logger.Info("Server started successfully",
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("admin_addr", cfg.AdminAddr),
		zap.String("segment_dir", segments.Dir()),
	)

	select {
	case <-ctx.Done():
	case serr := <-serveErr:
		if serr != nil {
			logger.Error("Server failed", zap.Error(serr))
			err = serr
		}
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopGRPC(shutdownCtx, grpcServer, logger.Logger)
	err = multierr.Append(err, adminServer.Shutdown(shutdownCtx))

	cancelRun()
	<-flusherDone

	if _, ferr := f.FlushOnce(shutdownCtx); ferr != nil {
		logger.Error("Final flush failed", zap.Error(ferr))
		err = multierr.Append(err, fmt.Errorf("final flush: %w", ferr))
	}
	err = multierr.Append(err, engine.Close())

	logger.Info("Server shutdown complete")
	return err
}

func stopGRPC(ctx context.Context, srv *grpc.Server, logger *zap.Logger) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		logger.Warn("Forcing gRPC server shutdown")
		srv.Stop()
	}
}

// Package app собирает кассовый узел: локальные хранилища, синхронизацию,
// HTTP API, gRPC и сервер метрик.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/posync/internal/health"
	grpcsvc "github.com/vladislavdragonenkov/posync/internal/service/grpc"
	"github.com/vladislavdragonenkov/posync/internal/service/refresh"
	"github.com/vladislavdragonenkov/posync/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/posync/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает узел и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(log.Fields{"component": "app", "device_id": cfg.DeviceID})

	deps, err := NewDependencies(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workers sync.WaitGroup
	startWorker := func(fn func(ctx context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(runCtx)
		}()
	}
	reconnect := deps.Monitor.Subscribe()
	startWorker(deps.Prober.Run)
	startWorker(deps.Processor.Run)
	startWorker(func(ctx context.Context) { refreshOnReconnect(ctx, deps, reconnect) })
	if deps.SessionCleanup != nil {
		startWorker(deps.SessionCleanup.Run)
	}

	consumer := startChangeConsumer(runCtx, deps, logger)

	grpcServer, healthServer := newGRPCServer(deps, logger)
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newAPIHandler(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := startMetricsServer(runCtx, cfg.MetricsAddr, logger, newHealthHandler(deps))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		cancel()
		shutdownHTTP(metricsSrv, logger)
		stopConsumer(consumer, logger)
		workers.Wait()
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	cancel()
	stopConsumer(consumer, logger)
	workers.Wait()
	return runErr
}

// refreshOnReconnect обновляет снапшот после каждого восстановления связи,
// включая первое успешное подключение после старта.
func refreshOnReconnect(ctx context.Context, deps *Dependencies, reconnect <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reconnect:
			if err := deps.Refresher.Refresh(ctx); err != nil && !refresh.IsSkipped(err) {
				deps.Logger.WithError(err).Warn("snapshot refresh after reconnect failed")
			}
		}
	}
}

func newAPIHandler(deps *Dependencies) http.Handler {
	options := []httpapi.Option{
		httpapi.WithLocation(deps.Location),
		httpapi.WithLogger(deps.Logger.WithField("component", "http-api")),
	}
	if deps.Sessions != nil {
		options = append(options, httpapi.WithSessions(deps.Sessions))
	}
	return httpapi.NewServer(deps.Billing, deps.Processor, deps.Refresher, options...).Handler()
}

func newGRPCServer(deps *Dependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	syncService := grpcsvc.NewSyncService(deps.Billing, deps.Processor, deps.Queue, deps.Refresher, logger.WithField("layer", "grpc"))
	grpcsvc.RegisterSyncServiceServer(grpcServer, syncService)
	grpcMetrics.InitializeMetrics(grpcServer)

	// grpcurl и posctl находят сервис через reflection.
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer, healthServer
}

// newHealthHandler регистрирует проверки. Офлайн — штатный режим кассы,
// поэтому недоступность удалённого хранилища только понижает статус до degraded.
func newHealthHandler(deps *Dependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.Version())
	handler.RegisterChecker("local-store", healthcheck.NewSimpleChecker("local-store", deps.Local.Ping))
	handler.RegisterChecker("remote-store", healthcheck.NewDegradingChecker("remote-store", deps.Remote.Ping))
	handler.RegisterChecker("sync-queue", healthcheck.NewBacklogChecker(deps.Backlog, deps.Config.BacklogMaxAge))
	return handler
}

// startMetricsServer запускает /metrics, /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// stopGRPC ждёт завершения активных вызовов не дольше shutdownTimeout.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

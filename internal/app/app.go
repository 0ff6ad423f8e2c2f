// Package app собирает зависимости storefront и запускает HTTP API, gRPC health, ops-сервер и воркеры.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run поднимает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting storefront")

	deps, err := initRuntimeDependencies(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer deps.closeFn()

	grpcServer, healthServer := newGRPCServer(logger)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}
	opsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		_ = httpLis.Close()
		return err
	}

	apiSrv := &http.Server{Handler: deps.api, ReadHeaderTimeout: readHeaderTimeout}
	opsSrv := &http.Server{Handler: newOpsMux(deps.health), ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		return serveHTTP(apiSrv, httpLis)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", opsLis.Addr())
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", opsLis.Addr(), opsLis.Addr(), opsLis.Addr())
		return serveHTTP(opsSrv, opsLis)
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	if deps.outboxWorker != nil {
		g.Go(func() error {
			deps.outboxWorker.Run(gctx)
			return nil
		})
	}
	if deps.cleanupWorker != nil {
		g.Go(func() error {
			deps.cleanupWorker.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(opsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newGRPCServer поднимает gRPC с health-сервисом, reflection и метриками.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
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

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection для grpcurl
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// newOpsMux отдаёт /metrics и health-эндпоинты.
func newOpsMux(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

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

// Command engine-server hosts hydraulic simulation sessions behind a gRPC
// API, with Prometheus metrics and optional step event publishing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/config"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/observability"
	"github.com/signalsfoundry/pipenet-simulator/internal/publish"
	"github.com/signalsfoundry/pipenet-simulator/internal/rpc"
	sim "github.com/signalsfoundry/pipenet-simulator/internal/sim/state"
	"github.com/signalsfoundry/pipenet-simulator/kb"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default: config.yaml in ., ./configs or $HOME/.pipenet)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the gRPC server listens on (overrides server.grpc_addr)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides metrics.addr)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine-server: %v\n", err)
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	log := logging.New(cfg.LoggingOptions())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "engine server exited", logging.Err(err))
		os.Exit(1)
	}
}

// engineHook applies the configured engine overrides to each uploaded
// network's options.
func engineHook(e config.EngineConfig) func(*kb.Network) {
	return func(n *kb.Network) { e.Apply(&n.Options) }
}

// run serves the engine API on lis until ctx is cancelled, then drains
// in-flight calls and closes every session.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, rpcMetrics.Handler(), log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingOptions(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	opts := []sim.Option{
		sim.WithSessionGauge(rpcMetrics),
		sim.WithLimit(cfg.Server.MaxSessions),
		sim.WithNetworkHook(engineHook(cfg.Engine)),
		sim.WithSessionOptions(
			core.WithMetrics(engineMetrics),
			core.WithTracer(observability.EngineTracer()),
		),
	}
	var pub *publish.Publisher
	if cfg.Publish.Enabled {
		pub, err = publish.New(cfg.Publish.URL, publish.Options{Logger: log})
		if err != nil {
			return fmt.Errorf("step publisher: %w", err)
		}
		defer pub.Close()
		opts = append(opts, sim.WithListener(pub.Listener()))
		log.Info(ctx, "publishing step events", logging.String("url", cfg.Publish.URL))
	}
	registry := sim.NewRegistry(log, opts...)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpc.RequestIDUnaryServerInterceptor(log),
			rpcMetrics.UnaryServerInterceptor(),
			rpc.TracingUnaryServerInterceptor(),
		),
	)
	rpc.RegisterSimulationServer(server, rpc.NewSimulationService(registry, log))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthSrv)
	reflection.Register(server)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting engine gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			result = fmt.Errorf("serve gRPC: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down engine server")
	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn(shutdownCtx, "graceful stop timed out; forcing")
		server.Stop()
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "closing sessions", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return result
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

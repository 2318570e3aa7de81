package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mrjvadi/go-signal-server/cache"
	"github.com/mrjvadi/go-signal-server/config"
	"github.com/mrjvadi/go-signal-server/connection"
	"github.com/mrjvadi/go-signal-server/extension"
	"github.com/mrjvadi/go-signal-server/queue"
	"github.com/mrjvadi/go-signal-server/router"
	"github.com/mrjvadi/go-signal-server/transport"

	// statically registered extension modules
	_ "github.com/mrjvadi/go-signal-server/examples/extensions/echo"
	_ "github.com/mrjvadi/go-signal-server/examples/extensions/users"
)

func main() {
	path := flag.String("config", "configuration.yaml", "path to the YAML or JSON configuration file")
	flag.Parse()

	// cancelled on Ctrl+C so shutdown is clean
	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*path)
	if err != nil {
		zap.NewExample().Fatal("could not load configuration", zap.Error(err))
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server shut down gracefully")
}

func newLogger(c config.LogConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(c.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, closeStore, err := cache.NewStore(ctx, cache.Options{
		Kind:   cache.Kind(cfg.Cache.Service),
		Addr:   cfg.Cache.Addr,
		DB:     cfg.Cache.DB,
		Prefix: cfg.Cache.Prefix,
		TTL:    expiry(cfg.Cache.ExpirySeconds),
	})
	if err != nil {
		return err
	}
	defer closeStore()

	service, err := queue.ParseService(cfg.Queue.Service)
	if err != nil {
		return err
	}
	factory, err := queue.NewFactory(ctx, queue.BrokerConfig{
		Service:      service,
		Host:         cfg.Broker.Host,
		VirtualHost:  cfg.Broker.VirtualHost,
		Username:     cfg.Broker.Username,
		Password:     cfg.Broker.Password,
		StreamLength: cfg.Broker.StreamLength,
		ReadBlock:    cfg.Broker.ReadBlock,
		MaxJobs:      cfg.Broker.MaxJobs,
	}, queue.WithLogger(logger.Named("queue")))
	if err != nil {
		return err
	}
	handler := queue.NewHandler(factory,
		queue.WithHandlerLogger(logger.Named("queue")),
		queue.WithPollInterval(cfg.Queue.PollInterval),
	)

	host := extension.NewHost(logger.Named("extension"), store)
	loader := extension.NewLoader(host)
	if err := loader.Load(ctx, extension.Descriptors(cfg)); err != nil {
		_ = handler.Stop()
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := router.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	opts := []router.Option{
		router.WithLogger(logger.Named("router")),
		router.WithQueueHandler(handler),
		router.WithMetrics(metrics),
	}
	if cfg.Cluster.Enabled {
		cc, err := clusterConfig(cfg.Cluster)
		if err != nil {
			return err
		}
		opts = append(opts, router.WithCluster(cc))
	}

	hub := connection.NewHub()
	r := router.New(loader, hub, opts...)
	host.SetDispatcher(r)
	if err := r.Initialize(ctx); err != nil {
		_ = handler.Stop()
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("router close", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", transport.NewServer(r, hub, loader.Extensions(), transport.WithLogger(logger.Named("transport"))))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Int("extensions", loader.Extensions().Len()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func clusterConfig(c config.ClusterConfig) (router.ClusterConfig, error) {
	topology, err := router.ParseTopology(c.Topology)
	if err != nil {
		return router.ClusterConfig{}, err
	}
	requests, err := declaration(c.Requests)
	if err != nil {
		return router.ClusterConfig{}, err
	}
	responses, err := declaration(c.Responses)
	if err != nil {
		return router.ClusterConfig{}, err
	}
	return router.ClusterConfig{
		Topology:  topology,
		NodeID:    c.NodeID,
		Requests:  requests,
		Responses: responses,
	}, nil
}

func declaration(c config.ChannelConfig) (queue.Declaration, error) {
	kind, err := queue.ParseExchangeKind(strings.TrimSpace(c.Type))
	if err != nil {
		return queue.Declaration{}, err
	}
	if c.Type == "" {
		kind = queue.Fanout
	}
	return queue.Declaration{
		Exchange: queue.ExchangeConfig{Name: c.Exchange, Kind: kind, Durable: c.Durable, AutoDelete: c.AutoDelete},
		Queue:    queue.QueueConfig{Name: c.Queue, RoutingKey: c.RoutingKey, Durable: c.Durable, AutoDelete: c.AutoDelete},
	}, nil
}

func expiry(seconds int) time.Duration {
	if seconds < 0 {
		return cache.NoExpiry
	}
	return time.Duration(seconds) * time.Second
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/consumer"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/redis"
)

func newServeCmd(a *app) *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve searches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, db)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "structure list whose formatted database to serve")
	return cmd
}

func (a *app) serve(ctx context.Context, db string) error {
	cfg := a.cfg
	a.metrics = metrics.New(nil)

	paths, err := a.paths(db)
	if err != nil {
		return err
	}
	if err := a.ensureDatabase(ctx, slogWriter{}, db, paths); err != nil {
		return err
	}
	eng, err := a.openEngine(paths)
	if err != nil {
		return err
	}
	defer eng.Close()

	checker := health.NewChecker()
	checker.Register("database", health.FuncCheck(func(context.Context) error {
		_, err := eng.Info()
		return err
	}))

	queryCache, closeCache := a.newCache(ctx, checker)
	defer closeCache()

	g, gctx := errgroup.WithContext(ctx)
	if len(cfg.Kafka.Brokers) > 0 {
		var invalidator consumer.Invalidator
		if queryCache != nil {
			invalidator = queryCache
		}
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DatabaseRebuilt, consumer.HandleMessage(eng, invalidator))
		rc := consumer.New(kc)
		g.Go(func() error { return rc.Start(gctx) })
		slog.Info("listening for rebuild events", "topic", cfg.Kafka.Topics.DatabaseRebuilt)
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port) })
	}

	mux := http.NewServeMux()
	handler.New(eng, queryCache, a.metrics, cfg.Search.DefaultTopK, cfg.Search.MaxTopK).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logging,
		middleware.Metrics(a.metrics, mux),
		middleware.RateLimit(cfg.Server.RateLimit),
		middleware.Timeout(cfg.Search.Timeout),
	)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down search service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr, "store", paths.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = g.Wait()
	slog.Info("search service stopped")
	return err
}

// newCache builds the configured result cache. A Redis cache that cannot be
// reached falls back to the in-process LRU.
func (a *app) newCache(ctx context.Context, checker *health.Checker) (*cache.QueryCache, func()) {
	cfg := a.cfg.Cache
	if !cfg.Enabled {
		slog.Info("search cache disabled")
		return nil, func() {}
	}
	if cfg.Backend == "redis" {
		client, err := pkgredis.NewClient(ctx, a.cfg.Redis)
		if err == nil {
			checker.Register("redis", health.OptionalCheck(client.Ping))
			slog.Info("search cache enabled", "backend", "redis", "addr", a.cfg.Redis.Addr, "ttl", cfg.TTL)
			return cache.New(cache.NewRedisBackend(client, "chemblast:search:"), cfg.TTL, a.metrics), func() { client.Close() }
		}
		slog.Warn("redis unavailable, using in-process cache", "error", err)
	}
	return a.lruCache(cfg), func() {}
}

func (a *app) lruCache(cfg config.CacheConfig) *cache.QueryCache {
	slog.Info("search cache enabled", "backend", "lru", "size", cfg.Size, "ttl", cfg.TTL)
	return cache.New(cache.NewLRUBackend(cfg.Size, cfg.TTL), cfg.TTL, a.metrics)
}

// slogWriter sends the formatting summary printed by ensureDatabase to the
// log instead of the terminal.
type slogWriter struct{}

func (slogWriter) Write(p []byte) (int, error) {
	slog.Info(string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	if n := len(p); n > 0 && p[n-1] == '\n' {
		return p[:n-1]
	}
	return p
}

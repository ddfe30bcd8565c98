package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ghost-systems/internal/config"
	"ghost-systems/internal/dispatcher"
	"ghost-systems/internal/fulfillment"
	"ghost-systems/internal/logging"
	"ghost-systems/internal/models"
	"ghost-systems/internal/retry"
	"ghost-systems/internal/review"
	"ghost-systems/internal/store"
	"ghost-systems/internal/store/memstore"
	"ghost-systems/internal/telemetry"
	"ghost-systems/internal/watcher"
	"ghost-systems/internal/worker"
)

type jobStore interface {
	dispatcher.JobStore
	watcher.Source
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("service", "ghost")

	if err := cfg.ValidateForGhost(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open job store")
	}
	defer closeStore()

	policy := retry.Policy{
		MaxAttempts: cfg.FulfillMaxAttempts,
		BaseDelay:   cfg.FulfillBackoffBase,
		MaxDelay:    cfg.FulfillBackoffMax,
	}
	client := &http.Client{Timeout: cfg.FulfillHTTPTimeout}

	if !cfg.PrintfulConfigured() {
		log.Warn("PRINTFUL_API_KEY not set: T-Shirt and Mug jobs will fail")
	}
	if !cfg.ShopifyConfigured() {
		log.Warn("Shopify credentials not set: digital product jobs will fail")
	}
	pod := fulfillment.NewPrintful(fulfillment.PrintfulConfig{
		BaseURL: cfg.PrintfulAPIURL,
		APIKey:  cfg.PrintfulAPIKey,
	}, client, policy, log)
	storefront := fulfillment.NewShopify(fulfillment.ShopifyConfig{
		StoreURL:    cfg.ShopifyStoreURL,
		APIKey:      cfg.ShopifyAPIKey,
		APIPassword: cfg.ShopifyAPIPassword,
		APIVersion:  cfg.ShopifyAPIVersion,
		Vendor:      cfg.ShopifyVendor,
	}, client, policy, log)

	var opts []dispatcher.Option
	if list := openReview(ctx, cfg, log); list != nil {
		opts = append(opts, dispatcher.WithReview(list))
	}
	d := dispatcher.New(st, pod, storefront, log, opts...)

	pool, err := worker.NewPool(cfg.GhostConcurrency, cfg.GhostQueueSize, func(ctx context.Context, job models.Job) {
		d.Dispatch(ctx, job)
	}, log)
	if err != nil {
		log.WithError(err).Fatal("build worker pool")
	}
	w := watcher.New(st, pool, log)

	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	log.WithFields(logrus.Fields{
		"concurrency": cfg.GhostConcurrency,
		"queue_size":  cfg.GhostQueueSize,
		"attempts":    cfg.FulfillMaxAttempts,
		"backoff":     cfg.FulfillBackoffBase,
	}).Info("ghost started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return w.Run(gctx) })
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx)

	if runErr != nil {
		log.WithError(runErr).Fatal("ghost stopped")
	}
	log.Info("ghost stopped")
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (jobStore, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory job store: jobs are not shared with the oracle process")
		return memstore.New(), func() {}, nil
	}
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, st.Close, nil
}

// openReview returns nil when Redis is unreachable; failures are then only logged.
func openReview(ctx context.Context, cfg config.Config, log logrus.FieldLogger) *review.List {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, review list disabled")
		_ = client.Close()
		return nil
	}
	return review.New(client, cfg.ReviewList)
}

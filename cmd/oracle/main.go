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

	"ghost-systems/internal/api"
	"ghost-systems/internal/archive"
	"ghost-systems/internal/config"
	"ghost-systems/internal/logging"
	"ghost-systems/internal/oracle"
	"ghost-systems/internal/ratelimit"
	"ghost-systems/internal/review"
	"ghost-systems/internal/store"
	"ghost-systems/internal/store/memstore"
)

type jobStore interface {
	api.JobStore
	oracle.JobWriter
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("service", "oracle")

	if err := cfg.ValidateForOracle(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open job store")
	}
	defer closeStore()

	cat, err := oracle.LoadCatalog(cfg.OracleCatalogPath)
	if err != nil {
		log.WithError(err).Fatal("load catalog")
	}
	up, err := archive.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("open archive")
	}
	pub := oracle.NewPublisher(st, oracle.NewGenerator(cat, nil), up, cfg.OracleVersion, log)

	if cfg.OracleMode == "once" {
		job, created, err := pub.Publish(ctx)
		if err != nil {
			log.WithError(err).Fatal("publish product")
		}
		log.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"type":    string(job.ProductType),
			"price":   job.Price,
			"created": created,
		}).Info("oracle run finished")
		return
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(st, pub, review.New(redisClient, cfg.ReviewList), limiter, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.HTTPPort).Info("oracle api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.OracleInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.OracleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, _, err := pub.Publish(gctx); err != nil {
						log.WithError(err).Error("scheduled publish failed")
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("oracle stopped")
	}
	log.Info("oracle stopped")
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (jobStore, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory job store: jobs are not shared with the ghost process")
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

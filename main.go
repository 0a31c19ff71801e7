package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tableflow-pos-service/internal/archive"
	"tableflow-pos-service/internal/canonical"
	"tableflow-pos-service/internal/config"
	"tableflow-pos-service/internal/db"
	httpapi "tableflow-pos-service/internal/http"
	"tableflow-pos-service/internal/http/handlers"
	"tableflow-pos-service/internal/ingest"
	"tableflow-pos-service/internal/jobs"
	"tableflow-pos-service/internal/logger"
	"tableflow-pos-service/internal/metrics"
	"tableflow-pos-service/internal/notify"
	"tableflow-pos-service/internal/orders"
	"tableflow-pos-service/internal/pos"
	"tableflow-pos-service/internal/pos/clover"
	"tableflow-pos-service/internal/pos/square"
	"tableflow-pos-service/internal/pos/toast"
	"tableflow-pos-service/internal/tickets"
	"tableflow-pos-service/internal/ws"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	metrics.RegisterDefault()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("schema migration failed", zap.Error(err))
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis url invalid", zap.Error(err))
		}
		redisClient = goredis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			if cfg.IsProduction() {
				log.Fatal("redis connection failed", zap.Error(err))
			}
			log.Warn("redis unavailable; dedup falls back to postgres", zap.Error(err))
			redisClient = nil
		}
	} else {
		log.Info("redis dedup disabled (REDIS_URL is empty)")
	}

	var publisher *notify.Publisher
	if cfg.RabbitMQURL != "" {
		pub, err := notify.New(cfg.RabbitMQURL)
		if err != nil {
			if cfg.IsProduction() {
				log.Fatal("rabbitmq connection failed", zap.Error(err))
			}
			log.Warn("rabbitmq connection failed; continuing without notifications", zap.Error(err))
		} else if err := pub.EnsureTopology(); err != nil {
			if cfg.IsProduction() {
				log.Fatal("rabbitmq topology failed", zap.Error(err))
			}
			log.Warn("rabbitmq topology failed; continuing without notifications", zap.Error(err))
			_ = pub.Close()
		} else {
			publisher = pub
			defer publisher.Close()
			log.Info("rabbitmq enabled", zap.String("exchange", notify.EventsExchange))
		}
	} else {
		log.Info("notifications disabled (RABBITMQ_URL is empty)")
	}

	var archiver *archive.Store
	if cfg.ObjectStoreBucket != "" {
		archiver, err = archive.New(ctx, archive.Config{
			Endpoint:        cfg.ObjectStoreEndpoint,
			Region:          cfg.ObjectStoreRegion,
			AccessKeyID:     cfg.ObjectStoreAccessKeyID,
			SecretAccessKey: cfg.ObjectStoreSecretAccessKey,
			Bucket:          cfg.ObjectStoreBucket,
			StorageClass:    cfg.ObjectStoreStorageClass,
		})
		if err != nil {
			if cfg.IsProduction() {
				log.Fatal("payload archive init failed", zap.Error(err))
			}
			log.Warn("payload archive init failed; continuing without archive", zap.Error(err))
			archiver = nil
		}
	} else {
		log.Info("payload archive disabled (no bucket configured)")
	}

	registry := pos.NewRegistry(pool, map[canonical.Provider]pos.Constructor{
		canonical.ProviderSquare: square.New,
		canonical.ProviderToast:  toast.New,
		canonical.ProviderClover: clover.New,
	})
	if err := registry.LoadDefaultsFile(cfg.POSCredentialsFile); err != nil {
		log.Fatal("credentials file invalid", zap.Error(err))
	}

	ingestStore := &ingest.Store{DB: pool, Redis: redisClient, Logger: log}
	if archiver != nil {
		ingestStore.Archive = archiver
	}
	orderStore := &orders.Store{DB: pool}
	ticketStore := &tickets.Store{DB: pool, Logger: log}
	queue := jobs.NewQueue(pool)
	processor := &jobs.Processor{
		DB:       pool,
		Registry: registry,
		Orders:   orderStore,
		Tickets:  ticketStore,
		Notify:   publisher,
		Logger:   log,
	}
	worker := &jobs.Worker{
		Queue:      queue,
		Execute:    processor.Execute,
		Logger:     log,
		PassBudget: cfg.WorkerPassBudget,
		BatchLimit: int(cfg.WorkerBatchLimit),
	}

	h := &handlers.Handler{
		DB:       pool,
		Logger:   log,
		Config:   cfg,
		Registry: registry,
		Ingest:   ingestStore,
		Queue:    queue,
		Worker:   worker,
		Orders:   orderStore,
		Tickets:  ticketStore,
		Notify:   publisher,
	}
	if archiver != nil {
		h.Archive = archiver
	}

	wsServer := ws.New(ticketStore, log, cfg)
	apiServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(h, wsServer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("pos sync api ready", zap.String("base", "/api"))
		log.Info("ticket stream ready", zap.String("base", "/ws"))
		log.Info("pos service listening", zap.String("addr", cfg.HTTPAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctxShutdown); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/cache"
	h "github.com/GrowPals/cartsync/internal/http"
	"github.com/GrowPals/cartsync/internal/poller"
	"github.com/GrowPals/cartsync/internal/publisher"
	"github.com/GrowPals/cartsync/internal/repository"
	"github.com/GrowPals/cartsync/internal/service"
	"github.com/GrowPals/cartsync/internal/telemetry"
	"github.com/GrowPals/cartsync/pkg/logger"
)

type Config struct {
	HTTPPort        string
	StoreBackend    string // "postgres" or "mongo"
	DatabaseURL     string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string // empty: in-process cache
	RedisPassword   string
	KafkaBrokers    []string // empty: no realtime bridge
	OTELEndpoint    string
	LogLevel        string
	StaleAfter      time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		StoreBackend:    getEnv("STORE_BACKEND", "postgres"),
		DatabaseURL:     getEnv("DATABASE_URL", "postgres://localhost:5432/cartsync?sslmode=disable"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		OTELEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StaleAfter:      30 * time.Second,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if v := getEnv("CART_STALE_AFTER", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StaleAfter = d
		}
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	instanceID := uuid.NewString()

	shutdownTracing, err := telemetry.InitTracing(ctx, "cartsync", cfg.OTELEndpoint)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing(ctx)

	// Remote cart store
	var repo repository.CartRepository
	switch cfg.StoreBackend {
	case "mongo":
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer db.Client().Disconnect(ctx)
		repo = repository.NewMongoRepository(db, log)
		log.Info("connected to MongoDB", zap.String("uri", cfg.MongoURI))
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to ping Postgres", zap.Error(err))
		}
		if err := repository.Migrate(db); err != nil {
			log.Fatal("failed to migrate", zap.Error(err))
		}
		repo = repository.NewPostgresRepository(db, log)
		log.Info("connected to Postgres")
	default:
		log.Fatal("unknown store backend", zap.String("backend", cfg.StoreBackend))
	}
	repo = repository.NewBreakerRepository(repo, log)

	// Snapshot cache
	var cartCache cache.CartCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		cartCache = cache.NewRedisCache(redisClient, cfg.StaleAfter)
		log.Info("using redis cart cache", zap.String("addr", cfg.RedisAddr))
	} else {
		cartCache = cache.NewMemoryCache(cfg.StaleAfter)
		log.Info("using in-process cart cache")
	}

	// Realtime bridge
	var events service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub := publisher.NewKafkaPublisher(instanceID, log, cfg.KafkaBrokers...)
		defer pub.Close()
		events = pub
	}

	svc := service.NewCartService(repo, cartCache, events, log, service.Config{})

	pollerCtx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()
	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(svc, instanceID, log, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(pollerCtx)
		log.Info("realtime bridge running", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	handler := h.NewCartHandler(svc, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cartsync listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down cartsync...")
	stopPoller()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("cartsync stopped")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"artisan_chat/internal/config"
	"artisan_chat/internal/handler"
	"artisan_chat/internal/middleware"
	"artisan_chat/internal/realtime"
	"artisan_chat/internal/repository"
	"artisan_chat/internal/service"
	"artisan_chat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	var appLogger logger.Logger
	if cfg.Log.Pretty {
		appLogger = logger.NewConsole(cfg.Log.Level)
	} else {
		appLogger = logger.New(cfg.Log.Level)
	}

	ctx := context.Background()

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	checks := map[string]handler.HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// Хранилище чатов: PostgreSQL или MongoDB
	var repos *repository.Repositories
	switch cfg.Database.Driver {
	case config.DriverMongo:
		mongoClient, err := repository.ConnectMongo(ctx, cfg.Database.MongoURI, cfg.Database.MaxConnections)
		if err != nil {
			appLogger.Fatal("Failed to connect to MongoDB", "error", err)
		}
		defer disconnectMongo(mongoClient, appLogger)

		db := mongoClient.Database(cfg.Database.MongoDatabase)
		if cfg.Database.MigrateAtStart {
			if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
				appLogger.Fatal("Failed to create MongoDB indexes", "error", err)
			}
		}
		appLogger.Info("MongoDB connection established", "database", cfg.Database.MongoDatabase)

		checks["database"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
		repos = repository.NewMongoRepositories(db, rdb, cfg.Chat.ProfileCacheTTL, appLogger)

	default:
		dbPool, err := connectPostgres(ctx, cfg.Database)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()

		if cfg.Database.MigrateAtStart {
			if err := repository.Migrate(ctx, dbPool); err != nil {
				appLogger.Fatal("Failed to migrate database", "error", err)
			}
		}
		appLogger.Info("Database connection established")

		checks["database"] = dbPool.Ping
		repos = repository.NewPostgresRepositories(dbPool, rdb, cfg.Chat.ProfileCacheTTL, appLogger)
	}

	// Realtime-хаб создается раньше сервисов: он их Broadcaster
	hub := realtime.NewHub(cfg.Realtime, appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, cfg, hub, appLogger)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, hub, checks, cfg, appLogger)

	// Настройка роутера
	router := handler.NewRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// websocket-соединения hijacked, srv.Shutdown их не закрывает
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Realtime hub did not drain in time", "error", err)
	}

	appLogger.Info("Server exited")
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func disconnectMongo(client *mongo.Client, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		log.Error("Failed to disconnect MongoDB", "error", err)
	}
}

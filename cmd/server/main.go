package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"stratflow/internal/api"
	"stratflow/internal/app/builder"
	"stratflow/internal/db/memory"
	"stratflow/internal/db/postgres"
	redisdb "stratflow/internal/db/redis"
	"stratflow/internal/domain/strategy/port"
	"stratflow/internal/integration"
	"stratflow/internal/platform/config"
	applog "stratflow/internal/platform/log"
	"stratflow/internal/platform/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	defer applog.Sync()

	collector := metrics.NewCollector("stratflow")

	repo, closeDB := initRepository(cfg)
	defer closeDB()

	drafts, closeRedis := initDraftCache(cfg)
	defer closeRedis()

	sessions := builder.NewManager(builder.Config{
		SessionTTL:      time.Duration(cfg.Builder.SessionTTLSeconds) * time.Second,
		JanitorInterval: time.Duration(cfg.Builder.JanitorIntervalSeconds) * time.Second,
	}, repo, drafts, collector)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go sessions.RunJanitor(janitorCtx)
	applog.Infof("✅ Builder sessions ready (ttl: %ds, janitor: %ds)", cfg.Builder.SessionTTLSeconds, cfg.Builder.JanitorIntervalSeconds)

	integrations := integration.NewClient(integration.Config{
		Timeout:            time.Duration(cfg.Integrations.TimeoutSeconds) * time.Second,
		BreakerMaxFailures: uint32(cfg.Integrations.BreakerMaxFailures),
		BreakerOpenTimeout: time.Duration(cfg.Integrations.BreakerOpenSeconds) * time.Second,
		LedgerURL:          cfg.Integrations.LedgerURL,
	}, integration.ProvidersFromConfig(cfg.Integrations), collector)
	applog.Infof("✅ Integrations configured: %v", integrations.Names())

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.AllowedOrigins = cfg.Server.AllowedOrigins
	server := api.NewServer(serverConfig, repo, sessions, integrations, collector)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		stopJanitor()
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// initRepository 配置了 DATABASE_URL 时使用 PostgreSQL，否则退化为内存存储
func initRepository(cfg *config.AppConfig) (port.Repository, func()) {
	if cfg.Database.URL == "" {
		applog.Info("ℹ️  No DATABASE_URL set, saved strategies kept in memory")
		return memory.NewRepository(), func() {}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.PingTimeoutSeconds)*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	pgRepo := postgres.NewRepository(db)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.MigrationTimeoutSeconds)*time.Second)
	defer migrateCancel()
	if err := pgRepo.EnsureStrategiesTable(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure strategies table: %v", err)
	}
	applog.Info("✅ Strategies table ready")

	return pgRepo, func() { db.Close() }
}

// initDraftCache 配置了 REDIS_URL 时启用草稿缓存；连接失败只告警
func initDraftCache(cfg *config.AppConfig) (port.DraftCache, func()) {
	if cfg.Redis.URL == "" {
		applog.Info("ℹ️  No REDIS_URL set, session drafts disabled")
		return nil, func() {}
	}

	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Warnf("⚠️  Redis URL invalid, session drafts disabled: %v", err)
		return nil, func() {}
	}

	redisClient := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.PingTimeoutSeconds)*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		applog.Warnf("⚠️  Redis connection failed, session drafts disabled: %v", err)
		redisClient.Close()
		return nil, func() {}
	}
	applog.Infof("✅ Connected to Redis for session drafts (TTL: %ds)", cfg.Builder.DraftTTLSeconds)

	return redisdb.NewDraftCache(redisClient, cfg.Builder.DraftTTLSeconds), func() { redisClient.Close() }
}

package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sudooom.social.dm/internal/config"
	"sudooom.social.dm/internal/connection"
	"sudooom.social.dm/internal/handler"
	"sudooom.social.dm/internal/health"
	"sudooom.social.dm/internal/httpapi"
	dmNats "sudooom.social.dm/internal/nats"
	"sudooom.social.dm/internal/presence"
	"sudooom.social.dm/internal/redisstore"
	"sudooom.social.dm/internal/repository"
	"sudooom.social.dm/internal/server"
	"sudooom.social.dm/internal/service"
	"sudooom.social.dm/internal/task"
	"sudooom.social.dm/internal/typing"
	"sudooom.social.dm/internal/workerpool"
	"sudooom.social.dm/pkg/jwt"
	"sudooom.social.dm/pkg/snowflake"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 按配置重建日志级别
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接 NATS
	natsClient, err := dmNats.NewClient(cfg.NATS)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 连接 Redis
	store := redisstore.NewClient(cfg.Redis, cfg.App.NodeID)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 雪花 ID 节点
	idNode, err := snowflake.NewNode(snowflakeNodeID(cfg.App.NodeID))
	if err != nil {
		logger.Error("Failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	// Worker Pool 与定时任务调度器
	pool := workerpool.New(cfg.Worker.Workers, cfg.Worker.QueueSize, logger)
	scheduler := task.NewScheduler(pool)
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start task scheduler", "error", err)
		os.Exit(1)
	}

	// 事件路由：Redis 位置查询 + NATS 节点下行
	publisher := dmNats.NewDownstreamPublisher(natsClient.Conn())
	dispatcher := service.NewDispatcher(publisher)
	router := service.NewRouter(store, dispatcher)

	// 核心服务
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	messaging := service.NewMessagingService(db, convRepo, msgRepo, idNode, router)
	receipts := service.NewReceiptService(msgRepo, router)

	// 在线状态与输入状态
	tracker := presence.NewTracker(scheduler, store, router,
		time.Duration(cfg.Presence.OfflineGrace)*time.Second)
	typingCoord := typing.NewCoordinator(messaging, router, scheduler,
		time.Duration(cfg.Typing.Expire)*time.Second)

	// 实时网关
	jwtService := jwt.NewService(cfg.Auth.TokenSecret, cfg.Auth.AccessExpire, cfg.Auth.RefreshExpire)
	connMgr := connection.NewManager()
	h := handler.NewHandler(
		connMgr, messaging, receipts, typingCoord, tracker,
		store, jwtService, cfg.App.NodeID, logger, pool,
	)
	srv := server.New(cfg, connMgr, h, natsClient, logger)

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("WebTransport server stopped", "error", err)
			cancel()
		}
	}()

	// REST API
	convHandler := httpapi.NewConversationHandler(messaging)
	msgHandler := httpapi.NewMessageHandler(messaging, receipts)
	apiServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: httpapi.SetupRouter(jwtService, convHandler, msgHandler),
	}
	go func() {
		logger.Info("HTTP API server starting", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP API server failed", "error", err)
		}
	}()

	// 健康检查与指标
	healthChecker := health.NewChecker(natsClient.Conn(), store.Raw(), db)
	go startHealthServer(cfg.Server.HealthAddr, healthChecker, logger)

	logger.Info("DM server started", "name", cfg.App.Name, "node_id", cfg.App.NodeID)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	srv.Shutdown()
	scheduler.Stop()
	pool.Shutdown()
	logger.Info("DM server stopped")
}

// startHealthServer 启动健康检查与指标 HTTP 服务
func startHealthServer(addr string, healthChecker *health.Checker, logger *slog.Logger) {
	if addr == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthChecker.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
		}
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("Health check server started", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Health check server failed", "error", err)
	}
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// snowflakeNodeID 从节点名派生雪花节点号（0-1023）
func snowflakeNodeID(nodeID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(nodeID))
	return int64(h.Sum32() % 1024)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

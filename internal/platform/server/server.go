package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm-gateway/internal/audit"
	"dm-gateway/internal/delivery"
	"dm-gateway/internal/identity"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/platform/driver"
	"dm-gateway/internal/platform/logger"
	"dm-gateway/internal/platform/middleware"
	"dm-gateway/internal/presence"
	"dm-gateway/internal/push"
	"dm-gateway/internal/query"
	"dm-gateway/internal/storage"
	"dm-gateway/internal/storage/database"
	"dm-gateway/internal/storage/memory"
)

// Deps 路由處理器的依賴集合.
type Deps struct {
	Repos       *storage.Repositories
	Coordinator *delivery.Coordinator
	Query       *query.Service
	Hub         *push.Hub
	Tracker     *presence.Tracker
	Auth        *middleware.AuthMiddleware
	Audit       *audit.Service
}

// Start 啟動伺服器.
func Start() error {
	// 初始化日誌系統
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	logger.LogInfof("正在啟動 DM Gateway API 伺服器...")

	// 載入設定
	if err := config.Load(); err != nil {
		logger.LogErrorf("載入設定失敗: %v", err)
		return err
	}

	cfg := config.Get()
	logger.LogInfof("設定載入成功，環境: %s", config.GetEnv())

	// 依配置選擇存儲引擎
	repos, cleanup, err := buildRepositories(cfg)
	if err != nil {
		logger.LogErrorf("初始化存儲失敗: %v", err)
		return err
	}
	defer cleanup()

	logger.LogInfof("儲存庫集合初始化完成，引擎: %s", engineName(cfg))

	deps := buildDeps(cfg, repos)

	// setting router
	router := Router(deps)

	// create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: 0, // SSE 與 WebSocket 需要長連接，設為 0 表示不超時
		IdleTimeout:  120 * time.Second,
	}

	// start server
	go func() {
		logger.LogInfof("伺服器正在監聽埠口: %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogErrorf("伺服器啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}

	logger.LogInfof("伺服器已優雅關閉")
	return nil
}

// buildRepositories 依配置建立存儲，回傳清理函數.
func buildRepositories(cfg *config.Config) (*storage.Repositories, func(), error) {
	if cfg.Database.Engine == "memory" {
		return memory.NewRepositories(), func() {}, nil
	}

	if err := driver.ConnectMongo(); err != nil {
		return nil, nil, fmt.Errorf("資料庫連接失敗: %w", err)
	}

	cleanup := func() {
		if err := driver.CloseMongo(); err != nil {
			logger.LogErrorf("關閉 MongoDB 連接失敗: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repos, err := database.NewRepositories(ctx, driver.GetMongoDatabase())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("初始化索引失敗: %w", err)
	}
	return repos, cleanup, nil
}

// buildDeps 組裝服務依賴.
func buildDeps(cfg *config.Config, repos *storage.Repositories) *Deps {
	hub := push.NewHub()
	tracker := presence.NewTracker()
	resolver := identity.NewJWTResolver(cfg.Identity.JWTSecret, cfg.Identity.Issuer)
	auditor := audit.NewService(true)

	return &Deps{
		Repos:       repos,
		Coordinator: delivery.NewCoordinator(repos, hub, tracker, auditor),
		Query:       query.NewService(repos),
		Hub:         hub,
		Tracker:     tracker,
		Auth:        middleware.NewAuthMiddleware(resolver),
		Audit:       auditor,
	}
}

func engineName(cfg *config.Config) string {
	if cfg.Database.Engine == "" {
		return "mongo"
	}
	return cfg.Database.Engine
}

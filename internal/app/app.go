// Package app wires configuration, storage, cache, and the HTTP surface
// into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockettaro/taro-server/internal/auth"
	"github.com/rockettaro/taro-server/internal/cache"
	"github.com/rockettaro/taro-server/internal/config"
	"github.com/rockettaro/taro-server/internal/db"
	"github.com/rockettaro/taro-server/internal/http/api/handlers"
	"github.com/rockettaro/taro-server/internal/session"
	"github.com/rockettaro/taro-server/internal/usecase"
	"github.com/rockettaro/taro-server/internal/wechat"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds the graceful drain on exit.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations, then exits.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn, config.LoadDatabaseMaxConns(configPath))
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the auth service and blocks until ctx is cancelled or
// the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn, config.LoadDatabaseMaxConns(configPath))
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	redisURL, errRedis := config.LoadRedisURL(configPath)
	if errRedis != nil {
		return errRedis
	}
	client, errCache := cache.NewFromURL(redisURL)
	if errCache != nil {
		return errCache
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	if errPing := client.Ping(pingCtx); errPing != nil {
		// The durable store remains authoritative, so a missing cache
		// degrades latency, not correctness.
		log.WithError(errPing).Warn("cache backend unreachable at startup, continuing degraded")
	}
	cancelPing()

	sessionCfg, errSession := config.LoadSessionConfig(configPath)
	if errSession != nil {
		return errSession
	}
	wechatCfg, errWeChat := config.LoadWeChatConfig(configPath)
	if errWeChat != nil {
		return errWeChat
	}

	manager := session.NewManager(conn, client)
	authService := usecase.NewAuthService(conn, client, manager)
	authHandler := handlers.NewAuthHandler(authService, sessionCfg.CookieSecure)
	cacheHandler := handlers.NewCacheAdminHandler(client)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/guest", authHandler.GuestLogin)
	api.POST("/auth/logout", auth.RequireUser(manager), authHandler.Logout)
	api.GET("/auth/current", auth.RequireUser(manager), authHandler.Current)
	api.GET("/auth/status", auth.OptionalUser(manager), authHandler.Status)

	if wechatCfg.AppID != "" && wechatCfg.AppSecret != "" {
		wxService := usecase.NewWeChatService(conn, client, manager, wechat.NewClient(wechatCfg))
		wxHandler := handlers.NewWeChatHandler(wxService, sessionCfg.CookieSecure)
		api.POST("/auth/wx-login", wxHandler.Login)
	} else {
		log.Info("wechat credentials not configured, mini-program login disabled")
	}

	admin := api.Group("/admin", auth.RequireAdmin(manager))
	admin.GET("/cache/health", cacheHandler.Health)
	admin.POST("/cache/invalidate", cacheHandler.Invalidate)
	admin.POST("/cache/cleanup", cacheHandler.Cleanup)

	go manager.RunSweeper(ctx, sessionCfg.SweepInterval)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(drainCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

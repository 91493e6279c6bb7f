package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/koopa0/minigames/internal"
)

func main() {
	// 載入 .env（檔案不存在時靜默跳過，環境變數優先於預設值）
	_ = godotenv.Load()

	// 解析命令行參數（預設值可被環境變數覆寫）
	var (
		port      = flag.Int("port", envInt("PORT", 3004), "服務器端口")
		logLevel  = flag.String("log-level", envStr("LOG_LEVEL", "info"), "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", envStr("LOG_FORMAT", "text"), "日誌格式 (text, json)")
		grace     = flag.Duration("grace-period", envDuration("GRACE_PERIOD", 30*time.Second), "斷線重連寬限期")
		roomTTL   = flag.Duration("room-ttl", envDuration("ROOM_TTL", 2*time.Hour), "房間最長壽命")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 創建房間註冊表
	registry := internal.NewRegistry(logger, internal.Config{
		GracePeriod: *grace,
		RoomTTL:     *roomTTL,
	})

	// 創建 WebSocket Hub 與派發層（互相引用，建構後注入）
	hub := internal.NewHub(logger)
	dispatcher := internal.NewDispatcher(registry, hub, logger)
	hub.SetHandler(dispatcher)
	registry.SetNotifier(hub)

	// 創建 HTTP 處理器
	handler := internal.NewHandler(registry, hub, logger)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("小遊戲派對服務器啟動",
			"port", *port,
			"grace_period", *grace,
			"room_ttl", *roomTTL,
			"log_level", *logLevel)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止房間註冊表（銷毀房間、取消計時器）
	registry.Stop()

	// 停止 WebSocket Hub
	hub.Stop()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// envStr 讀取字串環境變數
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt 讀取整數環境變數
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration 讀取時長環境變數
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

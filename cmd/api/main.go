package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/api"
	"github.com/Slade66/audiobook-fetcher/internal/config"
	"github.com/Slade66/audiobook-fetcher/internal/downloader"
	"github.com/Slade66/audiobook-fetcher/internal/observer"
	"github.com/Slade66/audiobook-fetcher/internal/status"
	"github.com/Slade66/audiobook-fetcher/internal/uploader"
	"github.com/redis/go-redis/v9"
)

// 取消后给外部进程的退出时间
const gracePeriod = 10 * time.Second

// initRedis 在配置了 REDIS_ADDR 时连接 Redis，未配置时返回 nil
func initRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("❌ 无法连接到 Redis: %v", err)
	}
	fmt.Println("✅ 成功连接到 Redis!")
	return rdb
}

func main() {
	cfg := config.FromEnv()

	for _, dir := range []string{cfg.ConfigDir, cfg.DownloadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("❌ 无法创建目录 %s: %v", dir, err)
		}
	}

	settings, err := config.NewSettingsStore(cfg.ConfigDir)
	if err != nil {
		log.Fatalf("❌ 无法加载设置 %s: %v", cfg.ConfigDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statusManager := status.NewManager()
	if rdb := initRedis(cfg); rdb != nil {
		defer rdb.Close()
		mirror := observer.NewRedisMirror(rdb)
		statusManager.AddObserver(mirror)
		go mirror.Run(ctx)
	}

	sched := downloader.New(statusManager, settings, downloader.ExecRunner{GracePeriod: gracePeriod}, downloader.Options{
		DownloadsDir: cfg.DownloadsDir,
		ConfigPath:   settings.Path(),
		Binary:       cfg.AudiobookDLBin,
		FFprobeBin:   cfg.FFprobeBin,
		GracePeriod:  gracePeriod,
	})
	if cfg.Obs.Enabled() {
		obsUploader, err := uploader.NewObsUploader(cfg.Obs.Endpoint, cfg.Obs.AK, cfg.Obs.SK, cfg.Obs.Bucket, cfg.Obs.Prefix)
		if err != nil {
			log.Fatalf("❌ 无法初始化 OBS 客户端: %v", err)
		}
		defer obsUploader.Close()
		sched.SetUploader(obsUploader)
		fmt.Println("✅ 已启用 OBS 归档上传")
	}
	// 并发上限等设置变化后立刻重新做一次准入
	settings.OnChange(func(config.Settings) { sched.Kick() })

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.NewServer(statusManager, sched, settings, cfg).NewRouter(),
	}
	go func() {
		fmt.Printf("🚀 API 服务已启动，监听 %s\n", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP 服务异常退出: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 收到退出信号，正在停止...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP 服务关闭失败: %v", err)
	}
	// 正在运行的任务会被取消，等它们收尾
	<-schedDone
	log.Println("👋 已退出")
}

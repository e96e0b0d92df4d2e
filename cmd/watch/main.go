package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/client"
	"github.com/Slade66/audiobook-fetcher/internal/watch"
)

func main() {
	server := flag.String("server", envOr("AUDIOBOOK_SERVER", "http://localhost:8000"), "编排服务地址")
	submit := flag.String("submit", "", "启动前先提交的 URL，多个用逗号分隔")
	fastest := flag.Duration("min-interval", watch.MinInterval, "有变化时的轮询间隔")
	slowest := flag.Duration("max-interval", watch.MaxInterval, "无变化时逐步放慢到的最长间隔")
	flag.Parse()

	api := client.NewAPI(*server)

	if *submit != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		res, err := api.Submit(ctx, strings.Split(*submit, ","))
		cancel()
		if err != nil {
			log.Fatalf("❌ 提交失败: %v", err)
		}
		for _, w := range res.Warnings {
			fmt.Printf("⚠️ %s: %s\n", w.URL, w.Warning)
		}
		fmt.Printf("📥 已提交 %d 个任务\n", len(res.Tasks))
	}

	if err := watch.Run(api, watch.NewReconciler(*fastest, *slowest)); err != nil {
		log.Fatalf("❌ 面板异常退出: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

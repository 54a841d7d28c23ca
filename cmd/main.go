package main

import (
	"log"

	"btc-band-sentry/pkg/config"
	"btc-band-sentry/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}

	// 初始化日志
	if _, err := logger.Init(cfg.Log); err != nil {
		log.Fatal("初始化日志失败:", err)
	}
	defer zap.L().Sync()

	// 创建并启动应用
	app := NewApp(cfg)
	app.Start()

	// 等待中断信号后优雅关闭
	app.WaitForShutdown()
	app.Stop()
}

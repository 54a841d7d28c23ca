package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"btc-band-sentry/internal/notifier"
	"btc-band-sentry/internal/strategy/engine"
	"btc-band-sentry/internal/strategy/monitor"
	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
)

// App 应用程序管理器
type App struct {
	config *types.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp 创建应用程序实例
func NewApp(config *types.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动应用程序
func (app *App) Start() {
	zap.L().Info("🚀 BTC Band Sentry 启动中...")

	// 启动布林带影线策略引擎
	if app.config.Strategy.Bands.Enabled {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.startBandStrategy()
		}()
	} else {
		zap.L().Warn("🚫 布林带影线策略未启用，进程将空转")
	}

	zap.L().Info("✅ BTC Band Sentry 已启动")
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.cancel()

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ BTC Band Sentry 已安全关闭")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}
}

// WaitForShutdown 等待关闭信号
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// startBandStrategy 启动布林带影线策略引擎
func (app *App) startBandStrategy() {
	zap.L().Info("📈 启动布林带影线策略引擎")

	// 根据配置选择通知服务（优先级：Discord > 钉钉 > 控制台）
	notifyService := notifier.NewFromConfig(app.config)

	// 创建策略引擎
	strategyEngine, err := engine.NewBandEngine(app.config, notifyService)
	if err != nil {
		zap.L().Error("❌ 创建布林带策略引擎失败", zap.Error(err))
		return
	}

	// 启动策略引擎
	if err := strategyEngine.Start(); err != nil {
		zap.L().Error("❌ 启动布林带策略引擎失败", zap.Error(err))
		return
	}

	// 创建性能监控器
	performanceMonitor := monitor.NewPerformanceMonitor(
		strategyEngine.GetDatabaseManager(), strategyEngine, app.config.Strategy.Bands)
	performanceMonitor.Start()

	// 启动Prometheus指标服务
	var metricsServer *monitor.MetricsServer
	if app.config.Metrics.Enabled {
		metricsServer = monitor.NewMetricsServer(app.config.Metrics.ListenAddr)
		metricsServer.Start()
	}

	// 等待上下文取消
	<-app.ctx.Done()

	zap.L().Info("🛑 停止布林带影线策略引擎")

	// 停止性能监控与指标服务
	performanceMonitor.Stop()
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			zap.L().Error("❌ 停止指标服务失败", zap.Error(err))
		}
	}

	// 停止策略引擎
	if err := strategyEngine.Stop(); err != nil {
		zap.L().Error("❌ 停止策略引擎失败", zap.Error(err))
	}
}

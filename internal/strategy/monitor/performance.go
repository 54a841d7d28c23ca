package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"btc-band-sentry/internal/strategy/database"
	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
)

// StatsProvider 引擎统计数据来源
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// PerformanceMonitor 策略性能监控器
type PerformanceMonitor struct {
	dbManager *database.Manager
	engine    StatsProvider
	config    types.BandsConfig

	ctx    context.Context
	cancel context.CancelFunc

	// 性能指标，监控循环写入、报告循环读取，统一走mu
	mu      sync.RWMutex
	metrics *PerformanceMetrics
}

// PerformanceMetrics 性能指标
type PerformanceMetrics struct {
	StartTime       time.Time                 `json:"start_time"`
	TotalSignals    int64                     `json:"total_signals"`
	LongSignals     int64                     `json:"long_signals"`
	ShortSignals    int64                     `json:"short_signals"`
	ProcessedKlines int64                     `json:"processed_klines"`
	DetectedTouches int64                     `json:"detected_touches"`
	AvgConfidence   float64                   `json:"avg_confidence"`
	SignalFrequency float64                   `json:"signal_frequency"` // 信号/小时
	ConfigStats     map[string]*ConfigMetrics `json:"config_stats"`
	LastUpdateTime  time.Time                 `json:"last_update_time"`
}

// ConfigMetrics 单条策略配置的性能指标
type ConfigMetrics struct {
	ConfigID        string    `json:"config_id"`
	TotalSignals    int       `json:"total_signals"`
	LongSignals     int       `json:"long_signals"`
	ShortSignals    int       `json:"short_signals"`
	AvgConfidence   float64   `json:"avg_confidence"`
	LastSignalTime  time.Time `json:"last_signal_time"`
	LastDirection   string    `json:"last_direction"`
	LastEntryPrice  float64   `json:"last_entry_price"`
	ExpectedProfit  float64   `json:"expected_profit"`
}

// NewPerformanceMonitor 创建性能监控器
func NewPerformanceMonitor(dbManager *database.Manager, engine StatsProvider, config types.BandsConfig) *PerformanceMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &PerformanceMonitor{
		dbManager: dbManager,
		engine:    engine,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		metrics: &PerformanceMetrics{
			StartTime:   time.Now(),
			ConfigStats: make(map[string]*ConfigMetrics),
		},
	}
}

// Start 启动性能监控
func (pm *PerformanceMonitor) Start() {
	if !pm.config.Enabled {
		return
	}

	zap.L().Info("📊 启动策略性能监控器")

	// 初始化各配置指标
	for _, bandCfg := range pm.config.Configs {
		pm.metrics.ConfigStats[bandCfg.ID] = &ConfigMetrics{
			ConfigID:       bandCfg.ID,
			ExpectedProfit: bandCfg.ExpectedProfit,
		}
	}

	// 启动监控协程
	go pm.monitorLoop()
	go pm.reportLoop()
}

// monitorLoop 监控循环
func (pm *PerformanceMonitor) monitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.updateMetrics()
		}
	}
}

// reportLoop 报告循环
func (pm *PerformanceMonitor) reportLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.generateReport()
		}
	}
}

// updateMetrics 更新性能指标
func (pm *PerformanceMonitor) updateMetrics() {
	// 获取引擎统计数据
	engineStats := pm.engine.GetStats()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	// 更新基础指标
	if processedKlines, ok := engineStats["processed_klines"].(int64); ok {
		pm.metrics.ProcessedKlines = processedKlines
	}

	if detectedTouches, ok := engineStats["detected_touches"].(int64); ok {
		pm.metrics.DetectedTouches = detectedTouches
	}

	if emittedSignals, ok := engineStats["emitted_signals"].(int64); ok {
		pm.metrics.TotalSignals = emittedSignals
	}

	if connected, ok := engineStats["ws_connected"].(bool); ok {
		if connected {
			WebSocketConnected.Set(1)
		} else {
			WebSocketConnected.Set(0)
		}
	}

	// 计算信号频率（信号/小时）
	runTime := time.Since(pm.metrics.StartTime).Hours()
	if runTime > 0 {
		pm.metrics.SignalFrequency = float64(pm.metrics.TotalSignals) / runTime
	}

	// 更新各配置的详细统计
	pm.updateConfigMetrics()

	pm.metrics.LastUpdateTime = time.Now()
}

// updateConfigMetrics 更新配置指标
func (pm *PerformanceMonitor) updateConfigMetrics() {
	// 检查数据库管理器是否可用
	if pm.dbManager == nil {
		zap.L().Debug("数据库管理器未初始化，跳过配置指标更新")
		return
	}

	// 从数据库获取最近的信号数据
	dbSignals, err := pm.dbManager.GetTradingSignals(pm.config.Symbol, 200)
	if err != nil {
		zap.L().Warn("获取交易信号失败",
			zap.String("symbol", pm.config.Symbol),
			zap.Error(err))
		return
	}

	if len(dbSignals) == 0 {
		return
	}

	// 按配置分组统计
	byConfig := make(map[string][]database.TradingSignal)
	for _, signal := range dbSignals {
		byConfig[signal.ConfigID] = append(byConfig[signal.ConfigID], signal)
	}

	var longTotal, shortTotal int64
	var confidenceSum float64
	var confidenceCount int

	for configID, configSignals := range byConfig {
		configMetrics := pm.metrics.ConfigStats[configID]
		if configMetrics == nil {
			configMetrics = &ConfigMetrics{ConfigID: configID}
			pm.metrics.ConfigStats[configID] = configMetrics
		}

		configMetrics.TotalSignals = len(configSignals)
		configMetrics.LongSignals = 0
		configMetrics.ShortSignals = 0

		var totalConfidence float64
		for _, signal := range configSignals {
			if signal.Direction == string(types.DirectionLong) {
				configMetrics.LongSignals++
			} else if signal.Direction == string(types.DirectionShort) {
				configMetrics.ShortSignals++
			}
			totalConfidence += signal.Confidence
		}

		configMetrics.AvgConfidence = totalConfidence / float64(len(configSignals))

		// 更新最新信号信息（按时间倒序排列，第一个是最新的）
		latest := configSignals[0]
		configMetrics.LastSignalTime = time.Unix(latest.SignalTime, 0)
		configMetrics.LastDirection = latest.Direction
		configMetrics.LastEntryPrice = latest.EntryPrice

		longTotal += int64(configMetrics.LongSignals)
		shortTotal += int64(configMetrics.ShortSignals)
		confidenceSum += totalConfidence
		confidenceCount += len(configSignals)
	}

	pm.metrics.LongSignals = longTotal
	pm.metrics.ShortSignals = shortTotal

	if confidenceCount > 0 {
		pm.metrics.AvgConfidence = confidenceSum / float64(confidenceCount)
	}
}

// generateReport 生成性能报告
func (pm *PerformanceMonitor) generateReport() {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	runTime := time.Since(pm.metrics.StartTime)

	zap.L().Info("📈 策略性能报告",
		zap.Duration("run_time", runTime),
		zap.Int64("processed_klines", pm.metrics.ProcessedKlines),
		zap.Int64("detected_touches", pm.metrics.DetectedTouches),
		zap.Int64("total_signals", pm.metrics.TotalSignals),
		zap.Int64("long_signals", pm.metrics.LongSignals),
		zap.Int64("short_signals", pm.metrics.ShortSignals),
		zap.Float64("avg_confidence", pm.metrics.AvgConfidence),
		zap.Float64("signal_frequency", pm.metrics.SignalFrequency))

	// 输出各配置的详细报告
	for configID, metrics := range pm.metrics.ConfigStats {
		if metrics.TotalSignals > 0 {
			zap.L().Info("📊 配置性能",
				zap.String("config_id", configID),
				zap.Int("total_signals", metrics.TotalSignals),
				zap.Int("long_signals", metrics.LongSignals),
				zap.Int("short_signals", metrics.ShortSignals),
				zap.Float64("avg_confidence", metrics.AvgConfidence),
				zap.Float64("expected_profit", metrics.ExpectedProfit),
				zap.Time("last_signal_time", metrics.LastSignalTime),
				zap.String("last_direction", metrics.LastDirection),
				zap.Float64("last_entry_price", metrics.LastEntryPrice))
		}
	}
}

// GetMetrics 获取当前性能指标的快照，与内部状态不共享map
func (pm *PerformanceMonitor) GetMetrics() *PerformanceMetrics {
	pm.updateMetrics()

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	snapshot := *pm.metrics
	snapshot.ConfigStats = make(map[string]*ConfigMetrics, len(pm.metrics.ConfigStats))
	for configID, metrics := range pm.metrics.ConfigStats {
		copied := *metrics
		snapshot.ConfigStats[configID] = &copied
	}

	return &snapshot
}

// GetMetricsJSON 获取JSON格式的性能指标
func (pm *PerformanceMonitor) GetMetricsJSON() (string, error) {
	metrics := pm.GetMetrics()
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DailyReport 日报告
type DailyReport struct {
	ConfigID      string    `json:"config_id"`
	Date          time.Time `json:"date"`
	TotalSignals  int       `json:"total_signals"`
	LongSignals   int       `json:"long_signals"`
	ShortSignals  int       `json:"short_signals"`
	AvgConfidence float64   `json:"avg_confidence"`
	LongRatio     float64   `json:"long_ratio"`
	ShortRatio    float64   `json:"short_ratio"`
}

// GetDailyReport 获取指定配置的日报告
func (pm *PerformanceMonitor) GetDailyReport(configID string) (*DailyReport, error) {
	// 获取今日性能数据
	performances, err := pm.dbManager.GetStrategyPerformance(configID, 1)
	if err != nil {
		return nil, err
	}

	if len(performances) == 0 {
		return &DailyReport{
			ConfigID: configID,
			Date:     time.Now().Truncate(24 * time.Hour),
		}, nil
	}

	perf := performances[0]

	report := &DailyReport{
		ConfigID:     configID,
		Date:         perf.Date,
		TotalSignals: perf.TotalSignals,
		LongSignals:  perf.LongSignals,
		ShortSignals: perf.ShortSignals,
	}

	if perf.AvgConfidence != nil {
		report.AvgConfidence = *perf.AvgConfidence
	}

	if report.TotalSignals > 0 {
		report.LongRatio = float64(report.LongSignals) / float64(report.TotalSignals) * 100
		report.ShortRatio = float64(report.ShortSignals) / float64(report.TotalSignals) * 100
	}

	return report, nil
}

// PrintFormattedReport 打印格式化报告
func (pm *PerformanceMonitor) PrintFormattedReport() {
	metrics := pm.GetMetrics()
	runTime := time.Since(metrics.StartTime)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("📈 布林带影线策略性能报告")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("🕐 运行时间: %s\n", runTime.Truncate(time.Second))
	fmt.Printf("📊 处理K线: %d\n", metrics.ProcessedKlines)
	fmt.Printf("👆 触碰次数: %d\n", metrics.DetectedTouches)
	fmt.Printf("🎯 总信号数: %d\n", metrics.TotalSignals)
	fmt.Printf("📈 做多信号: %d\n", metrics.LongSignals)
	fmt.Printf("📉 做空信号: %d\n", metrics.ShortSignals)
	fmt.Printf("⭐ 平均置信度: %.2f\n", metrics.AvgConfidence)
	fmt.Printf("🔄 信号频率: %.2f信号/小时\n", metrics.SignalFrequency)
	fmt.Println(strings.Repeat("-", 80))

	// 各配置详细信息
	for configID, configMetrics := range metrics.ConfigStats {
		if configMetrics.TotalSignals > 0 {
			fmt.Printf("💹 %s: %d信号 (%.2f置信度) 最近: %s\n",
				configID,
				configMetrics.TotalSignals,
				configMetrics.AvgConfidence,
				configMetrics.LastSignalTime.Format("01-02 15:04"))
		}
	}

	fmt.Println(strings.Repeat("=", 80) + "\n")
}

// Stop 停止性能监控
func (pm *PerformanceMonitor) Stop() {
	zap.L().Info("🛑 停止策略性能监控器")
	pm.cancel()
}

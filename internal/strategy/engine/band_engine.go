package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"btc-band-sentry/internal/notifier"
	"btc-band-sentry/internal/storage"
	"btc-band-sentry/internal/strategy/database"
	"btc-band-sentry/internal/strategy/fetcher"
	"btc-band-sentry/internal/strategy/indicators"
	"btc-band-sentry/internal/strategy/monitor"
	"btc-band-sentry/internal/strategy/signals"
	"btc-band-sentry/internal/strategy/websocket"
	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
)

// BandEngine 布林带影线策略引擎
// 每个周期独立持有缓冲区与信号引擎，互不共享状态
type BandEngine struct {
	config   types.BandsConfig
	wsClient *websocket.Client
	detector *signals.WickDetector

	dbManager      *database.Manager
	registryStore  *storage.RegistryStore
	historyFetcher *fetcher.HistoryKlineFetcher
	notify         notifier.Interface

	// 每条配置一个计算器
	calculators map[string]*indicators.BandCalculator

	// 数据管道（按周期隔离）
	klineBuffer   map[string][]*types.KLine
	signalEngines map[string]*signals.SignalEngine
	lastOpenTime  map[string]time.Time
	timeframeChan map[string]chan *types.KLine
	bufferMutex   sync.RWMutex

	signalChan chan *types.TradingSignal

	// 控制
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 统计
	processedKlines int64
	detectedTouches int64
	emittedSignals  int64
	statsMutex      sync.RWMutex
}

// NewBandEngine 创建布林带策略引擎
func NewBandEngine(cfg *types.Config, notify notifier.Interface) (*BandEngine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	strategyCfg := cfg.Strategy.Bands

	// 创建WebSocket客户端
	wsClient := websocket.NewClient(cfg.WebSocket.BinanceEndpoint, cfg.Network.Proxy, cfg.WebSocket)

	// 创建影线触碰检测器
	detector := signals.NewWickDetector(strategyCfg)

	// 创建数据库管理器
	dbManager, err := database.NewManager(cfg.Database.MySQL)
	if err != nil {
		cancel()
		return nil, err
	}

	// 创建登记表备份存储
	maxAge := time.Duration(strategyCfg.MaxSignalAgeSeconds) * time.Second
	registryStore := storage.NewRegistryStore(cfg.Redis, maxAge)

	// 创建历史数据获取器
	historyFetcher := fetcher.NewHistoryKlineFetcher(cfg.Network.Proxy, 30*time.Second)

	// 每条配置一个布林带计算器
	calculators := make(map[string]*indicators.BandCalculator, len(strategyCfg.Configs))
	for _, bandCfg := range strategyCfg.Configs {
		calculators[bandCfg.ID] = indicators.NewBandCalculator(bandCfg)
	}

	// 每个周期一套独立的缓冲区、信号引擎与处理通道
	signalEngines := make(map[string]*signals.SignalEngine, len(strategyCfg.Timeframes))
	timeframeChan := make(map[string]chan *types.KLine, len(strategyCfg.Timeframes))
	for _, tf := range strategyCfg.Timeframes {
		signalEngines[tf] = signals.NewSignalEngine(strategyCfg)
		timeframeChan[tf] = make(chan *types.KLine, 1000)
	}

	engine := &BandEngine{
		config:         strategyCfg,
		wsClient:       wsClient,
		detector:       detector,
		dbManager:      dbManager,
		registryStore:  registryStore,
		historyFetcher: historyFetcher,
		notify:         notify,
		calculators:    calculators,
		klineBuffer:    make(map[string][]*types.KLine),
		signalEngines:  signalEngines,
		lastOpenTime:   make(map[string]time.Time),
		timeframeChan:  timeframeChan,
		signalChan:     make(chan *types.TradingSignal, 1000),
		ctx:            ctx,
		cancel:         cancel,
	}

	return engine, nil
}

// Start 启动策略引擎
func (be *BandEngine) Start() error {
	if !be.config.Enabled {
		zap.L().Info("🚫 布林带影线策略未启用")
		return nil
	}

	zap.L().Info("🚀 启动布林带影线策略引擎",
		zap.String("symbol", be.config.Symbol),
		zap.Strings("timeframes", be.config.Timeframes),
		zap.Int("configs", len(be.config.Configs)))

	// 1. 恢复冷却状态与活跃信号
	be.restoreCooldowns()
	be.restoreActiveSignals()

	// 2. 初始化历史K线数据
	if err := be.initializeHistoryData(); err != nil {
		return fmt.Errorf("初始化历史数据失败: %v", err)
	}

	// 3. 连接WebSocket
	if err := be.wsClient.Connect(); err != nil {
		return err
	}

	// 4. 订阅K线数据
	if err := be.wsClient.Subscribe(be.config.Symbol, be.config.Timeframes); err != nil {
		return err
	}

	// 5. 启动各个处理协程
	be.startWorkers()

	zap.L().Info("✅ 布林带影线策略引擎启动成功")

	return nil
}

// startWorkers 启动工作协程
func (be *BandEngine) startWorkers() {
	// 启动WebSocket数据读取
	be.wsClient.StartReading()

	// 启动K线数据收集器
	be.wg.Add(1)
	go be.klineCollector()

	// 每个周期一个处理器，保证同周期内串行处理
	for tf := range be.timeframeChan {
		be.wg.Add(1)
		go be.klineProcessor(tf)
	}

	// 启动信号处理器
	be.wg.Add(1)
	go be.signalProcessor()
}

// goTracked 启动受WaitGroup跟踪的协程，Stop关闭存储层前会等待其完成
func (be *BandEngine) goTracked(fn func()) {
	be.wg.Add(1)
	go func() {
		defer be.wg.Done()
		fn()
	}()
}

// klineCollector K线数据收集器，按周期分发
func (be *BandEngine) klineCollector() {
	defer be.wg.Done()

	klineSource := be.wsClient.GetKlineChannel()

	for {
		select {
		case <-be.ctx.Done():
			return
		case kline := <-klineSource:
			if kline == nil {
				continue
			}

			ch, ok := be.timeframeChan[kline.Interval]
			if !ok {
				zap.L().Warn("收到未订阅周期的K线，丢弃",
					zap.String("interval", kline.Interval))
				continue
			}

			select {
			case ch <- kline:
			default:
				zap.L().Warn("K线处理通道满，丢弃数据",
					zap.String("interval", kline.Interval))
			}
		}
	}
}

// klineProcessor 单周期K线处理器
func (be *BandEngine) klineProcessor(timeframe string) {
	defer be.wg.Done()

	zap.L().Debug("启动K线处理器", zap.String("timeframe", timeframe))

	ch := be.timeframeChan[timeframe]
	for {
		select {
		case <-be.ctx.Done():
			return
		case kline := <-ch:
			if kline == nil {
				continue
			}

			be.processKline(timeframe, kline)
		}
	}
}

// processKline 处理单根收盘K线
func (be *BandEngine) processKline(timeframe string, kline *types.KLine) {
	// 断流检测：开盘时间跳过一个以上周期说明中间有K线缺失
	gapped := be.detectGap(timeframe, kline)

	// 更新K线缓冲区
	be.updateKlineBuffer(timeframe, kline)
	klines := be.getKlineHistory(timeframe)

	be.incrementKlineCount()
	monitor.CandlesProcessed.WithLabelValues(timeframe).Inc()

	// 计算各配置的布林带序列
	bandsByConfig := make(map[string][]types.BandSet, len(be.calculators))
	for configID, calc := range be.calculators {
		bands, err := calc.Bands(klines)
		if err != nil {
			zap.L().Error("计算布林带失败",
				zap.String("config_id", configID),
				zap.Error(err))
			continue
		}
		bandsByConfig[configID] = bands
	}

	// 检测影线触碰：断流后回扫最近几根，正常情况只看最新一根
	var touches []*types.WickTouch
	if gapped {
		zap.L().Warn("⚠️ 检测到K线断流，回扫补检",
			zap.String("timeframe", timeframe),
			zap.Int("lookback", be.config.LookbackPeriods))
		touches = be.detector.ScanWindow(klines, bandsByConfig, be.config.LookbackPeriods)
	} else {
		latest := len(klines) - 1
		for configID, bands := range bandsByConfig {
			touches = append(touches, be.detector.DetectTouches(klines[latest], bands[latest], configID)...)
		}
	}

	if len(touches) == 0 {
		return
	}

	be.addTouchCount(int64(len(touches)))
	for _, touch := range touches {
		monitor.TouchesDetected.WithLabelValues(timeframe, touch.ConfigID).Inc()
	}

	// 置信度过滤
	qualified := be.detector.FilterByConfidence(touches, be.config.MinConfidence)
	if len(qualified) == 0 {
		zap.L().Debug("触碰置信度不足，全部过滤",
			zap.String("timeframe", timeframe),
			zap.Int("touches", len(touches)))
		return
	}

	// 触碰记录落库（异步）
	be.goTracked(func() {
		be.persistTouches(qualified, timeframe)
	})

	// 每条配置只取最近一次触碰进入信号评估
	closePrice := klines[len(klines)-1].Close
	se := be.signalEngines[timeframe]
	for _, touch := range latestTouchPerConfig(qualified) {
		signal, err := se.GenerateSignal(touch, be.config.Symbol, timeframe, closePrice)
		if err != nil {
			zap.L().Warn("信号评估失败",
				zap.String("config_id", touch.ConfigID),
				zap.Error(err))
			continue
		}
		if signal == nil {
			continue
		}

		select {
		case be.signalChan <- signal:
			be.incrementSignalCount()
		default:
			zap.L().Warn("信号处理通道满", zap.String("signal_id", signal.SignalID))
		}
	}

	monitor.ActiveSignals.WithLabelValues(timeframe).Set(float64(len(se.ActiveSignals())))
}

// detectGap 判断新K线与上一根之间是否有缺口
func (be *BandEngine) detectGap(timeframe string, kline *types.KLine) bool {
	be.bufferMutex.Lock()
	defer be.bufferMutex.Unlock()

	last, ok := be.lastOpenTime[timeframe]
	be.lastOpenTime[timeframe] = kline.OpenTime
	if !ok {
		return false
	}

	interval := websocket.IntervalDuration(timeframe)
	return kline.OpenTime.Sub(last) > interval
}

// latestTouchPerConfig 每条配置保留时间最近的一次触碰
func latestTouchPerConfig(touches []*types.WickTouch) []*types.WickTouch {
	latest := make(map[string]*types.WickTouch)
	for _, touch := range touches {
		existing, ok := latest[touch.ConfigID]
		if !ok || touch.Timestamp.After(existing.Timestamp) {
			latest[touch.ConfigID] = touch
		}
	}

	result := make([]*types.WickTouch, 0, len(latest))
	for _, touch := range latest {
		result = append(result, touch)
	}
	return result
}

// updateKlineBuffer 更新K线缓冲区，超出容量时淘汰最旧的K线
func (be *BandEngine) updateKlineBuffer(timeframe string, kline *types.KLine) {
	be.bufferMutex.Lock()
	defer be.bufferMutex.Unlock()

	buffer := append(be.klineBuffer[timeframe], kline)
	if len(buffer) > be.config.BufferSize {
		buffer = buffer[len(buffer)-be.config.BufferSize:]
	}
	be.klineBuffer[timeframe] = buffer
}

// getKlineHistory 获取K线历史数据副本
func (be *BandEngine) getKlineHistory(timeframe string) []*types.KLine {
	be.bufferMutex.RLock()
	defer be.bufferMutex.RUnlock()

	klines := be.klineBuffer[timeframe]
	result := make([]*types.KLine, len(klines))
	copy(result, klines)

	return result
}

// persistTouches 保存触碰记录
func (be *BandEngine) persistTouches(touches []*types.WickTouch, timeframe string) {
	for _, touch := range touches {
		if err := be.dbManager.SaveWickTouch(touch, timeframe); err != nil {
			zap.L().Debug("保存触碰记录失败",
				zap.String("config_id", touch.ConfigID),
				zap.Error(err))
		}
	}
}

// signalProcessor 信号处理器：落库、备份、通知
func (be *BandEngine) signalProcessor() {
	defer be.wg.Done()

	zap.L().Debug("启动信号处理器")

	for {
		select {
		case <-be.ctx.Done():
			return
		case signal := <-be.signalChan:
			if signal == nil {
				continue
			}

			be.processSignal(signal)
		}
	}
}

// processSignal 处理交易信号
func (be *BandEngine) processSignal(signal *types.TradingSignal) {
	zap.L().Info("📊 处理交易信号",
		zap.String("signal_id", signal.SignalID),
		zap.String("direction", string(signal.Direction)),
		zap.Float64("entry_price", signal.EntryPrice),
		zap.Float64("confidence", signal.Confidence))

	monitor.SignalsEmitted.WithLabelValues(
		signal.Timeframe, signal.ConfigID, string(signal.Direction)).Inc()

	// 落库与性能统计（异步）
	be.goTracked(func() {
		if err := be.dbManager.SaveTradingSignal(signal); err != nil {
			zap.L().Error("保存交易信号失败",
				zap.Error(err),
				zap.String("signal_id", signal.SignalID))
		}

		if err := be.dbManager.UpdateStrategyPerformance(signal.ConfigID, signal.Direction, signal.Confidence); err != nil {
			zap.L().Error("更新策略性能失败",
				zap.Error(err),
				zap.String("config_id", signal.ConfigID))
		}
	})

	// Redis备份冷却与信号快照
	be.registryStore.BackupCooldown(cooldownKey(signal.Timeframe, signal.ConfigID), signal.Timestamp)
	be.registryStore.BackupSignal(signal)

	// 发送通知
	if err := be.notify.SendSignal(signal); err != nil {
		zap.L().Error("发送信号通知失败",
			zap.Error(err),
			zap.String("signal_id", signal.SignalID))
	}
}

// cooldownKey 冷却备份键，周期与配置联合
func cooldownKey(timeframe, configID string) string {
	return timeframe + ":" + configID
}

// restoreCooldowns 进程重启后恢复各周期的冷却状态
func (be *BandEngine) restoreCooldowns() {
	snapshot := be.registryStore.LoadCooldowns()
	if len(snapshot) == 0 {
		return
	}

	byTimeframe := make(map[string]map[string]time.Time)
	for key, t := range snapshot {
		timeframe, configID, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		if byTimeframe[timeframe] == nil {
			byTimeframe[timeframe] = make(map[string]time.Time)
		}
		byTimeframe[timeframe][configID] = t
	}

	for tf, se := range be.signalEngines {
		if cooldowns, ok := byTimeframe[tf]; ok {
			se.RestoreCooldowns(cooldowns)
		}
	}
}

// restoreActiveSignals 进程重启后恢复活跃信号快照，按周期分发到各信号引擎
func (be *BandEngine) restoreActiveSignals() {
	snapshot := be.registryStore.LoadActiveSignals()
	if len(snapshot) == 0 {
		return
	}

	byTimeframe := make(map[string][]*types.TradingSignal)
	for _, signal := range snapshot {
		byTimeframe[signal.Timeframe] = append(byTimeframe[signal.Timeframe], signal)
	}

	for tf, se := range be.signalEngines {
		if signals, ok := byTimeframe[tf]; ok {
			se.RestoreActiveSignals(signals)
		}
	}
}

// initializeHistoryData 初始化历史K线数据，预热指标缓冲区
func (be *BandEngine) initializeHistoryData() error {
	zap.L().Info("📚 开始初始化历史K线数据",
		zap.String("symbol", be.config.Symbol),
		zap.Strings("timeframes", be.config.Timeframes),
		zap.Int("limit", be.config.BufferSize))

	historyData, err := be.historyFetcher.FetchMultipleIntervalsHistory(
		be.config.Symbol,
		be.config.Timeframes,
		be.config.BufferSize,
	)
	if err != nil {
		return fmt.Errorf("获取历史数据失败: %v", err)
	}

	be.bufferMutex.Lock()
	totalKlines := 0
	for timeframe, klines := range historyData {
		if len(klines) == 0 {
			zap.L().Warn("⚠️ 历史数据为空", zap.String("timeframe", timeframe))
			continue
		}

		be.klineBuffer[timeframe] = klines
		be.lastOpenTime[timeframe] = klines[len(klines)-1].OpenTime
		totalKlines += len(klines)

		zap.L().Info("✅ 历史数据初始化完成",
			zap.String("timeframe", timeframe),
			zap.Int("klines_count", len(klines)),
			zap.Time("oldest", klines[0].OpenTime),
			zap.Time("newest", klines[len(klines)-1].OpenTime))
	}
	be.bufferMutex.Unlock()

	// 批量落库（异步，失败不影响启动）
	be.goTracked(func() {
		for timeframe, klines := range historyData {
			if err := be.dbManager.BatchSaveKlines(klines); err != nil {
				zap.L().Error("批量保存历史K线失败",
					zap.String("timeframe", timeframe),
					zap.Error(err))
			}
		}
	})

	zap.L().Info("🎉 所有历史K线数据初始化完成",
		zap.Int("timeframes_count", len(historyData)),
		zap.Int("total_klines", totalKlines))

	return nil
}

// incrementKlineCount 增加K线计数
func (be *BandEngine) incrementKlineCount() {
	be.statsMutex.Lock()
	be.processedKlines++
	be.statsMutex.Unlock()
}

// addTouchCount 增加触碰计数
func (be *BandEngine) addTouchCount(n int64) {
	be.statsMutex.Lock()
	be.detectedTouches += n
	be.statsMutex.Unlock()
}

// incrementSignalCount 增加信号计数
func (be *BandEngine) incrementSignalCount() {
	be.statsMutex.Lock()
	be.emittedSignals++
	be.statsMutex.Unlock()
}

// GetStats 获取统计信息
func (be *BandEngine) GetStats() map[string]interface{} {
	be.statsMutex.RLock()
	processedKlines := be.processedKlines
	detectedTouches := be.detectedTouches
	emittedSignals := be.emittedSignals
	be.statsMutex.RUnlock()

	be.bufferMutex.RLock()
	bufferSizes := make(map[string]int)
	for timeframe, klines := range be.klineBuffer {
		bufferSizes[timeframe] = len(klines)
	}
	be.bufferMutex.RUnlock()

	engineStats := make(map[string]interface{})
	for tf, se := range be.signalEngines {
		engineStats[tf] = se.Stats()
	}

	return map[string]interface{}{
		"processed_klines": processedKlines,
		"detected_touches": detectedTouches,
		"emitted_signals":  emittedSignals,
		"buffer_sizes":     bufferSizes,
		"signal_engines":   engineStats,
		"registry_store":   be.registryStore.Stats(),
		"ws_connected":     be.wsClient.IsConnected(),
		"enabled":          be.config.Enabled,
		"symbol":           be.config.Symbol,
		"timeframes":       be.config.Timeframes,
	}
}

// GetDatabaseManager 获取数据库管理器
func (be *BandEngine) GetDatabaseManager() *database.Manager {
	return be.dbManager
}

// Stop 停止策略引擎
func (be *BandEngine) Stop() error {
	zap.L().Info("🛑 停止布林带影线策略引擎")

	// 取消上下文
	be.cancel()

	// 关闭WebSocket连接
	if err := be.wsClient.Close(); err != nil {
		zap.L().Error("关闭WebSocket连接失败", zap.Error(err))
	}

	// 等待所有协程结束
	done := make(chan struct{})
	go func() {
		be.wg.Wait()
		close(done)
	}()

	// 设置超时
	select {
	case <-done:
		zap.L().Info("✅ 所有工作协程已停止")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 停止超时，强制退出")
	}

	// 关闭存储层
	if err := be.registryStore.Close(); err != nil {
		zap.L().Error("关闭Redis连接失败", zap.Error(err))
	}
	if err := be.dbManager.Close(); err != nil {
		zap.L().Error("关闭数据库连接失败", zap.Error(err))
	}

	zap.L().Info("✅ 布林带影线策略引擎已停止")

	return nil
}

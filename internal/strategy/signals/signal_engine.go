package signals

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
)

// ErrUnknownConfig 配置不在目标集合中，属配置错误，仅跳过该次评估
var ErrUnknownConfig = errors.New("配置不在目标集合中")

// ErrInvalidInput 触碰或价格数据无效，仅跳过该次评估
var ErrInvalidInput = errors.New("输入数据无效")

// SignalRegistry 信号登记表：活跃信号、历史记录、各配置最近发信时间
// 由唯一一个SignalEngine实例持有，读写经由引擎的读写锁串行化
type SignalRegistry struct {
	active       map[string]*types.TradingSignal
	history      []*types.TradingSignal
	lastEmission map[string]time.Time
}

func newSignalRegistry() *SignalRegistry {
	return &SignalRegistry{
		active:       make(map[string]*types.TradingSignal),
		lastEmission: make(map[string]time.Time),
	}
}

// SignalEngine 信号引擎：冷却控制、方向判定、风险价位计算与登记表维护
// 登记表可能同时被处理协程写入、被监控协程读取，统一走mu
type SignalEngine struct {
	configs  map[string]types.BandConfig
	registry *SignalRegistry
	mu       sync.RWMutex

	cooldown        time.Duration
	stopLossPct     float64
	takeProfitPct   float64
	maxSignalAge    time.Duration
	middleBandBonus float64
	exactMatchBonus float64

	// now可注入，便于测试冷却与过期逻辑
	now func() time.Time
}

// NewSignalEngine 创建信号引擎
func NewSignalEngine(cfg types.BandsConfig) *SignalEngine {
	configs := make(map[string]types.BandConfig, len(cfg.Configs))
	for _, c := range cfg.Configs {
		configs[c.ID] = c
	}

	return &SignalEngine{
		configs:         configs,
		registry:        newSignalRegistry(),
		cooldown:        time.Duration(cfg.CooldownSeconds) * time.Second,
		stopLossPct:     cfg.StopLossPct,
		takeProfitPct:   cfg.TakeProfitPct,
		maxSignalAge:    time.Duration(cfg.MaxSignalAgeSeconds) * time.Second,
		middleBandBonus: cfg.MiddleBandBonus,
		exactMatchBonus: cfg.ExactMatchBonus,
		now:             time.Now,
	}
}

// resolveDirection 固定方向映射表，未定义组合不产生信号
func resolveDirection(bandType types.BandType, side types.TouchSide) (types.Direction, bool) {
	switch {
	case bandType == types.BandTypeMiddle && side == types.TouchSideLowerWick:
		return types.DirectionLong, true
	case bandType == types.BandTypeMiddle && side == types.TouchSideUpperWick:
		return types.DirectionShort, true
	case bandType == types.BandTypeLower && side == types.TouchSideLowerWick:
		return types.DirectionLong, true
	case bandType == types.BandTypeUpper && side == types.TouchSideUpperWick:
		return types.DirectionShort, true
	default:
		return "", false
	}
}

// GenerateSignal 将一次合格触碰转化为交易信号；不满足条件时静默放弃
// closePrice为当前收盘价，作为入场价（不使用触碰价本身）
// 任何失败只中止本次评估，登记表不做部分变更
func (se *SignalEngine) GenerateSignal(touch *types.WickTouch, symbol, timeframe string, closePrice float64) (*types.TradingSignal, error) {
	if touch == nil || closePrice <= 0 {
		return nil, fmt.Errorf("%w: 触碰为空或收盘价非正", ErrInvalidInput)
	}
	if math.IsNaN(touch.BandValue) || touch.BandValue <= 0 {
		return nil, fmt.Errorf("%w: 轨道值缺失或非正", ErrInvalidInput)
	}

	config, ok := se.configs[touch.ConfigID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, touch.ConfigID)
	}

	// 冷却检查，按配置独立计
	emissionTime := se.now()
	se.mu.RLock()
	last, hasLast := se.registry.lastEmission[config.ID]
	se.mu.RUnlock()
	if hasLast {
		if elapsed := emissionTime.Sub(last); elapsed < se.cooldown {
			zap.L().Debug("配置处于冷却期，跳过信号",
				zap.String("config_id", config.ID),
				zap.Duration("elapsed", elapsed),
				zap.Duration("cooldown", se.cooldown))
			return nil, nil
		}
	}

	direction, ok := resolveDirection(touch.BandType, touch.Side)
	if !ok {
		return nil, nil
	}

	stopLoss, takeProfit := se.riskLevels(closePrice, direction)

	signal := &types.TradingSignal{
		Timestamp:      emissionTime,
		SignalID:       fmt.Sprintf("%s_%s_%d", config.ID, direction, emissionTime.Unix()),
		Symbol:         symbol,
		ConfigID:       config.ID,
		Direction:      direction,
		EntryPrice:     closePrice,
		BandValue:      touch.BandValue,
		StopLoss:       stopLoss,
		TakeProfit:     takeProfit,
		Confidence:     se.signalConfidence(touch, config),
		ExpectedProfit: config.ExpectedProfit,
		WickTouchType:  touch.Side,
		BandType:       touch.BandType,
		Timeframe:      timeframe,
	}

	se.store(signal)

	zap.L().Info("🎯 生成交易信号",
		zap.String("signal_id", signal.SignalID),
		zap.String("symbol", symbol),
		zap.String("direction", string(direction)),
		zap.Float64("entry_price", closePrice),
		zap.Float64("confidence", signal.Confidence))

	return signal, nil
}

// riskLevels 计算止损止盈：宽止损窄止盈，面向高波动标的
func (se *SignalEngine) riskLevels(entryPrice float64, direction types.Direction) (stopLoss, takeProfit float64) {
	if direction == types.DirectionLong {
		return entryPrice * (1 - se.stopLossPct), entryPrice * (1 + se.takeProfitPct)
	}
	return entryPrice * (1 + se.stopLossPct), entryPrice * (1 - se.takeProfitPct)
}

// signalConfidence 信号置信度 = 触碰置信度 + 优先级加成 + 中轨加成 + 精确触碰加成
func (se *SignalEngine) signalConfidence(touch *types.WickTouch, config types.BandConfig) float64 {
	confidence := touch.Confidence

	// 优先级加成：(K+1-priority)*0.1，K为目标配置总数
	confidence += float64(len(se.configs)+1-config.Priority) * 0.1

	if touch.BandType == types.BandTypeMiddle {
		confidence += se.middleBandBonus
	}
	if touch.ExactMatch {
		confidence += se.exactMatchBonus
	}

	return math.Min(math.Max(confidence, 0.0), 1.0)
}

// store 登记信号并顺带惰性清理过期的活跃信号
func (se *SignalEngine) store(signal *types.TradingSignal) {
	se.mu.Lock()
	defer se.mu.Unlock()

	se.registry.active[signal.SignalID] = signal
	se.registry.history = append(se.registry.history, signal)
	se.registry.lastEmission[signal.ConfigID] = signal.Timestamp

	now := se.now()
	for id, s := range se.registry.active {
		if now.Sub(s.Timestamp) > se.maxSignalAge {
			delete(se.registry.active, id)
		}
	}
}

// RestoreCooldowns 从外部快照恢复各配置的冷却状态（进程重启后使用）
func (se *SignalEngine) RestoreCooldowns(lastEmission map[string]time.Time) {
	se.mu.Lock()
	defer se.mu.Unlock()

	for configID, t := range lastEmission {
		if _, ok := se.configs[configID]; ok {
			se.registry.lastEmission[configID] = t
		}
	}
}

// RestoreActiveSignals 从外部快照恢复活跃信号，已过期的直接丢弃
func (se *SignalEngine) RestoreActiveSignals(signals []*types.TradingSignal) {
	se.mu.Lock()
	defer se.mu.Unlock()

	now := se.now()
	restored := 0
	for _, signal := range signals {
		if signal == nil || now.Sub(signal.Timestamp) > se.maxSignalAge {
			continue
		}
		se.registry.active[signal.SignalID] = signal
		restored++
	}

	if restored > 0 {
		zap.L().Info("📊 已恢复活跃信号到登记表", zap.Int("count", restored))
	}
}

// ActiveSignals 返回当前全部活跃信号
func (se *SignalEngine) ActiveSignals() []*types.TradingSignal {
	se.mu.RLock()
	defer se.mu.RUnlock()

	signals := make([]*types.TradingSignal, 0, len(se.registry.active))
	for _, s := range se.registry.active {
		signals = append(signals, s)
	}
	return signals
}

// History 返回全部历史信号（只追加）
func (se *SignalEngine) History() []*types.TradingSignal {
	se.mu.RLock()
	defer se.mu.RUnlock()

	history := make([]*types.TradingSignal, len(se.registry.history))
	copy(history, se.registry.history)
	return history
}

// LastEmission 返回指定配置最近一次发信时间
func (se *SignalEngine) LastEmission(configID string) (time.Time, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()

	t, ok := se.registry.lastEmission[configID]
	return t, ok
}

// Stats 统计信号生成情况
func (se *SignalEngine) Stats() map[string]interface{} {
	se.mu.RLock()
	defer se.mu.RUnlock()

	byDirection := map[types.Direction]int{types.DirectionLong: 0, types.DirectionShort: 0}
	byConfig := make(map[string]int)
	for _, s := range se.registry.history {
		byDirection[s.Direction]++
		byConfig[s.ConfigID]++
	}

	cooldownStatus := make(map[string]bool)
	now := se.now()
	for configID, last := range se.registry.lastEmission {
		cooldownStatus[configID] = now.Sub(last) < se.cooldown
	}

	return map[string]interface{}{
		"total_generated": len(se.registry.history),
		"active_signals":  len(se.registry.active),
		"by_direction":    byDirection,
		"by_config":       byConfig,
		"cooldown_status": cooldownStatus,
	}
}

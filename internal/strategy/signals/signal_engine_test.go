package signals

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"btc-band-sentry/pkg/types"
)

func testEngineConfig() types.BandsConfig {
	return types.BandsConfig{
		Configs: []types.BandConfig{
			{ID: "VWMA_12_0.1", MAType: types.MATypeVWMA, Period: 12, StdDevMultiplier: 0.1, BandType: types.BandTypeMiddle, Priority: 1, ExpectedProfit: 28.51},
			{ID: "WMA_43_0.1", MAType: types.MATypeWMA, Period: 43, StdDevMultiplier: 0.1, BandType: types.BandTypeMiddle, Priority: 2, ExpectedProfit: 26.00},
			{ID: "SMA_9_0.1", MAType: types.MATypeSMA, Period: 9, StdDevMultiplier: 0.1, BandType: types.BandTypeMiddle, Priority: 3, ExpectedProfit: 24.80},
		},
		CooldownSeconds:     3600,
		StopLossPct:         0.30,
		TakeProfitPct:       0.20,
		MaxSignalAgeSeconds: 15 * 24 * 3600,
		MiddleBandBonus:     0.15,
		ExactMatchBonus:     0.1,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testTouch(configID string, bandType types.BandType, side types.TouchSide) *types.WickTouch {
	return &types.WickTouch{
		Timestamp:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		ConfigID:   configID,
		Side:       side,
		BandType:   bandType,
		BandValue:  95000,
		TouchPrice: 95001,
		Confidence: 0.5,
	}
}

func TestResolveDirectionTable(t *testing.T) {
	tests := []struct {
		bandType types.BandType
		side     types.TouchSide
		want     types.Direction
		wantOK   bool
	}{
		{types.BandTypeMiddle, types.TouchSideLowerWick, types.DirectionLong, true},
		{types.BandTypeMiddle, types.TouchSideUpperWick, types.DirectionShort, true},
		{types.BandTypeLower, types.TouchSideLowerWick, types.DirectionLong, true},
		{types.BandTypeUpper, types.TouchSideUpperWick, types.DirectionShort, true},
		{types.BandTypeUpper, types.TouchSideLowerWick, "", false},
		{types.BandTypeLower, types.TouchSideUpperWick, "", false},
	}

	for _, tt := range tests {
		direction, ok := resolveDirection(tt.bandType, tt.side)
		if direction != tt.want || ok != tt.wantOK {
			t.Errorf("resolveDirection(%s, %s) = (%s, %v), 期望 (%s, %v)",
				tt.bandType, tt.side, direction, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGenerateSignalLong(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	se.now = fixedClock(now)

	touch := testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if signal == nil {
		t.Fatal("期望生成信号")
	}

	if signal.Direction != types.DirectionLong {
		t.Errorf("期望LONG，得到 %s", signal.Direction)
	}
	if signal.EntryPrice != 100000 {
		t.Errorf("入场价应为收盘价: %v", signal.EntryPrice)
	}
	// 宽止损窄止盈
	if math.Abs(signal.StopLoss-70000) > 1e-6 {
		t.Errorf("止损应为70000，得到 %v", signal.StopLoss)
	}
	if math.Abs(signal.TakeProfit-120000) > 1e-6 {
		t.Errorf("止盈应为120000，得到 %v", signal.TakeProfit)
	}
	if signal.ExpectedProfit != 24.80 {
		t.Errorf("历史收益率应为24.80，得到 %v", signal.ExpectedProfit)
	}

	wantID := fmt.Sprintf("SMA_9_0.1_LONG_%d", now.Unix())
	if signal.SignalID != wantID {
		t.Errorf("信号ID: 期望 %s，得到 %s", wantID, signal.SignalID)
	}
}

func TestGenerateSignalShortRiskLevels(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	touch := testTouch("SMA_9_0.1", types.BandTypeUpper, types.TouchSideUpperWick)
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil || signal == nil {
		t.Fatalf("GenerateSignal: %v, %v", signal, err)
	}

	if signal.Direction != types.DirectionShort {
		t.Errorf("期望SHORT，得到 %s", signal.Direction)
	}
	// SHORT方向止损在上方
	if math.Abs(signal.StopLoss-130000) > 1e-6 {
		t.Errorf("止损应为130000，得到 %v", signal.StopLoss)
	}
	if math.Abs(signal.TakeProfit-80000) > 1e-6 {
		t.Errorf("止盈应为80000，得到 %v", signal.TakeProfit)
	}
}

func TestGenerateSignalCooldown(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	se.now = fixedClock(base)

	touch := testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil || signal == nil {
		t.Fatalf("首个信号应生成: %v, %v", signal, err)
	}

	// 10分钟后同配置再次触碰，冷却期内静默跳过
	se.now = fixedClock(base.Add(10 * time.Minute))
	signal, err = se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil {
		t.Fatalf("冷却期不应返回错误: %v", err)
	}
	if signal != nil {
		t.Error("冷却期内不应生成信号")
	}

	// 冷却期过后恢复
	se.now = fixedClock(base.Add(61 * time.Minute))
	signal, err = se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil || signal == nil {
		t.Fatalf("冷却期后应生成信号: %v, %v", signal, err)
	}

	// 不同配置不受影响
	se.now = fixedClock(base.Add(62 * time.Minute))
	other := testTouch("WMA_43_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	signal, err = se.GenerateSignal(other, "BTCUSDT", "5m", 100000)
	if err != nil || signal == nil {
		t.Fatalf("其他配置不应受冷却影响: %v, %v", signal, err)
	}
}

func TestGenerateSignalUndefinedCombination(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	// 上轨+下影线不在方向映射表内，静默放弃
	touch := testTouch("SMA_9_0.1", types.BandTypeUpper, types.TouchSideLowerWick)
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil {
		t.Fatalf("未定义组合不应返回错误: %v", err)
	}
	if signal != nil {
		t.Error("未定义组合不应生成信号")
	}
	if len(se.History()) != 0 {
		t.Error("登记表不应有变更")
	}
}

func TestGenerateSignalInvalidInput(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name       string
		touch      *types.WickTouch
		closePrice float64
	}{
		{"空触碰", nil, 100000},
		{"收盘价为0", testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick), 0},
		{"收盘价为负", testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := se.GenerateSignal(tt.touch, "BTCUSDT", "5m", tt.closePrice)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("期望ErrInvalidInput，得到 %v", err)
			}
		})
	}

	// 轨道值为NaN
	touch := testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	touch.BandValue = math.NaN()
	if _, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NaN轨道值: 期望ErrInvalidInput，得到 %v", err)
	}

	// 任何失败都不应改动登记表
	if len(se.History()) != 0 || len(se.ActiveSignals()) != 0 {
		t.Error("无效输入后登记表应保持为空")
	}
}

func TestGenerateSignalUnknownConfig(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	touch := testTouch("EMA_99_2.0", types.BandTypeMiddle, types.TouchSideLowerWick)
	_, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if !errors.Is(err, ErrUnknownConfig) {
		t.Errorf("期望ErrUnknownConfig，得到 %v", err)
	}
}

func TestSignalConfidence(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	// priority=3，K=3：优先级加成(3+1-3)*0.1=0.1；下轨无中轨加成，非精确触碰
	touch := testTouch("SMA_9_0.1", types.BandTypeLower, types.TouchSideLowerWick)
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil || signal == nil {
		t.Fatalf("GenerateSignal: %v, %v", signal, err)
	}
	if math.Abs(signal.Confidence-0.6) > 1e-9 {
		t.Errorf("期望置信度0.6，得到 %v", signal.Confidence)
	}
}

func TestSignalConfidenceClamped(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	// priority=1：0.5 + 0.3优先级 + 0.15中轨 + 0.1精确 = 1.05，封顶1.0
	touch := testTouch("VWMA_12_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	touch.ExactMatch = true
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil || signal == nil {
		t.Fatalf("GenerateSignal: %v, %v", signal, err)
	}
	if signal.Confidence != 1.0 {
		t.Errorf("置信度应封顶1.0，得到 %v", signal.Confidence)
	}
}

func TestLazyExpiryPurgesActiveSignals(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	se.now = fixedClock(base)

	first := testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	if _, err := se.GenerateSignal(first, "BTCUSDT", "5m", 100000); err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if len(se.ActiveSignals()) != 1 {
		t.Fatalf("活跃信号应为1，得到 %d", len(se.ActiveSignals()))
	}

	// 超过15天后新信号入表时惰性清理过期信号
	se.now = fixedClock(base.Add(16 * 24 * time.Hour))
	second := testTouch("WMA_43_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	if _, err := se.GenerateSignal(second, "BTCUSDT", "5m", 100000); err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}

	active := se.ActiveSignals()
	if len(active) != 1 {
		t.Fatalf("过期信号应被清理，活跃信号应为1，得到 %d", len(active))
	}
	if active[0].ConfigID != "WMA_43_0.1" {
		t.Errorf("保留的应为新信号，得到 %s", active[0].ConfigID)
	}

	// 历史记录只追加，不随过期清理
	if len(se.History()) != 2 {
		t.Errorf("历史记录应为2条，得到 %d", len(se.History()))
	}
}

func TestRestoreCooldowns(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	se.now = fixedClock(base)

	// 恢复的冷却状态生效，未知配置被忽略
	se.RestoreCooldowns(map[string]time.Time{
		"SMA_9_0.1": base.Add(-10 * time.Minute),
		"UNKNOWN":   base,
	})

	if _, ok := se.LastEmission("UNKNOWN"); ok {
		t.Error("未知配置的冷却状态不应恢复")
	}

	touch := testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	signal, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if signal != nil {
		t.Error("恢复的冷却状态应阻止信号生成")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())

	// 处理协程写入登记表的同时，监控协程并发读取统计信息
	configIDs := []string{"VWMA_12_0.1", "WMA_43_0.1", "SMA_9_0.1"}
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			touch := testTouch(configIDs[i%len(configIDs)], types.BandTypeMiddle, types.TouchSideLowerWick)
			if _, err := se.GenerateSignal(touch, "BTCUSDT", "5m", 100000); err != nil {
				t.Errorf("GenerateSignal: %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			se.Stats()
			se.ActiveSignals()
			se.History()
			se.LastEmission("SMA_9_0.1")
		}
	}()

	wg.Wait()

	// 每条配置首次触碰发信，其余落入冷却
	if len(se.History()) != len(configIDs) {
		t.Errorf("期望每条配置发信一次，得到 %d", len(se.History()))
	}
}

func TestRestoreActiveSignals(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	se.now = fixedClock(base)

	// 快照中的过期信号直接丢弃
	se.RestoreActiveSignals([]*types.TradingSignal{
		{SignalID: "SMA_9_0.1_LONG_1", ConfigID: "SMA_9_0.1", Timestamp: base.Add(-1 * time.Hour)},
		{SignalID: "WMA_43_0.1_SHORT_2", ConfigID: "WMA_43_0.1", Timestamp: base.Add(-16 * 24 * time.Hour)},
		nil,
	})

	active := se.ActiveSignals()
	if len(active) != 1 {
		t.Fatalf("过期快照应被丢弃，活跃信号应为1，得到 %d", len(active))
	}
	if active[0].SignalID != "SMA_9_0.1_LONG_1" {
		t.Errorf("保留的应为未过期信号: %s", active[0].SignalID)
	}

	// 快照恢复不影响历史记录与冷却状态
	if len(se.History()) != 0 {
		t.Error("快照恢复不应写入历史记录")
	}
	if _, ok := se.LastEmission("SMA_9_0.1"); ok {
		t.Error("快照恢复不应改动冷却状态")
	}
}

func TestStats(t *testing.T) {
	se := NewSignalEngine(testEngineConfig())
	se.now = fixedClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	long := testTouch("SMA_9_0.1", types.BandTypeMiddle, types.TouchSideLowerWick)
	short := testTouch("WMA_43_0.1", types.BandTypeMiddle, types.TouchSideUpperWick)
	if _, err := se.GenerateSignal(long, "BTCUSDT", "5m", 100000); err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if _, err := se.GenerateSignal(short, "BTCUSDT", "5m", 100000); err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}

	stats := se.Stats()
	if stats["total_generated"].(int) != 2 {
		t.Errorf("total_generated应为2: %v", stats["total_generated"])
	}
	byDirection := stats["by_direction"].(map[types.Direction]int)
	if byDirection[types.DirectionLong] != 1 || byDirection[types.DirectionShort] != 1 {
		t.Errorf("方向统计错误: %v", byDirection)
	}
	cooldowns := stats["cooldown_status"].(map[string]bool)
	if !cooldowns["SMA_9_0.1"] {
		t.Error("SMA_9_0.1应处于冷却中")
	}
}

package signals

import (
	"math"
	"testing"
	"time"

	"btc-band-sentry/pkg/types"
)

func testDetectorConfig() types.BandsConfig {
	return types.BandsConfig{
		Tolerance:            0.0001,
		ExactMatchEpsilon:    0.01,
		SignificantWickRatio: 0.3,
	}
}

func candle(open, high, low, close float64) *types.KLine {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &types.KLine{
		Symbol:    "BTCUSDT",
		OpenTime:  base,
		CloseTime: base.Add(5 * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
		Interval:  "5m",
	}
}

func TestAnalyzeCandleBullish(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	// 阳线：上影线=High-Close，下影线=Open-Low
	chars := wd.AnalyzeCandle(candle(100, 105, 95, 102))

	if !chars.IsBullish {
		t.Error("期望阳线")
	}
	if chars.BodySize != 2 || chars.TotalRange != 10 {
		t.Errorf("实体/振幅错误: %v / %v", chars.BodySize, chars.TotalRange)
	}
	if chars.UpperWick != 3 || chars.LowerWick != 5 {
		t.Errorf("影线错误: 上%v 下%v", chars.UpperWick, chars.LowerWick)
	}
	// 上影线占比0.3不超过阈值，下影线0.5超过
	if chars.HasSignificantUpperWick {
		t.Error("上影线占比恰为阈值，不应判定显著")
	}
	if !chars.HasSignificantLowerWick {
		t.Error("下影线应判定显著")
	}
}

func TestAnalyzeCandleBearish(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	// 阴线：上影线=High-Open，下影线=Close-Low
	chars := wd.AnalyzeCandle(candle(102, 105, 95, 100))

	if chars.IsBullish {
		t.Error("期望阴线")
	}
	if chars.UpperWick != 3 || chars.LowerWick != 5 {
		t.Errorf("影线错误: 上%v 下%v", chars.UpperWick, chars.LowerWick)
	}
}

func TestAnalyzeCandleZeroRange(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	// 四价相同，占比全部为0，不触发除零
	chars := wd.AnalyzeCandle(candle(100, 100, 100, 100))

	if chars.BodyToRangeRatio != 0 || chars.UpperWickRatio != 0 || chars.LowerWickRatio != 0 {
		t.Errorf("零振幅K线占比应为0: %+v", chars)
	}
}

func TestCheckTouchToleranceBoundary(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	tests := []struct {
		name      string
		price     float64
		band      float64
		wantTouch bool
	}{
		{"恰在容差边界", 100010, 100000, true},
		{"容差内", 100005, 100000, true},
		{"容差外", 100011, 100000, false},
		{"完全相等", 100000, 100000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wd.CheckTouch(tt.price, tt.band)
			if result.IsTouch != tt.wantTouch {
				t.Errorf("price=%v band=%v: 期望touch=%v, relDiff=%v",
					tt.price, tt.band, tt.wantTouch, result.RelativeDiff)
			}
		})
	}
}

func TestCheckTouchExactMatch(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	result := wd.CheckTouch(100.005, 100.0)
	if !result.IsTouch || !result.ExactMatch {
		t.Errorf("价差0.005应为精确触碰: %+v", result)
	}

	result = wd.CheckTouch(100.011, 100.0)
	if result.ExactMatch {
		t.Errorf("价差0.011不应为精确触碰: %+v", result)
	}
}

func TestCheckTouchUnavailableBand(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	if wd.CheckTouch(100, math.NaN()).IsTouch {
		t.Error("NaN轨道不应触碰")
	}
	if wd.CheckTouch(100, 0).IsTouch {
		t.Error("零值轨道不应触碰")
	}
}

func TestDetectTouchesLowerWickOnMiddleBand(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	// 最低价95对中轨95.005：相对差约5.26e-5，在容差内且为精确触碰
	bands := types.BandSet{Upper: math.NaN(), Middle: 95.005, Lower: math.NaN()}
	touches := wd.DetectTouches(candle(100, 105, 95, 102), bands, "SMA_9_0.1")

	if len(touches) != 1 {
		t.Fatalf("期望1次触碰，得到 %d", len(touches))
	}

	touch := touches[0]
	if touch.Side != types.TouchSideLowerWick {
		t.Errorf("期望下影线触碰，得到 %s", touch.Side)
	}
	if touch.BandType != types.BandTypeMiddle {
		t.Errorf("期望中轨，得到 %s", touch.BandType)
	}
	if !touch.ExactMatch {
		t.Error("价差0.005应为精确触碰")
	}
	if touch.TouchPrice != 95 {
		t.Errorf("触碰价应为最低价95，得到 %v", touch.TouchPrice)
	}
	// 0.5基础 + 0.3精确 + 0.2显著下影线 + 0.15小实体，封顶1.0
	if touch.Confidence != 1.0 {
		t.Errorf("置信度应封顶1.0，得到 %v", touch.Confidence)
	}
}

func TestDetectTouchesBothBandsSamePeriod(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	// 最高价同时触碰上轨和中轨时两者都输出，本层不去重
	bands := types.BandSet{Upper: 105.0, Middle: 105.005, Lower: 90.0}
	touches := wd.DetectTouches(candle(100, 105, 99, 102), bands, "SMA_9_0.1")

	if len(touches) != 2 {
		t.Fatalf("期望2次触碰，得到 %d", len(touches))
	}
	for _, touch := range touches {
		if touch.Side != types.TouchSideUpperWick {
			t.Errorf("应全部为上影线触碰: %s", touch.Side)
		}
	}
}

func TestDetectTouchesNoTouch(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	bands := types.BandSet{Upper: 200, Middle: 150, Lower: 50}
	touches := wd.DetectTouches(candle(100, 105, 95, 102), bands, "SMA_9_0.1")

	if len(touches) != 0 {
		t.Errorf("期望无触碰，得到 %d", len(touches))
	}
}

func TestTouchConfidenceMediumBody(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	// 实体占比0.4：基础0.5 + 中等实体0.1，无显著影线无精确触碰
	// O=100 C=104 H=105 L=95: body=4, range=10, 上影线1(0.1), 下影线5(0.5)
	// 用上影线触碰上轨：上影线不显著
	bands := types.BandSet{Upper: 105.002, Middle: math.NaN(), Lower: math.NaN()}
	touches := wd.DetectTouches(candle(100, 105, 95, 104), bands, "SMA_9_0.1")

	if len(touches) != 1 {
		t.Fatalf("期望1次触碰，得到 %d", len(touches))
	}
	// 0.5基础 + 0.3精确(0.002<0.01) + 0.1中等实体 = 0.9
	if math.Abs(touches[0].Confidence-0.9) > 1e-9 {
		t.Errorf("期望置信度0.9，得到 %v", touches[0].Confidence)
	}
}

func TestScanWindow(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	klines := []*types.KLine{
		candle(100, 105, 95, 102),
		candle(102, 110, 100, 108),
		candle(108, 112, 106, 110),
	}
	// 只有第一根的最低价触碰中轨
	bandsByConfig := map[string][]types.BandSet{
		"SMA_9_0.1": {
			{Upper: math.NaN(), Middle: 95.0, Lower: math.NaN()},
			{Upper: math.NaN(), Middle: 95.0, Lower: math.NaN()},
			{Upper: math.NaN(), Middle: 95.0, Lower: math.NaN()},
		},
	}

	touches := wd.ScanWindow(klines, bandsByConfig, 3)
	if len(touches) != 1 {
		t.Fatalf("期望1次触碰，得到 %d", len(touches))
	}

	// lookback超过缓冲区长度时按全量回扫
	touches = wd.ScanWindow(klines, bandsByConfig, 10)
	if len(touches) != 1 {
		t.Errorf("超长lookback: 期望1次触碰，得到 %d", len(touches))
	}

	// lookback只覆盖最新两根时不包含第一根的触碰
	touches = wd.ScanWindow(klines, bandsByConfig, 2)
	if len(touches) != 0 {
		t.Errorf("lookback=2: 期望0次触碰，得到 %d", len(touches))
	}
}

func TestScanWindowBandsLengthMismatch(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	klines := []*types.KLine{
		candle(100, 105, 95, 102),
		candle(102, 110, 100, 108),
	}
	// 布林带序列比K线短，对应位置跳过而不panic
	bandsByConfig := map[string][]types.BandSet{
		"SMA_9_0.1": {
			{Upper: math.NaN(), Middle: 95.0, Lower: math.NaN()},
		},
	}

	touches := wd.ScanWindow(klines, bandsByConfig, 2)
	if len(touches) != 1 {
		t.Errorf("期望1次触碰，得到 %d", len(touches))
	}
}

func TestFilterByConfidence(t *testing.T) {
	wd := NewWickDetector(testDetectorConfig())

	touches := []*types.WickTouch{
		{ConfigID: "a", Confidence: 0.9},
		{ConfigID: "b", Confidence: 0.7},
		{ConfigID: "c", Confidence: 0.69},
	}

	filtered := wd.FilterByConfidence(touches, 0.7)
	if len(filtered) != 2 {
		t.Fatalf("期望2条通过，得到 %d", len(filtered))
	}
	for _, touch := range filtered {
		if touch.Confidence < 0.7 {
			t.Errorf("低于阈值的触碰未被过滤: %+v", touch)
		}
	}
}

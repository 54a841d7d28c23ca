package signals

import (
	"math"

	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
)

// 置信度打分参数
const (
	baseConfidence       = 0.5  // 基础分
	exactMatchConfidence = 0.3  // 精确触碰加成
	significantWickBonus = 0.2  // 显著影线加成
	smallBodyBonus       = 0.15 // 实体占比<0.3加成
	mediumBodyBonus      = 0.1  // 实体占比<0.5加成
)

// WickCharacteristics K线影线形态特征
type WickCharacteristics struct {
	IsBullish                bool    `json:"is_bullish"`
	BodySize                 float64 `json:"body_size"`
	UpperWick                float64 `json:"upper_wick"`
	LowerWick                float64 `json:"lower_wick"`
	TotalRange               float64 `json:"total_range"`
	BodyToRangeRatio         float64 `json:"body_to_range_ratio"`
	UpperWickRatio           float64 `json:"upper_wick_ratio"`
	LowerWickRatio           float64 `json:"lower_wick_ratio"`
	HasSignificantUpperWick  bool    `json:"has_significant_upper_wick"`
	HasSignificantLowerWick  bool    `json:"has_significant_lower_wick"`
}

// TouchResult 单次触碰检测结果
type TouchResult struct {
	IsTouch      bool    `json:"is_touch"`
	PriceDiff    float64 `json:"price_diff"`
	RelativeDiff float64 `json:"relative_diff"`
	ExactMatch   bool    `json:"exact_match"`
}

// WickDetector 影线触碰检测器
type WickDetector struct {
	tolerance            float64
	exactMatchEpsilon    float64
	significantWickRatio float64
}

// NewWickDetector 创建影线触碰检测器，阈值取自策略配置
func NewWickDetector(cfg types.BandsConfig) *WickDetector {
	return &WickDetector{
		tolerance:            cfg.Tolerance,
		exactMatchEpsilon:    cfg.ExactMatchEpsilon,
		significantWickRatio: cfg.SignificantWickRatio,
	}
}

// AnalyzeCandle 计算K线的影线形态特征
func (wd *WickDetector) AnalyzeCandle(kline *types.KLine) WickCharacteristics {
	isBullish := kline.Close > kline.Open
	bodySize := math.Abs(kline.Close - kline.Open)
	totalRange := kline.High - kline.Low

	// 影线大小随实体方向取不同端点
	var upperWick, lowerWick float64
	if isBullish {
		upperWick = kline.High - kline.Close
		lowerWick = kline.Open - kline.Low
	} else {
		upperWick = kline.High - kline.Open
		lowerWick = kline.Close - kline.Low
	}

	var bodyRatio, upperRatio, lowerRatio float64
	if totalRange > 0 {
		bodyRatio = bodySize / totalRange
		upperRatio = upperWick / totalRange
		lowerRatio = lowerWick / totalRange
	}

	return WickCharacteristics{
		IsBullish:               isBullish,
		BodySize:                bodySize,
		UpperWick:               upperWick,
		LowerWick:               lowerWick,
		TotalRange:              totalRange,
		BodyToRangeRatio:        bodyRatio,
		UpperWickRatio:          upperRatio,
		LowerWickRatio:          lowerRatio,
		HasSignificantUpperWick: upperRatio > wd.significantWickRatio,
		HasSignificantLowerWick: lowerRatio > wd.significantWickRatio,
	}
}

// CheckTouch 判断价格是否在容差范围内触碰轨道；轨道缺失或为0时恒为未触碰
func (wd *WickDetector) CheckTouch(price, bandValue float64) TouchResult {
	if math.IsNaN(bandValue) || bandValue == 0 {
		return TouchResult{}
	}

	priceDiff := math.Abs(price - bandValue)
	relativeDiff := priceDiff / bandValue

	return TouchResult{
		IsTouch:      relativeDiff <= wd.tolerance, // 容差边界计入触碰
		PriceDiff:    priceDiff,
		RelativeDiff: relativeDiff,
		ExactMatch:   priceDiff < wd.exactMatchEpsilon,
	}
}

// DetectTouches 检测K线影线对各轨道的触碰：
// 最高价对上轨和中轨（隐含SHORT），最低价对下轨和中轨（隐含LONG）。
// 同周期多轨道同时触碰全部输出，本层不去重。
func (wd *WickDetector) DetectTouches(kline *types.KLine, bands types.BandSet, configID string) []*types.WickTouch {
	var touches []*types.WickTouch

	chars := wd.AnalyzeCandle(kline)

	// 上影线检查上轨和中轨
	for _, bandType := range []types.BandType{types.BandTypeUpper, types.BandTypeMiddle} {
		bandValue := bands.Band(bandType)
		result := wd.CheckTouch(kline.High, bandValue)
		if result.IsTouch {
			touches = append(touches, &types.WickTouch{
				Timestamp:    kline.CloseTime,
				ConfigID:     configID,
				Side:         types.TouchSideUpperWick,
				BandType:     bandType,
				BandValue:    bandValue,
				TouchPrice:   kline.High,
				RelativeDiff: result.RelativeDiff,
				ExactMatch:   result.ExactMatch,
				Confidence:   wd.touchConfidence(chars, result, types.TouchSideUpperWick),
			})
		}
	}

	// 下影线检查下轨和中轨
	for _, bandType := range []types.BandType{types.BandTypeLower, types.BandTypeMiddle} {
		bandValue := bands.Band(bandType)
		result := wd.CheckTouch(kline.Low, bandValue)
		if result.IsTouch {
			touches = append(touches, &types.WickTouch{
				Timestamp:    kline.CloseTime,
				ConfigID:     configID,
				Side:         types.TouchSideLowerWick,
				BandType:     bandType,
				BandValue:    bandValue,
				TouchPrice:   kline.Low,
				RelativeDiff: result.RelativeDiff,
				ExactMatch:   result.ExactMatch,
				Confidence:   wd.touchConfidence(chars, result, types.TouchSideLowerWick),
			})
		}
	}

	return touches
}

// touchConfidence 计算触碰置信度（0-1）
func (wd *WickDetector) touchConfidence(chars WickCharacteristics, result TouchResult, side types.TouchSide) float64 {
	confidence := baseConfidence

	if result.ExactMatch {
		confidence += exactMatchConfidence
	}

	if side == types.TouchSideUpperWick && chars.HasSignificantUpperWick {
		confidence += significantWickBonus
	} else if side == types.TouchSideLowerWick && chars.HasSignificantLowerWick {
		confidence += significantWickBonus
	}

	if chars.BodyToRangeRatio < 0.3 {
		confidence += smallBodyBonus
	} else if chars.BodyToRangeRatio < 0.5 {
		confidence += mediumBodyBonus
	}

	return math.Min(math.Max(confidence, 0.0), 1.0)
}

// ScanWindow 回扫最近lookback根已收盘K线，用于断流后的补检
// bandsByConfig为各配置与K线序列对齐的布林带序列
func (wd *WickDetector) ScanWindow(klines []*types.KLine, bandsByConfig map[string][]types.BandSet, lookback int) []*types.WickTouch {
	var touches []*types.WickTouch

	if lookback > len(klines) {
		lookback = len(klines)
	}

	for i := len(klines) - lookback; i < len(klines); i++ {
		for configID, bands := range bandsByConfig {
			if i >= len(bands) {
				zap.L().Warn("布林带序列与K线序列长度不一致，跳过",
					zap.String("config_id", configID),
					zap.Int("index", i),
					zap.Int("bands_len", len(bands)))
				continue
			}
			touches = append(touches, wd.DetectTouches(klines[i], bands[i], configID)...)
		}
	}

	return touches
}

// FilterByConfidence 按置信度下限过滤触碰
func (wd *WickDetector) FilterByConfidence(touches []*types.WickTouch, minConfidence float64) []*types.WickTouch {
	filtered := make([]*types.WickTouch, 0, len(touches))
	for _, touch := range touches {
		if touch.Confidence >= minConfidence {
			filtered = append(filtered, touch)
		}
	}
	return filtered
}

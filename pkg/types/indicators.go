package types

import (
	"math"
	"time"
)

// MAType 均线类型
type MAType string

const (
	MATypeSMA  MAType = "SMA"
	MATypeEMA  MAType = "EMA"
	MATypeWMA  MAType = "WMA"
	MATypeVWMA MAType = "VWMA"
)

// BandType 轨道类型
type BandType string

const (
	BandTypeUpper  BandType = "upper"
	BandTypeMiddle BandType = "middle"
	BandTypeLower  BandType = "lower"
)

// BandSet 布林带数据，NaN表示数据不足、不可用
type BandSet struct {
	Upper  float64 `json:"upper"`  // 上轨
	Middle float64 `json:"middle"` // 中轨
	Lower  float64 `json:"lower"`  // 下轨
}

// Band 按轨道类型取值
func (b BandSet) Band(t BandType) float64 {
	switch t {
	case BandTypeUpper:
		return b.Upper
	case BandTypeMiddle:
		return b.Middle
	case BandTypeLower:
		return b.Lower
	default:
		return math.NaN()
	}
}

// HasBand 判断指定轨道是否可用
func (b BandSet) HasBand(t BandType) bool {
	return !math.IsNaN(b.Band(t))
}

// UnavailableBandSet 构造全部不可用的BandSet
func UnavailableBandSet() BandSet {
	nan := math.NaN()
	return BandSet{Upper: nan, Middle: nan, Lower: nan}
}

// TouchSide 触碰方向（上影线/下影线）
type TouchSide string

const (
	TouchSideUpperWick TouchSide = "upper_wick"
	TouchSideLowerWick TouchSide = "lower_wick"
)

// WickTouch 影线触碰事件
type WickTouch struct {
	Timestamp    time.Time `json:"timestamp"`
	ConfigID     string    `json:"config_id"`
	Side         TouchSide `json:"touch_side"`
	BandType     BandType  `json:"band_type"`
	BandValue    float64   `json:"band_value"`
	TouchPrice   float64   `json:"touch_price"`
	RelativeDiff float64   `json:"relative_diff"`
	ExactMatch   bool      `json:"exact_match"`
	Confidence   float64   `json:"confidence"`
}

// Direction 信号方向
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// TradingSignal 交易信号
type TradingSignal struct {
	Timestamp      time.Time `json:"timestamp"`
	SignalID       string    `json:"signal_id"`
	Symbol         string    `json:"symbol"`
	ConfigID       string    `json:"config_name"`
	Direction      Direction `json:"direction"`
	EntryPrice     float64   `json:"entry_price"`
	BandValue      float64   `json:"band_value"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	Confidence     float64   `json:"confidence"`
	ExpectedProfit float64   `json:"expected_profit"`
	WickTouchType  TouchSide `json:"wick_touch_type"`
	BandType       BandType  `json:"band_type"`
	Timeframe      string    `json:"timeframe"`
}

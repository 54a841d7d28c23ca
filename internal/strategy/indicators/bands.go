package indicators

import (
	"errors"
	"fmt"
	"math"

	"btc-band-sentry/pkg/types"
)

// ErrUnsupportedMAType 不支持的均线类型，属配置错误，仅跳过该条配置
var ErrUnsupportedMAType = errors.New("不支持的均线类型")

// ErrInvalidPeriod 周期必须为正整数
var ErrInvalidPeriod = errors.New("均线周期无效")

// BandCalculator 布林带计算器，一条配置对应一个实例
type BandCalculator struct {
	config types.BandConfig
}

// NewBandCalculator 创建布林带计算器
func NewBandCalculator(config types.BandConfig) *BandCalculator {
	return &BandCalculator{
		config: config,
	}
}

// Config 返回计算器绑定的配置
func (bc *BandCalculator) Config() types.BandConfig {
	return bc.config
}

// MovingAverage 计算均线序列，与输入按索引对齐、等长，NaN表示数据不足
func (bc *BandCalculator) MovingAverage(klines []*types.KLine) ([]float64, error) {
	if bc.config.Period <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, bc.config.Period)
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	switch bc.config.MAType {
	case types.MATypeSMA:
		return smaSeries(closes, bc.config.Period), nil
	case types.MATypeEMA:
		return emaSeries(closes, bc.config.Period), nil
	case types.MATypeWMA:
		return wmaSeries(closes, bc.config.Period), nil
	case types.MATypeVWMA:
		volumes := make([]float64, len(klines))
		for i, k := range klines {
			volumes[i] = k.Volume
		}
		return vwmaSeries(closes, volumes, bc.config.Period), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMAType, bc.config.MAType)
	}
}

// Bands 计算布林带序列：中轨为均线，上下轨为中轨±倍数×样本标准差
// 数据不足不报错，对应位置返回不可用的BandSet
func (bc *BandCalculator) Bands(klines []*types.KLine) ([]types.BandSet, error) {
	middle, err := bc.MovingAverage(klines)
	if err != nil {
		return nil, err
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	stddev := stddevSeries(closes, bc.config.Period)

	bands := make([]types.BandSet, len(klines))
	for i := range bands {
		// EMA中轨早于周期生效，但标准差窗口未满时上下轨仍不可用
		if math.IsNaN(middle[i]) || math.IsNaN(stddev[i]) {
			bands[i] = types.BandSet{
				Upper:  math.NaN(),
				Middle: middle[i],
				Lower:  math.NaN(),
			}
			continue
		}

		offset := stddev[i] * bc.config.StdDevMultiplier
		bands[i] = types.BandSet{
			Upper:  middle[i] + offset,
			Middle: middle[i],
			Lower:  middle[i] - offset,
		}
	}

	return bands, nil
}

// smaSeries 简单移动平均，滚动窗口求和
func smaSeries(closes []float64, period int) []float64 {
	result := nanSeries(len(closes))

	sum := 0.0
	for i, price := range closes {
		sum += price
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			result[i] = sum / float64(period)
		}
	}

	return result
}

// emaSeries 指数移动平均，首个样本即生效（无窗口预热，与其余均线不同）
func emaSeries(closes []float64, period int) []float64 {
	result := nanSeries(len(closes))
	if len(closes) == 0 {
		return result
	}

	alpha := 2.0 / float64(period+1)
	result[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		result[i] = alpha*closes[i] + (1-alpha)*result[i-1]
	}

	return result
}

// wmaSeries 加权移动平均，窗口内第i旧的样本权重为i，最新样本权重最大
func wmaSeries(closes []float64, period int) []float64 {
	result := nanSeries(len(closes))
	weightSum := float64(period*(period+1)) / 2

	for i := period - 1; i < len(closes); i++ {
		weighted := 0.0
		for j := 0; j < period; j++ {
			weighted += closes[i-period+1+j] * float64(j+1)
		}
		result[i] = weighted / weightSum
	}

	return result
}

// vwmaSeries 成交量加权移动平均；窗口成交量全为0时退化为收盘价算术平均
func vwmaSeries(closes, volumes []float64, period int) []float64 {
	result := nanSeries(len(closes))

	for i := period - 1; i < len(closes); i++ {
		var priceVolSum, volSum, priceSum float64
		for j := i - period + 1; j <= i; j++ {
			priceVolSum += closes[j] * volumes[j]
			volSum += volumes[j]
			priceSum += closes[j]
		}

		if volSum == 0 {
			result[i] = priceSum / float64(period)
		} else {
			result[i] = priceVolSum / volSum
		}
	}

	return result
}

// stddevSeries 滚动样本标准差（除数n-1）
func stddevSeries(closes []float64, period int) []float64 {
	result := nanSeries(len(closes))

	for i := period - 1; i < len(closes); i++ {
		mean := 0.0
		for j := i - period + 1; j <= i; j++ {
			mean += closes[j]
		}
		mean /= float64(period)

		if period < 2 {
			result[i] = 0
			continue
		}

		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := closes[j] - mean
			variance += diff * diff
		}
		result[i] = math.Sqrt(variance / float64(period-1))
	}

	return result
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

package types

// StrategyConfig 策略配置总入口
type StrategyConfig struct {
	Bands BandsConfig `mapstructure:"bands"`
}

// BandConfig 单条布林带配置，ID为稳定标识，不由字段拼接
type BandConfig struct {
	ID               string   `mapstructure:"id"`
	MAType           MAType   `mapstructure:"ma_type"`           // SMA/EMA/WMA/VWMA
	Period           int      `mapstructure:"period"`            // 均线周期
	StdDevMultiplier float64  `mapstructure:"stddev_multiplier"` // 标准差倍数，典型值0.1
	BandType         BandType `mapstructure:"band_type"`         // 目标轨道
	Priority         int      `mapstructure:"priority"`          // 优先级，1为最高
	ExpectedProfit   float64  `mapstructure:"expected_profit"`   // 历史回测预期收益（百分比）
}

// BandsConfig 布林带影线触碰策略配置
type BandsConfig struct {
	Enabled    bool         `mapstructure:"enabled"`
	Symbol     string       `mapstructure:"symbol"`     // 如 BTCUSDT
	Timeframes []string     `mapstructure:"timeframes"` // K线周期列表，如 5m 15m
	Configs    []BandConfig `mapstructure:"configs"`    // 目标配置集合，启动时确定

	Tolerance            float64 `mapstructure:"tolerance"`              // 触碰相对容差，默认0.0001
	ExactMatchEpsilon    float64 `mapstructure:"exact_match_epsilon"`    // 精确触碰绝对价差，默认0.01
	SignificantWickRatio float64 `mapstructure:"significant_wick_ratio"` // 显著影线占比阈值，默认0.3
	MinConfidence        float64 `mapstructure:"min_confidence"`         // 触碰置信度下限，默认0.7
	LookbackPeriods      int     `mapstructure:"lookback_periods"`       // 补扫K线数，默认3
	BufferSize           int     `mapstructure:"buffer_size"`            // K线滑动窗口容量，默认200

	CooldownSeconds     int     `mapstructure:"cooldown_seconds"`       // 同配置信号冷却，默认3600
	StopLossPct         float64 `mapstructure:"stop_loss_pct"`          // 止损比例，默认0.30
	TakeProfitPct       float64 `mapstructure:"take_profit_pct"`        // 止盈比例，默认0.20
	MaxSignalAgeSeconds int     `mapstructure:"max_signal_age_seconds"` // 活跃信号最长存续，默认1296000（15天）
	MiddleBandBonus     float64 `mapstructure:"middle_band_bonus"`      // 中轨加成，默认0.15
	ExactMatchBonus     float64 `mapstructure:"exact_match_bonus"`      // 精确触碰加成，默认0.1
}

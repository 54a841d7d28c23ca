package config

import (
	"errors"
	"time"

	"btc-band-sentry/pkg/types"
	"github.com/spf13/viper"
)

// Load 加载配置
func Load() (*types.Config, error) {
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	setDefaults()

	// 读取环境变量
	viper.AutomaticEnv()

	// 优先尝试读取本地配置文件
	viper.SetConfigName("config.local")
	if err := viper.ReadInConfig(); err != nil {
		// 如果本地配置文件不存在，尝试读取默认配置文件
		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, err
			}
		}
	}

	var config types.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// 未配置目标布林带时使用回测筛选出的默认配置集
	if len(config.Strategy.Bands.Configs) == 0 {
		config.Strategy.Bands.Configs = DefaultBandConfigs()
	}

	return &config, nil
}

// DefaultBandConfigs 默认目标配置集，来自历史回测分析
func DefaultBandConfigs() []types.BandConfig {
	return []types.BandConfig{
		{ID: "VWMA_12_0.1", MAType: types.MATypeVWMA, Period: 12, StdDevMultiplier: 0.1, BandType: types.BandTypeMiddle, Priority: 1, ExpectedProfit: 28.51},
		{ID: "WMA_43_0.1", MAType: types.MATypeWMA, Period: 43, StdDevMultiplier: 0.1, BandType: types.BandTypeMiddle, Priority: 2, ExpectedProfit: 26.00},
		{ID: "SMA_9_0.1", MAType: types.MATypeSMA, Period: 9, StdDevMultiplier: 0.1, BandType: types.BandTypeMiddle, Priority: 3, ExpectedProfit: 24.80},
	}
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file_path", "logs")
	viper.SetDefault("log.max_size", 200)
	viper.SetDefault("log.max_age", 30)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.compress", false)
	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("dingtalk.webhook_url", "")
	viper.SetDefault("dingtalk.secret", "")
	viper.SetDefault("discord.webhook_url", "")
	viper.SetDefault("network.proxy", "")
	viper.SetDefault("network.timeout", 30*time.Second)
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen_addr", ":9101")
	viper.SetDefault("websocket.binance_endpoint", "wss://stream.binance.com:9443/ws")
	viper.SetDefault("websocket.reconnect_interval", 5*time.Second)
	viper.SetDefault("websocket.ping_interval", 20*time.Second)
	viper.SetDefault("websocket.max_reconnect_attempts", 10)

	viper.SetDefault("strategy.bands.enabled", true)
	viper.SetDefault("strategy.bands.symbol", "BTCUSDT")
	viper.SetDefault("strategy.bands.timeframes", []string{"5m", "15m"})
	viper.SetDefault("strategy.bands.tolerance", 0.0001)
	viper.SetDefault("strategy.bands.exact_match_epsilon", 0.01)
	viper.SetDefault("strategy.bands.significant_wick_ratio", 0.3)
	viper.SetDefault("strategy.bands.min_confidence", 0.7)
	viper.SetDefault("strategy.bands.lookback_periods", 3)
	viper.SetDefault("strategy.bands.buffer_size", 200)
	viper.SetDefault("strategy.bands.cooldown_seconds", 3600)
	viper.SetDefault("strategy.bands.stop_loss_pct", 0.30)
	viper.SetDefault("strategy.bands.take_profit_pct", 0.20)
	viper.SetDefault("strategy.bands.max_signal_age_seconds", 15*24*3600)
	viper.SetDefault("strategy.bands.middle_band_bonus", 0.15)
	viper.SetDefault("strategy.bands.exact_match_bonus", 0.1)

	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.max_idle_conns", 10)
	viper.SetDefault("database.mysql.max_open_conns", 50)
}

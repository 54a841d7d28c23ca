package websocket

import (
	"strconv"
	"strings"
	"time"
)

// parseMillis 毫秒时间戳转time.Time
func parseMillis(ms int64) time.Time {
	return time.Unix(ms/1000, (ms%1000)*1000000)
}

// parseFloat 解析浮点数
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// streamName 构建Binance K线流名称，如 btcusdt@kline_5m
func streamName(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// IntervalDuration 获取时间间隔的Duration
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 5 * time.Minute // 默认5分钟
	}
}

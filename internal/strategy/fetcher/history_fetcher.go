package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"btc-band-sentry/pkg/types"
	"go.uber.org/zap"
)

// HistoryKlineFetcher 历史K线数据获取器，用于启动预热指标缓冲区
type HistoryKlineFetcher struct {
	baseURL    string
	proxy      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHistoryKlineFetcher 创建历史K线获取器
func NewHistoryKlineFetcher(proxy string, timeout time.Duration) *HistoryKlineFetcher {
	client := &http.Client{
		Timeout: timeout,
	}

	// 设置代理
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			}
		}
	}

	return &HistoryKlineFetcher{
		baseURL:    "https://api.binance.com/api/v3",
		proxy:      proxy,
		timeout:    timeout,
		httpClient: client,
	}
}

// FetchHistoryKlines 获取历史K线数据（Binance返回从旧到新排序）
// 最后一根为尚未收盘的当前K线，会被丢弃
func (h *HistoryKlineFetcher) FetchHistoryKlines(symbol, interval string, limit int) ([]*types.KLine, error) {
	// Binance会额外返回当前未收盘K线，多取一根保证收盘K线数量足够
	requestURL := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&limit=%d",
		h.baseURL, symbol, interval, limit+1)

	zap.L().Info("📊 获取历史K线数据",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("limit", limit),
		zap.String("url", requestURL))

	req, err := http.NewRequest("GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %v", err)
	}

	req.Header.Set("User-Agent", "BTC-Band-Sentry/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP响应错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	// Binance K线响应为二维数组，字段类型混合（时间戳为数字，价格为字符串）
	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("解析JSON失败: %v", err)
	}

	klines := make([]*types.KLine, 0, len(rawKlines))
	for _, data := range rawKlines {
		kline, err := h.parseBinanceKlineData(symbol, data, interval)
		if err != nil {
			zap.L().Warn("解析历史K线数据失败", zap.Error(err))
			continue
		}

		klines = append(klines, kline)
	}

	// 丢弃最后一根未收盘K线
	if len(klines) > 0 && klines[len(klines)-1].CloseTime.After(time.Now()) {
		klines = klines[:len(klines)-1]
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}

	zap.L().Info("✅ 历史K线数据获取完成",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("requested", limit),
		zap.Int("received", len(klines)))

	return klines, nil
}

// parseBinanceKlineData 解析Binance K线数据格式
// [openTime, open, high, low, close, volume, closeTime, ...]
func (h *HistoryKlineFetcher) parseBinanceKlineData(symbol string, data []interface{}, interval string) (*types.KLine, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("K线数据格式不正确: 字段数=%d", len(data))
	}

	openTime, ok := data[0].(float64)
	if !ok {
		return nil, fmt.Errorf("解析开盘时间失败")
	}

	closeTime, ok := data[6].(float64)
	if !ok {
		return nil, fmt.Errorf("解析收盘时间失败")
	}

	open, err := parsePriceField(data[1])
	if err != nil {
		return nil, fmt.Errorf("解析开盘价失败: %v", err)
	}

	high, err := parsePriceField(data[2])
	if err != nil {
		return nil, fmt.Errorf("解析最高价失败: %v", err)
	}

	low, err := parsePriceField(data[3])
	if err != nil {
		return nil, fmt.Errorf("解析最低价失败: %v", err)
	}

	closePrice, err := parsePriceField(data[4])
	if err != nil {
		return nil, fmt.Errorf("解析收盘价失败: %v", err)
	}

	volume, err := parsePriceField(data[5])
	if err != nil {
		return nil, fmt.Errorf("解析成交量失败: %v", err)
	}

	return &types.KLine{
		Symbol:    symbol,
		OpenTime:  time.Unix(int64(openTime)/1000, (int64(openTime)%1000)*1000000),
		CloseTime: time.Unix(int64(closeTime)/1000, (int64(closeTime)%1000)*1000000),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Interval:  interval,
	}, nil
}

// parsePriceField Binance价格与成交量字段为字符串
func parsePriceField(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("字段类型不是字符串: %T", v)
	}
	return strconv.ParseFloat(s, 64)
}

// FetchMultipleIntervalsHistory 批量获取同一交易对多个周期的历史数据
func (h *HistoryKlineFetcher) FetchMultipleIntervalsHistory(symbol string, intervals []string, limit int) (map[string][]*types.KLine, error) {
	result := make(map[string][]*types.KLine)

	for i, interval := range intervals {
		// Binance限速权重充裕，保守间隔200毫秒
		if i > 0 {
			time.Sleep(200 * time.Millisecond)
		}

		klines, err := h.FetchHistoryKlines(symbol, interval, limit)
		if err != nil {
			zap.L().Error("获取历史K线失败",
				zap.String("symbol", symbol),
				zap.String("interval", interval),
				zap.Error(err))
			// 继续处理其他周期，不中断整个过程
			continue
		}

		result[interval] = klines

		zap.L().Debug("✅ 完成历史数据获取",
			zap.String("interval", interval),
			zap.Int("klines_count", len(klines)))
	}

	return result, nil
}

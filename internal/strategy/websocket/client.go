package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"btc-band-sentry/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client Binance WebSocket客户端，仅向下游转发已收盘K线
type Client struct {
	endpoint      string
	proxy         string
	conn          *websocket.Conn
	mu            sync.RWMutex
	isConnected   bool
	reconnectChan chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	klineChan     chan *types.KLine
	config        types.WebSocketConfig
	subscriptions []string
}

// BinanceKlineEvent Binance K线推送
type BinanceKlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// BinanceSubscription Binance订阅消息
type BinanceSubscription struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// NewClient 创建新的WebSocket客户端
func NewClient(endpoint, proxy string, config types.WebSocketConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		endpoint:      endpoint,
		proxy:         proxy,
		reconnectChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		klineChan:     make(chan *types.KLine, 1000), // 缓冲1000个K线数据
		config:        config,
	}
}

// Connect 建立WebSocket连接
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 设置Dialer
	dialer := websocket.DefaultDialer
	if c.proxy != "" {
		proxyURL, err := url.Parse(c.proxy)
		if err != nil {
			return fmt.Errorf("解析代理URL失败: %v", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	// 建立连接
	conn, _, err := dialer.Dial(c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("WebSocket连接失败: %v", err)
	}

	c.conn = conn
	c.isConnected = true

	zap.L().Info("✅ WebSocket连接建立成功",
		zap.String("endpoint", c.endpoint),
		zap.String("proxy", c.proxy))

	return nil
}

// Subscribe 订阅K线数据流
func (c *Client) Subscribe(symbol string, intervals []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected || c.conn == nil {
		return fmt.Errorf("WebSocket未连接")
	}

	// 构建订阅消息，如 btcusdt@kline_5m
	params := make([]string, 0, len(intervals))
	for _, interval := range intervals {
		params = append(params, streamName(symbol, interval))
	}
	c.subscriptions = params

	subscription := BinanceSubscription{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     1,
	}

	if err := c.conn.WriteJSON(subscription); err != nil {
		return fmt.Errorf("发送订阅消息失败: %v", err)
	}

	zap.L().Info("📊 已订阅K线数据",
		zap.String("symbol", symbol),
		zap.Strings("streams", params))

	return nil
}

// StartReading 开始读取WebSocket数据
func (c *Client) StartReading() {
	go c.readLoop()
	go c.reconnectLoop()
	go c.pingLoop()
}

// readLoop 读取数据循环
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("WebSocket读取panic", zap.Any("error", r))
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				time.Sleep(time.Second)
				continue
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				zap.L().Error("WebSocket读取消息失败", zap.Error(err))
				c.handleDisconnect()
				continue
			}

			if err := c.parseKlineEvent(message); err != nil {
				zap.L().Warn("解析K线数据失败", zap.Error(err))
			}
		}
	}
}

// parseKlineEvent 解析K线推送，仅转发已收盘的K线
func (c *Client) parseKlineEvent(message []byte) error {
	var event BinanceKlineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return err
	}

	// 忽略订阅确认等非K线消息
	if event.EventType != "kline" {
		return nil
	}

	// 未收盘的K线不进入决策管道
	if !event.Kline.IsClosed {
		return nil
	}

	kline, err := c.convertKlineEvent(&event)
	if err != nil {
		return err
	}

	select {
	case c.klineChan <- kline:
	default:
		zap.L().Warn("K线数据通道满，丢弃数据",
			zap.String("symbol", kline.Symbol),
			zap.String("interval", kline.Interval))
	}

	return nil
}

// convertKlineEvent 转换Binance K线格式为内部格式
func (c *Client) convertKlineEvent(event *BinanceKlineEvent) (*types.KLine, error) {
	open, err := parseFloat(event.Kline.Open)
	if err != nil {
		return nil, fmt.Errorf("解析开盘价失败: %v", err)
	}

	high, err := parseFloat(event.Kline.High)
	if err != nil {
		return nil, fmt.Errorf("解析最高价失败: %v", err)
	}

	low, err := parseFloat(event.Kline.Low)
	if err != nil {
		return nil, fmt.Errorf("解析最低价失败: %v", err)
	}

	closePrice, err := parseFloat(event.Kline.Close)
	if err != nil {
		return nil, fmt.Errorf("解析收盘价失败: %v", err)
	}

	volume, err := parseFloat(event.Kline.Volume)
	if err != nil {
		return nil, fmt.Errorf("解析成交量失败: %v", err)
	}

	return &types.KLine{
		Symbol:    event.Symbol,
		OpenTime:  parseMillis(event.Kline.OpenTime),
		CloseTime: parseMillis(event.Kline.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Interval:  event.Kline.Interval,
	}, nil
}

// reconnectLoop 重连循环
func (c *Client) reconnectLoop() {
	ticker := time.NewTicker(c.config.ReconnectInterval)
	defer ticker.Stop()

	reconnectAttempts := 0

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectChan:
			reconnectAttempts++
			if reconnectAttempts > c.config.MaxReconnectAttempts {
				zap.L().Error("达到最大重连次数，停止重连",
					zap.Int("max_attempts", c.config.MaxReconnectAttempts))
				return
			}

			zap.L().Info("尝试重连WebSocket",
				zap.Int("attempt", reconnectAttempts),
				zap.Int("max_attempts", c.config.MaxReconnectAttempts))

			if err := c.Connect(); err != nil {
				zap.L().Error("重连失败", zap.Error(err))
				time.Sleep(c.config.ReconnectInterval)
				c.reconnectChan <- struct{}{}
				continue
			}

			// 重连成功后需要重新订阅
			if err := c.resubscribe(); err != nil {
				zap.L().Error("重新订阅失败", zap.Error(err))
				c.handleDisconnect()
				continue
			}

			reconnectAttempts = 0
			zap.L().Info("WebSocket重连成功")
		}
	}
}

// resubscribe 按已有订阅列表重新订阅
func (c *Client) resubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subscriptions) == 0 || c.conn == nil {
		return nil
	}

	return c.conn.WriteJSON(BinanceSubscription{
		Method: "SUBSCRIBE",
		Params: c.subscriptions,
		ID:     1,
	})
}

// pingLoop 心跳循环
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			isConnected := c.isConnected
			c.mu.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				zap.L().Error("发送心跳失败", zap.Error(err))
				c.handleDisconnect()
			}
		}
	}
}

// handleDisconnect 处理断线
func (c *Client) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false

	// 触发重连
	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

// GetKlineChannel 获取K线数据通道
func (c *Client) GetKlineChannel() <-chan *types.KLine {
	return c.klineChan
}

// Close 关闭WebSocket连接
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.isConnected = false
		return err
	}

	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

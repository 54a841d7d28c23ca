package websocket

import (
	"testing"
	"time"

	"btc-band-sentry/pkg/types"
)

func testClient() *Client {
	return NewClient("wss://stream.binance.com:9443/ws", "", types.WebSocketConfig{
		ReconnectInterval:    5 * time.Second,
		PingInterval:         20 * time.Second,
		MaxReconnectAttempts: 10,
	})
}

func TestParseKlineEventClosed(t *testing.T) {
	c := testClient()

	message := []byte(`{"e":"kline","E":1735732800100,"s":"BTCUSDT","k":{"t":1735732500000,"T":1735732799999,"s":"BTCUSDT","i":"5m","o":"95000.10","c":"95100.20","h":"95200.00","l":"94900.50","v":"123.45","x":true}}`)

	if err := c.parseKlineEvent(message); err != nil {
		t.Fatalf("parseKlineEvent: %v", err)
	}

	select {
	case kline := <-c.GetKlineChannel():
		if kline.Symbol != "BTCUSDT" || kline.Interval != "5m" {
			t.Errorf("基础字段错误: %+v", kline)
		}
		if kline.Open != 95000.10 || kline.High != 95200.00 || kline.Low != 94900.50 || kline.Close != 95100.20 {
			t.Errorf("价格字段错误: %+v", kline)
		}
		if kline.Volume != 123.45 {
			t.Errorf("成交量错误: %v", kline.Volume)
		}
		if kline.OpenTime.UnixMilli() != 1735732500000 {
			t.Errorf("开盘时间错误: %v", kline.OpenTime)
		}
	default:
		t.Fatal("已收盘K线应进入通道")
	}
}

func TestParseKlineEventOpenCandleSkipped(t *testing.T) {
	c := testClient()

	// 未收盘的K线不转发
	message := []byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1735732500000,"T":1735732799999,"i":"5m","o":"95000","c":"95100","h":"95200","l":"94900","v":"1","x":false}}`)

	if err := c.parseKlineEvent(message); err != nil {
		t.Fatalf("parseKlineEvent: %v", err)
	}

	select {
	case <-c.GetKlineChannel():
		t.Fatal("未收盘K线不应进入通道")
	default:
	}
}

func TestParseKlineEventIgnoresSubscribeAck(t *testing.T) {
	c := testClient()

	// 订阅确认消息没有e字段，直接忽略
	if err := c.parseKlineEvent([]byte(`{"result":null,"id":1}`)); err != nil {
		t.Fatalf("订阅确认不应报错: %v", err)
	}

	select {
	case <-c.GetKlineChannel():
		t.Fatal("订阅确认不应产生K线")
	default:
	}
}

func TestStreamName(t *testing.T) {
	if got := streamName("BTCUSDT", "5m"); got != "btcusdt@kline_5m" {
		t.Errorf("streamName: %s", got)
	}
}

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		interval string
		want     time.Duration
	}{
		{"1m", time.Minute},
		{"5m", 5 * time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
		{"unknown", 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := IntervalDuration(tt.interval); got != tt.want {
			t.Errorf("IntervalDuration(%s) = %v, 期望 %v", tt.interval, got, tt.want)
		}
	}
}

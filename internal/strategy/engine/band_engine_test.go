package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"btc-band-sentry/pkg/types"
)

func testEngine(bufferSize int) *BandEngine {
	return &BandEngine{
		config: types.BandsConfig{
			BufferSize:      bufferSize,
			LookbackPeriods: 3,
		},
		klineBuffer:  make(map[string][]*types.KLine),
		lastOpenTime: make(map[string]time.Time),
	}
}

func kline(openTime time.Time, interval string) *types.KLine {
	return &types.KLine{
		Symbol:    "BTCUSDT",
		OpenTime:  openTime,
		CloseTime: openTime.Add(5 * time.Minute),
		Open:      100,
		High:      105,
		Low:       95,
		Close:     102,
		Volume:    1,
		Interval:  interval,
	}
}

func TestKlineBufferEviction(t *testing.T) {
	be := testEngine(5)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		be.updateKlineBuffer("5m", kline(base.Add(time.Duration(i)*5*time.Minute), "5m"))
	}

	klines := be.getKlineHistory("5m")
	if len(klines) != 5 {
		t.Fatalf("缓冲区应固定为5，得到 %d", len(klines))
	}
	// 最旧的K线被淘汰，保留最近5根
	if !klines[0].OpenTime.Equal(base.Add(15 * time.Minute)) {
		t.Errorf("最旧K线应为第4根: %v", klines[0].OpenTime)
	}
	if !klines[4].OpenTime.Equal(base.Add(35 * time.Minute)) {
		t.Errorf("最新K线应为第8根: %v", klines[4].OpenTime)
	}
}

func TestKlineBufferTimeframeIsolation(t *testing.T) {
	be := testEngine(10)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	be.updateKlineBuffer("5m", kline(base, "5m"))
	be.updateKlineBuffer("15m", kline(base, "15m"))
	be.updateKlineBuffer("5m", kline(base.Add(5*time.Minute), "5m"))

	if len(be.getKlineHistory("5m")) != 2 {
		t.Errorf("5m缓冲区应为2根")
	}
	if len(be.getKlineHistory("15m")) != 1 {
		t.Errorf("15m缓冲区应为1根")
	}
}

func TestDetectGap(t *testing.T) {
	be := testEngine(10)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// 首根K线没有参照，不算断流
	if be.detectGap("5m", kline(base, "5m")) {
		t.Error("首根K线不应判定断流")
	}

	// 连续K线
	if be.detectGap("5m", kline(base.Add(5*time.Minute), "5m")) {
		t.Error("连续K线不应判定断流")
	}

	// 跳过两根
	if !be.detectGap("5m", kline(base.Add(20*time.Minute), "5m")) {
		t.Error("跳过两根K线应判定断流")
	}

	// 断流后恢复连续
	if be.detectGap("5m", kline(base.Add(25*time.Minute), "5m")) {
		t.Error("恢复连续后不应判定断流")
	}
}

func TestLatestTouchPerConfig(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	touches := []*types.WickTouch{
		{ConfigID: "SMA_9_0.1", Timestamp: base, BandType: types.BandTypeMiddle},
		{ConfigID: "SMA_9_0.1", Timestamp: base.Add(5 * time.Minute), BandType: types.BandTypeLower},
		{ConfigID: "WMA_43_0.1", Timestamp: base, BandType: types.BandTypeMiddle},
	}

	result := latestTouchPerConfig(touches)
	if len(result) != 2 {
		t.Fatalf("每条配置应只保留一次触碰，得到 %d", len(result))
	}

	for _, touch := range result {
		if touch.ConfigID == "SMA_9_0.1" && !touch.Timestamp.Equal(base.Add(5*time.Minute)) {
			t.Errorf("应保留最近的触碰: %v", touch.Timestamp)
		}
	}
}

func TestTrackedGoroutineCompletesBeforeShutdown(t *testing.T) {
	be := testEngine(5)

	// 异步落库协程受WaitGroup跟踪，等待结束后才允许关闭存储层
	var persisted int32
	be.goTracked(func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&persisted, 1)
	})

	be.wg.Wait()
	if atomic.LoadInt32(&persisted) != 1 {
		t.Error("WaitGroup应等待落库协程完成")
	}
}

func TestCooldownKeyRoundTrip(t *testing.T) {
	key := cooldownKey("5m", "SMA_9_0.1")
	if key != "5m:SMA_9_0.1" {
		t.Errorf("冷却键格式错误: %s", key)
	}
}

package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Prometheus指标集合
var (
	// CandlesProcessed 已处理的收盘K线数
	CandlesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "band_sentry",
		Name:      "candles_processed_total",
		Help:      "已处理的收盘K线总数",
	}, []string{"timeframe"})

	// TouchesDetected 检出的影线触碰数
	TouchesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "band_sentry",
		Name:      "wick_touches_detected_total",
		Help:      "检出的影线触碰总数",
	}, []string{"timeframe", "config_id"})

	// SignalsEmitted 发出的交易信号数
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "band_sentry",
		Name:      "signals_emitted_total",
		Help:      "发出的交易信号总数",
	}, []string{"timeframe", "config_id", "direction"})

	// ActiveSignals 当前活跃信号数
	ActiveSignals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "band_sentry",
		Name:      "active_signals",
		Help:      "登记表中的活跃信号数",
	}, []string{"timeframe"})

	// WebSocketConnected WebSocket连接状态
	WebSocketConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "band_sentry",
		Name:      "websocket_connected",
		Help:      "WebSocket连接状态（1为已连接）",
	})
)

// MetricsServer Prometheus指标HTTP服务
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer 创建指标服务
func NewMetricsServer(listenAddr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		},
	}
}

// Start 启动指标服务（非阻塞）
func (ms *MetricsServer) Start() {
	go func() {
		zap.L().Info("📊 Prometheus指标服务启动", zap.String("addr", ms.server.Addr))
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("指标服务异常退出", zap.Error(err))
		}
	}()
}

// Stop 停止指标服务
func (ms *MetricsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ms.server.Shutdown(ctx)
}

package types

import "time"

// Config 主配置结构
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DingTalk  DingTalkConfig  `mapstructure:"dingtalk"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Network   NetworkConfig   `mapstructure:"network"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	FilePath   string `mapstructure:"file_path"`   // 日志输出路径名
	MaxSize    int    `mapstructure:"max_size"`    // 日志文件大小 单位：MB，超限后会自动切割
	MaxAge     int    `mapstructure:"max_age"`     // 日志文件存放时间 单位：天
	MaxBackups int    `mapstructure:"max_backups"` // 日志文件备份数量
	Compress   bool   `mapstructure:"compress"`    // 日志文件压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DingTalkConfig 钉钉配置
type DingTalkConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Secret     string `mapstructure:"secret"`
}

// DiscordConfig Discord Webhook配置
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Proxy   string        `mapstructure:"proxy"`   // HTTP代理地址，如 http://127.0.0.1:7890
	Timeout time.Duration `mapstructure:"timeout"` // 网络超时时间
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// MetricsConfig Prometheus指标配置
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"` // 如 :9101
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	BinanceEndpoint      string        `mapstructure:"binance_endpoint"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"btc-band-sentry/pkg/types"
)

// DiscordNotifier Discord Webhook通知器
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	httpClient *http.Client
}

// DiscordMessage Discord Webhook消息结构
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	discordColorGreen = 0x00C851
	discordColorRed   = 0xFF4444
)

func NewDiscordNotifier(webhookURL string) Interface {
	// 如果没有配置webhook URL，返回控制台通知器
	if webhookURL == "" {
		fmt.Println("🔧 未配置Discord Webhook URL，使用控制台输出模式")
		return NewConsoleNotifier()
	}

	fmt.Println("✅ 已配置Discord通知服务")

	return &DiscordNotifier{
		webhookURL: webhookURL,
		enabled:    true,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (dn *DiscordNotifier) SendSignal(signal *types.TradingSignal) error {
	if !dn.enabled {
		console := NewConsoleNotifier()
		return console.SendSignal(signal)
	}

	message := &DiscordMessage{
		Embeds: []DiscordEmbed{dn.buildEmbed(signal)},
	}

	if err := dn.sendDiscordMessage(message); err != nil {
		fmt.Printf("❌ Discord发送失败: %v，降级为控制台输出\n", err)
		console := NewConsoleNotifier()
		return console.SendSignal(signal)
	}

	fmt.Printf("✅ Discord通知已发送: %s %s 置信度%.2f\n",
		signal.Symbol, signal.Direction, signal.Confidence)

	return nil
}

func (dn *DiscordNotifier) SendBatchSignals(signals []*types.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	if len(signals) == 1 {
		return dn.SendSignal(signals[0])
	}

	if !dn.enabled {
		console := NewConsoleNotifier()
		return console.SendBatchSignals(signals)
	}

	// Discord单条消息最多10个embed
	embeds := make([]DiscordEmbed, 0, len(signals))
	for i, signal := range signals {
		if i >= 10 {
			break
		}
		embeds = append(embeds, dn.buildEmbed(signal))
	}

	message := &DiscordMessage{
		Content: fmt.Sprintf("🎯 布林带批量信号 - %d个", len(signals)),
		Embeds:  embeds,
	}

	if err := dn.sendDiscordMessage(message); err != nil {
		fmt.Printf("❌ Discord批量发送失败: %v，降级为控制台输出\n", err)
		console := NewConsoleNotifier()
		return console.SendBatchSignals(signals)
	}

	fmt.Printf("✅ Discord批量通知已发送: %d个信号\n", len(signals))
	return nil
}

// buildEmbed 构建信号Embed
func (dn *DiscordNotifier) buildEmbed(signal *types.TradingSignal) DiscordEmbed {
	arrow := "📈"
	color := discordColorGreen
	if signal.Direction == types.DirectionShort {
		arrow = "📉"
		color = discordColorRed
	}

	return DiscordEmbed{
		Title: fmt.Sprintf("%s %s %s信号", arrow, signal.Symbol, directionLabel(signal.Direction)),
		Description: fmt.Sprintf("策略配置 **%s** (%s周期)，影线触碰%s轨道",
			signal.ConfigID, signal.Timeframe, signal.BandType),
		Color: color,
		Fields: []DiscordEmbedField{
			{Name: "入场价格", Value: fmt.Sprintf("$%.2f", signal.EntryPrice), Inline: true},
			{Name: "止损价格", Value: fmt.Sprintf("$%.2f", signal.StopLoss), Inline: true},
			{Name: "止盈价格", Value: fmt.Sprintf("$%.2f", signal.TakeProfit), Inline: true},
			{Name: "置信度", Value: fmt.Sprintf("%.2f", signal.Confidence), Inline: true},
			{Name: "历史收益率", Value: fmt.Sprintf("%.2f%%", signal.ExpectedProfit), Inline: true},
			{Name: "触碰类型", Value: string(signal.WickTouchType), Inline: true},
		},
		Timestamp: signal.Timestamp.UTC().Format(time.RFC3339),
	}
}

// sendDiscordMessage 发送Discord Webhook消息
func (dn *DiscordNotifier) sendDiscordMessage(message *DiscordMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	resp, err := dn.httpClient.Post(dn.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	// Discord Webhook成功返回204
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Discord API错误: %d", resp.StatusCode)
	}

	return nil
}

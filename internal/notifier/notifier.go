package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"btc-band-sentry/pkg/types"
)

// safePadding 安全地计算填充空格数量，避免负数
func safePadding(content string, totalWidth int) int {
	// 使用utf8.RuneCountInString计算实际显示字符数，而不是字节数
	runeCount := utf8.RuneCountInString(content)
	padding := totalWidth - runeCount - 4 // 4是边框字符数
	if padding < 0 {
		padding = 0
	}
	return padding
}

// directionLabel 方向的中文描述
func directionLabel(direction types.Direction) string {
	if direction == types.DirectionLong {
		return "做多"
	}
	return "做空"
}

// buildTradingURL 根据交易对生成交易链接
func buildTradingURL(symbol string) string {
	pair := strings.ReplaceAll(symbol, "-", "")
	return fmt.Sprintf("https://www.binance.com/zh-CN/trade/%s", pair)
}

// Interface 通知接口
type Interface interface {
	SendSignal(signal *types.TradingSignal) error
	SendBatchSignals(signals []*types.TradingSignal) error
}

// ConsoleNotifier 控制台通知器
type ConsoleNotifier struct{}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (cn *ConsoleNotifier) SendSignal(signal *types.TradingSignal) error {
	cn.printSignal(signal)
	return nil
}

func (cn *ConsoleNotifier) SendBatchSignals(signals []*types.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	if len(signals) == 1 {
		return cn.SendSignal(signals[0])
	}

	cn.printBatchSignals(signals)
	return nil
}

func (cn *ConsoleNotifier) printSignal(signal *types.TradingSignal) {
	border := "╔" + strings.Repeat("═", 60) + "╗"
	bottomBorder := "╚" + strings.Repeat("═", 60) + "╝"

	arrow := "📈"
	if signal.Direction == types.DirectionShort {
		arrow = "📉"
	}

	fmt.Println()
	fmt.Println(border)
	fmt.Printf("║ %s 🎯 交易信号触发！%s ║\n", arrow, strings.Repeat(" ", 34))
	fmt.Println("║" + strings.Repeat(" ", 60) + "║")
	fmt.Printf("║ 交易对: %-47s ║\n", signal.Symbol)
	fmt.Printf("║ 策略配置: %-44s ║\n", signal.ConfigID)
	fmt.Printf("║ 方向: %s %-45s ║\n", arrow, directionLabel(signal.Direction))
	fmt.Printf("║ 入场价格: $%-43.2f ║\n", signal.EntryPrice)
	fmt.Printf("║ 止损价格: $%-43.2f ║\n", signal.StopLoss)
	fmt.Printf("║ 止盈价格: $%-43.2f ║\n", signal.TakeProfit)
	fmt.Printf("║ 置信度: %-46.2f ║\n", signal.Confidence)
	fmt.Printf("║ 历史收益率: %-40.2f%% ║\n", signal.ExpectedProfit)
	fmt.Printf("║ 周期: %-48s ║\n", signal.Timeframe)
	fmt.Printf("║ 信号时间: %-44s ║\n", signal.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Println("║" + strings.Repeat(" ", 60) + "║")

	if signal.Direction == types.DirectionLong {
		fmt.Printf("║ 💡 影线触及下方轨道，关注做多机会！%-20s ║\n", "")
	} else {
		fmt.Printf("║ 💡 影线触及上方轨道，关注做空机会！%-20s ║\n", "")
	}

	fmt.Println(bottomBorder)
	fmt.Println()
}

func (cn *ConsoleNotifier) printBatchSignals(signals []*types.TradingSignal) {
	// 分离做多和做空信号
	var longSignals []*types.TradingSignal
	var shortSignals []*types.TradingSignal

	for _, signal := range signals {
		if signal.Direction == types.DirectionLong {
			longSignals = append(longSignals, signal)
		} else {
			shortSignals = append(shortSignals, signal)
		}
	}

	// 按置信度从高到低排序
	sort.Slice(longSignals, func(i, j int) bool {
		return longSignals[i].Confidence > longSignals[j].Confidence
	})
	sort.Slice(shortSignals, func(i, j int) bool {
		return shortSignals[i].Confidence > shortSignals[j].Confidence
	})

	border := "╔" + strings.Repeat("═", 80) + "╗"
	bottomBorder := "╚" + strings.Repeat("═", 80) + "╝"

	fmt.Println()
	fmt.Println(border)

	title := fmt.Sprintf("🎯 批量交易信号触发！- %d个信号", len(signals))
	padding := safePadding(title, 80)
	fmt.Printf("║ %s%s ║\n", title, strings.Repeat(" ", padding))

	statsStr := fmt.Sprintf("📈 做多: %d个  📉 做空: %d个", len(longSignals), len(shortSignals))
	padding = safePadding(statsStr, 80)
	fmt.Printf("║ %s%s ║\n", statsStr, strings.Repeat(" ", padding))
	fmt.Println("║" + strings.Repeat(" ", 80) + "║")

	if len(longSignals) > 0 {
		sectionTitle := "📈 做多信号 (按置信度排序):"
		padding = safePadding(sectionTitle, 80)
		fmt.Printf("║ %s%s ║\n", sectionTitle, strings.Repeat(" ", padding))

		for i, signal := range longSignals {
			content := fmt.Sprintf("  %d. 📈 %s [%s]: 入场$%.2f 置信度%.2f",
				i+1, signal.Symbol, signal.ConfigID, signal.EntryPrice, signal.Confidence)
			padding := safePadding(content, 80)
			fmt.Printf("║ %s%s ║\n", content, strings.Repeat(" ", padding))
		}
		fmt.Println("║" + strings.Repeat(" ", 80) + "║")
	}

	if len(shortSignals) > 0 {
		sectionTitle := "📉 做空信号 (按置信度排序):"
		padding = safePadding(sectionTitle, 80)
		fmt.Printf("║ %s%s ║\n", sectionTitle, strings.Repeat(" ", padding))

		for i, signal := range shortSignals {
			content := fmt.Sprintf("  %d. 📉 %s [%s]: 入场$%.2f 置信度%.2f",
				i+1, signal.Symbol, signal.ConfigID, signal.EntryPrice, signal.Confidence)
			padding := safePadding(content, 80)
			fmt.Printf("║ %s%s ║\n", content, strings.Repeat(" ", padding))
		}
		fmt.Println("║" + strings.Repeat(" ", 80) + "║")
	}

	timeStr := fmt.Sprintf("信号时间: %s", signals[0].Timestamp.Format("2006-01-02 15:04:05"))
	padding = safePadding(timeStr, 80)
	fmt.Printf("║ %s%s ║\n", timeStr, strings.Repeat(" ", padding))

	fmt.Println("║" + strings.Repeat(" ", 80) + "║")

	msg := "💡 多条配置同时出信号，请结合仓位管理谨慎操作！"
	padding = safePadding(msg, 80)
	fmt.Printf("║ %s%s ║\n", msg, strings.Repeat(" ", padding))

	fmt.Println(bottomBorder)
	fmt.Println()
}

// DingTalkNotifier 钉钉通知器
type DingTalkNotifier struct {
	webhookURL string
	secret     string
	enabled    bool
	httpClient *http.Client
}

// DingTalkMessage 钉钉消息结构
type DingTalkMessage struct {
	MsgType  string            `json:"msgtype"`
	Markdown *DingTalkMarkdown `json:"markdown,omitempty"`
	At       *DingTalkAt       `json:"at,omitempty"`
}

type DingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type DingTalkAt struct {
	AtAll bool `json:"isAtAll"`
}

// DingTalkResponse 钉钉API响应
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func NewDingTalkNotifier(webhookURL, secret string) Interface {
	// 如果没有配置webhook URL，返回控制台通知器
	if webhookURL == "" {
		fmt.Println("🔧 未配置钉钉Webhook URL，使用控制台输出模式")
		return NewConsoleNotifier()
	}

	if secret != "" {
		fmt.Println("✅ 已配置钉钉通知服务（含加签验证）")
	} else {
		fmt.Println("⚠️ 钉钉通知已配置，但未设置secret（建议配置加签验证）")
	}

	return &DingTalkNotifier{
		webhookURL: webhookURL,
		secret:     secret,
		enabled:    true,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (dtn *DingTalkNotifier) SendSignal(signal *types.TradingSignal) error {
	if !dtn.enabled {
		console := NewConsoleNotifier()
		return console.SendSignal(signal)
	}

	title := fmt.Sprintf("🎯 布林带信号 - %s %s", signal.Symbol, directionLabel(signal.Direction))
	content := dtn.buildMarkdownContent(signal)

	err := dtn.sendDingTalkMessage(title, content)
	if err != nil {
		fmt.Printf("❌ 钉钉发送失败: %v，降级为控制台输出\n", err)
		console := NewConsoleNotifier()
		return console.SendSignal(signal)
	}

	fmt.Printf("✅ 钉钉通知已发送: %s %s 置信度%.2f\n",
		signal.Symbol, signal.Direction, signal.Confidence)

	return nil
}

func (dtn *DingTalkNotifier) SendBatchSignals(signals []*types.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	if len(signals) == 1 {
		return dtn.SendSignal(signals[0])
	}

	if !dtn.enabled {
		console := NewConsoleNotifier()
		return console.SendBatchSignals(signals)
	}

	title := fmt.Sprintf("📊 布林带批量信号 - %d个", len(signals))
	content := dtn.buildBatchMarkdownContent(signals)

	err := dtn.sendDingTalkMessage(title, content)
	if err != nil {
		fmt.Printf("❌ 钉钉批量发送失败: %v，降级为控制台输出\n", err)
		console := NewConsoleNotifier()
		return console.SendBatchSignals(signals)
	}

	fmt.Printf("✅ 钉钉批量通知已发送: %d个信号\n", len(signals))
	return nil
}

// generateSignature 生成钉钉加签
func (dtn *DingTalkNotifier) generateSignature(timestamp int64) (string, error) {
	if dtn.secret == "" {
		return "", nil // 没有secret则不加签
	}

	// 按照文档要求: timestamp + "\n" + secret
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dtn.secret)

	// HMAC-SHA256签名
	h := hmac.New(sha256.New, []byte(dtn.secret))
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// URL编码
	return url.QueryEscape(signature), nil
}

// buildSignedURL 构建带签名的URL
func (dtn *DingTalkNotifier) buildSignedURL() (string, error) {
	timestamp := time.Now().UnixNano() / 1e6 // 毫秒时间戳

	if dtn.secret == "" {
		return dtn.webhookURL, nil
	}

	signature, err := dtn.generateSignature(timestamp)
	if err != nil {
		return "", err
	}

	// 添加timestamp和sign参数
	separator := "&"
	if !strings.Contains(dtn.webhookURL, "?") {
		separator = "?"
	}

	return fmt.Sprintf("%s%stimestamp=%d&sign=%s",
		dtn.webhookURL, separator, timestamp, signature), nil
}

// buildMarkdownContent 构建单个信号的Markdown内容
func (dtn *DingTalkNotifier) buildMarkdownContent(signal *types.TradingSignal) string {
	arrow := "📈"
	color := "green"
	if signal.Direction == types.DirectionShort {
		arrow = "📉"
		color = "red"
	}

	tradingURL := buildTradingURL(signal.Symbol)

	content := fmt.Sprintf(`## %s 布林带影线信号

**交易对**: [%s](%s)
**策略配置**: %s (%s周期)
**方向**: <font color="%s">%s %s</font>
**入场价格**: $%.2f
**止损价格**: $%.2f
**止盈价格**: $%.2f
**置信度**: %.2f
**历史收益率**: %.2f%%
**触碰类型**: %s / %s
**信号时间**: %s

> %s 影线触碰轨道，请结合仓位管理执行！`,
		arrow,
		signal.Symbol, tradingURL,
		signal.ConfigID, signal.Timeframe,
		color, arrow, directionLabel(signal.Direction),
		signal.EntryPrice,
		signal.StopLoss,
		signal.TakeProfit,
		signal.Confidence,
		signal.ExpectedProfit,
		signal.WickTouchType, signal.BandType,
		signal.Timestamp.Format("2006-01-02 15:04:05"),
		arrow)

	return content
}

// buildBatchMarkdownContent 构建批量信号的Markdown内容
func (dtn *DingTalkNotifier) buildBatchMarkdownContent(signals []*types.TradingSignal) string {
	var longSignals []*types.TradingSignal
	var shortSignals []*types.TradingSignal

	for _, signal := range signals {
		if signal.Direction == types.DirectionLong {
			longSignals = append(longSignals, signal)
		} else {
			shortSignals = append(shortSignals, signal)
		}
	}

	// 按置信度从高到低排序
	sort.Slice(longSignals, func(i, j int) bool {
		return longSignals[i].Confidence > longSignals[j].Confidence
	})
	sort.Slice(shortSignals, func(i, j int) bool {
		return shortSignals[i].Confidence > shortSignals[j].Confidence
	})

	content := fmt.Sprintf(`## 🎯 布林带批量信号

**信号统计**:
📈 做多信号: <font color="green">%d个</font>
📉 做空信号: <font color="red">%d个</font>
🕐 信号时间: %s

**详细列表**:
`, len(longSignals), len(shortSignals), signals[0].Timestamp.Format("2006-01-02 15:04:05"))

	if len(longSignals) > 0 {
		content += "**📈 做多信号**:\n"
		for _, signal := range longSignals {
			content += fmt.Sprintf("- 📈 **%s** [%s/%s]: 入场$%.2f 止损$%.2f 止盈$%.2f 置信度<font color=\"green\">%.2f</font>\n",
				signal.Symbol, signal.ConfigID, signal.Timeframe,
				signal.EntryPrice, signal.StopLoss, signal.TakeProfit, signal.Confidence)
		}
		content += "\n"
	}

	if len(shortSignals) > 0 {
		content += "**📉 做空信号**:\n"
		for _, signal := range shortSignals {
			content += fmt.Sprintf("- 📉 **%s** [%s/%s]: 入场$%.2f 止损$%.2f 止盈$%.2f 置信度<font color=\"red\">%.2f</font>\n",
				signal.Symbol, signal.ConfigID, signal.Timeframe,
				signal.EntryPrice, signal.StopLoss, signal.TakeProfit, signal.Confidence)
		}
	}

	content += "\n> ⚠️ 多条配置同时出信号，请谨慎控制总仓位！"

	return content
}

// sendDingTalkMessage 发送钉钉消息
func (dtn *DingTalkNotifier) sendDingTalkMessage(title, content string) error {
	// 构建带签名的URL
	signedURL, err := dtn.buildSignedURL()
	if err != nil {
		return fmt.Errorf("生成签名失败: %v", err)
	}

	// 构建消息体
	message := &DingTalkMessage{
		MsgType: "markdown",
		Markdown: &DingTalkMarkdown{
			Title: title,
			Text:  content,
		},
		At: &DingTalkAt{
			AtAll: false, // 不@所有人，避免过度打扰
		},
	}

	// 序列化为JSON
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	// 发送HTTP请求
	resp, err := dtn.httpClient.Post(signedURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	// 解析响应
	var dingResp DingTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&dingResp); err != nil {
		return fmt.Errorf("解析响应失败: %v", err)
	}

	// 检查返回结果
	if dingResp.ErrCode != 0 {
		return fmt.Errorf("钉钉API错误 [%d]: %s", dingResp.ErrCode, dingResp.ErrMsg)
	}

	return nil
}

package notifier

import "btc-band-sentry/pkg/types"

// NewFromConfig 按配置选择通知渠道：Discord优先，其次钉钉，都未配置时退化为控制台
func NewFromConfig(cfg *types.Config) Interface {
	if cfg.Discord.WebhookURL != "" {
		return NewDiscordNotifier(cfg.Discord.WebhookURL)
	}
	if cfg.DingTalk.WebhookURL != "" {
		return NewDingTalkNotifier(cfg.DingTalk.WebhookURL, cfg.DingTalk.Secret)
	}
	return NewConsoleNotifier()
}

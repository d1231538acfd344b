package telegram

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/formbot/core/config"

	tele "gopkg.in/telebot.v4"
)

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
	// SecretToken is echoed by Telegram in X-Telegram-Bot-Api-Secret-Token.
	SecretToken string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
}

// BuildPoller returns a Telebot poller based on provided options.
func BuildPoller(opts PollerOptions) tele.Poller {
	runMode := strings.ToLower(strings.TrimSpace(opts.RunMode))
	if runMode == coreconfig.RunModeWebhook {
		return &tele.Webhook{
			Listen:      fmt.Sprintf("%s:%d", opts.Webhook.Listen, opts.Webhook.Port),
			Endpoint:    &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
			SecretToken: opts.Webhook.SecretToken,
		}
	}

	return &tele.LongPoller{Timeout: time.Duration(longPollSeconds(opts.LongPollTimeoutSeconds)) * time.Second}
}

func longPollSeconds(configured int) int {
	if configured <= 0 {
		return 10
	}
	return configured
}

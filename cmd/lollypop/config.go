package main

import (
	"strings"

	"github.com/israel303/Lollypop/internal/relayruntime"
	"github.com/spf13/viper"
)

func runOptionsFromViper() relayruntime.RunOptions {
	return relayruntime.RunOptions{
		Mode: viper.GetString("mode"),

		BotToken:           viper.GetString("telegram.bot_token"),
		BaseURL:            viper.GetString("telegram.base_url"),
		RateLimit:          viper.GetFloat64("telegram.rate_limit"),
		RateBurst:          viper.GetInt("telegram.rate_burst"),
		RequestTimeout:     viper.GetDuration("telegram.request_timeout"),
		PollTimeout:        viper.GetDuration("telegram.poll_timeout"),
		DropPendingUpdates: viper.GetBool("telegram.drop_pending_updates"),

		AdminGroupID: viper.GetInt64("admin.group_id"),

		WebhookURL:         viper.GetString("webhook.url"),
		WebhookPath:        viper.GetString("webhook.path"),
		WebhookListen:      viper.GetString("webhook.listen"),
		WebhookPort:        viper.GetInt("webhook.port"),
		WebhookSecretToken: viper.GetString("webhook.secret_token"),

		BackupFileName:   viper.GetString("backup.filename"),
		BackupTag:        viper.GetString("backup.tag"),
		BackupFormat:     viper.GetString("backup.format"),
		BackupMode:       viper.GetString("backup.mode"),
		BackupPin:        viper.GetBool("backup.pin"),
		BackupThreadID:   viper.GetInt64("backup.thread_id"),
		BackupRecovery:   viper.GetString("backup.recovery"),
		BackupScanWindow: viper.GetInt("backup.scan_window"),
		BackupInterval:   viper.GetDuration("backup.interval"),
		BackupCron:       viper.GetString("backup.cron"),
		BackupOnShutdown: viper.GetBool("backup.on_shutdown"),
		BackupMirrorPath: strings.TrimSpace(viper.GetString("backup.mirror_path")),

		WelcomeText:   viper.GetString("relay.welcome_text"),
		IntroTemplate: viper.GetString("relay.intro_template"),

		QueueSize: viper.GetInt("dispatch.queue_size"),
	}
}
